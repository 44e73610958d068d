// Package project saves and opens project files through the bridge. The
// file content is whatever JSON the surface serializes; it is not
// interpreted here.
package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"ffedit/bridge"
)

const (
	SerializeMessage   = "serialize-project"
	DeserializeMessage = "deserialize-project"
	StatusMessage      = "message"

	// Extension is the file extension of project files.
	Extension = ".ffedit"
)

// ErrInvalid is returned for project data that is not JSON.
var ErrInvalid = errors.New("invalid project")

// FilePathUpdate tells a surface which file it is now editing.
type FilePathUpdate struct {
	Type     string `json:"type"`
	FullPath string `json:"fullPath"`
	FileName string `json:"fileName"`
}

func newFilePathUpdate(path string) FilePathUpdate {
	return FilePathUpdate{Type: "UPDATE_FILE_PATH", FullPath: path, FileName: filepath.Base(path)}
}

// Save asks target for its serialized project and writes it to path.
// The wait for the reply is bounded only by ctx.
func Save(ctx context.Context, b *bridge.Bridge, target, path string) error {
	fut, err := b.Request(target, SerializeMessage, nil)
	if err != nil {
		return err
	}
	data, err := fut.Wait(ctx)
	if err != nil {
		b.Abandon(fut)
		return fmt.Errorf("waiting for %s to serialize the project: %w", target, err)
	}
	if !json.Valid(data) {
		return fmt.Errorf("%w: surface %s returned data that is not JSON", ErrInvalid, target)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create project directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write project file %s: %w", path, err)
	}
	log.Printf("Saved project to %s.", path)

	if err := b.Notify(target, StatusMessage, newFilePathUpdate(path)); err != nil {
		log.Printf("Could not tell %s about the new file path: %v", target, err)
	}
	return nil
}

// Open reads the project at path and hands it to target.
func Open(b *bridge.Bridge, target, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read project file %s: %w", path, err)
	}
	if !json.Valid(data) {
		return fmt.Errorf("%w: %s is not JSON", ErrInvalid, path)
	}

	if err := b.Notify(target, DeserializeMessage, json.RawMessage(data)); err != nil {
		return err
	}
	if err := b.Notify(target, StatusMessage, newFilePathUpdate(path)); err != nil {
		log.Printf("Could not tell %s about the new file path: %v", target, err)
	}
	log.Printf("Opened project %s.", path)
	return nil
}
