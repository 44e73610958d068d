// Package media reads the natural dimensions of source clips.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"ffedit/geometry"
	"ffedit/metrics"
)

// Prober runs ffprobe and remembers what it found.
type Prober struct {
	bin   string
	cache *Cache
}

func NewProber(bin string, cacheSize int) *Prober {
	return &Prober{bin: bin, cache: NewCache(cacheSize)}
}

func (p *Prober) Cache() *Cache { return p.cache }

type probeOutput struct {
	Streams []struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"streams"`
}

// Probe returns the pixel size of the first video stream of path.
func (p *Prober) Probe(ctx context.Context, path string) (geometry.Size, error) {
	if size, ok := p.cache.Get(path); ok {
		metrics.ProbeCacheLookupsTotal.WithLabelValues("hit").Inc()
		return size, nil
	}
	metrics.ProbeCacheLookupsTotal.WithLabelValues("miss").Inc()

	cmd := exec.CommandContext(ctx, p.bin,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "json",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return geometry.Size{}, fmt.Errorf("ffprobe failed for %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}

	size, err := parseProbeOutput(stdout.Bytes())
	if err != nil {
		return geometry.Size{}, fmt.Errorf("%s: %w", path, err)
	}
	p.cache.Put(path, size)
	return size, nil
}

func parseProbeOutput(data []byte) (geometry.Size, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return geometry.Size{}, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	if len(out.Streams) == 0 {
		return geometry.Size{}, fmt.Errorf("no video stream")
	}
	s := out.Streams[0]
	if s.Width <= 0 || s.Height <= 0 {
		return geometry.Size{}, fmt.Errorf("video stream has no dimensions")
	}
	return geometry.Size{Width: s.Width, Height: s.Height}, nil
}
