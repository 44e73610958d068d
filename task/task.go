package task

import (
	"time"

	"ffedit/geometry"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// Target selects which preset of the export settings a task renders.
type Target string

const (
	TargetVideo  Target = "video"
	TargetPoster Target = "poster"
)

// ClipSource is a decoded source file. Index is optional; when set it
// prefixes the output file name.
type ClipSource struct {
	Path  string        `json:"path"`
	Name  string        `json:"name"`
	Index *int          `json:"index,omitempty"`
	Size  geometry.Size `json:"size"`
}

// OutputSpec describes one encoder output.
type OutputSpec struct {
	Size        geometry.Size `json:"size"`
	Destination string        `json:"destination"`
	Format      string        `json:"format"`
	Flags       string        `json:"flags"`
}

type Preset struct {
	Format string `json:"format"`
	Flags  string `json:"flags"`
}

// ExportSettings is the project-wide output configuration: one size and
// destination shared by every target, and a preset per target.
type ExportSettings struct {
	Size        geometry.Size `json:"size"`
	Destination string        `json:"destination"`
	Video       Preset        `json:"video"`
	Poster      Preset        `json:"poster"`
}

// Spec resolves the OutputSpec for target. Unknown targets fall back to video.
func (s ExportSettings) Spec(target Target) OutputSpec {
	p := s.Video
	if target == TargetPoster {
		p = s.Poster
	}
	return OutputSpec{
		Size:        s.Size,
		Destination: s.Destination,
		Format:      p.Format,
		Flags:       p.Flags,
	}
}

type Task struct {
	ID          string              `json:"id"`
	Status      Status              `json:"status"`
	Target      Target              `json:"target"`
	Clip        ClipSource          `json:"clip"`
	Bounds      geometry.CropBounds `json:"bounds"`
	Trim        geometry.TrimWindow `json:"trim"`
	Output      OutputSpec          `json:"output"`
	Args        []string            `json:"-"`
	OutputPath  string              `json:"outputPath,omitempty"`
	Error       string              `json:"error,omitempty"`
	ExitCode    int                 `json:"exitCode"`
	CreatedAt   time.Time           `json:"createdAt"`
	StartedAt   time.Time           `json:"startedAt,omitempty"`
	CompletedAt time.Time           `json:"completedAt,omitempty"`
	Log         string              `json:"log,omitempty"` // tail of the encoder's stderr
}

// Result is what a running encode resolves with. Task is the task the
// process was started for, so callers running several encodes can tell
// them apart.
type Result struct {
	Task      *Task
	ExitCode  int
	Cancelled bool
	Err       error
}

// Process is a started encode.
type Process interface {
	// Progress yields the encoder's diagnostic output in the order it was written.
	// It is closed when the stream ends or the process is cancelled.
	Progress() <-chan string
	// Done is closed once the result is available.
	Done() <-chan struct{}
	Result() Result
	// Cancel kills the process. It is a no-op once the process has completed.
	Cancel()
}
