package ffmpeg

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"ffedit/geometry"
	"ffedit/task"
)

// Invocation is a fully resolved encoder call.
type Invocation struct {
	Args     []string
	DestDir  string
	DestPath string
}

// BuildInvocation turns an edit description into encoder arguments. It is
// pure apart from resolving the home directory and the working directory
// used to make the destination absolute; it creates nothing.
func BuildInvocation(clip task.ClipSource, bounds geometry.CropBounds, trim geometry.TrimWindow, out task.OutputSpec) (*Invocation, error) {
	if err := validate(clip, bounds, trim, out); err != nil {
		return nil, err
	}

	crop := geometry.ComputeCrop(clip.Size, bounds.Clamp())
	seek := geometry.ComputeSeekTrim(trim)

	userArgs := NormalizeFlags(out.Flags)
	userArgs, userFilters := SpliceFlag(userArgs, FilterFlags...)
	filters := append([]string{cropScaleFilter(crop, out.Size)}, userFilters...)

	destDir, err := ExpandHome(out.Destination)
	if err != nil {
		return nil, err
	}
	destPath, err := filepath.Abs(filepath.Join(destDir, OutputFileName(clip, out.Format)))
	if err != nil {
		return nil, configErrorf("destination", "%v", err)
	}

	args := make([]string, 0, 9+len(userArgs))
	args = append(args,
		"-i", clip.Path,
		"-vf", strings.Join(filters, ","),
		"-ss", formatSeconds(seek.Start),
		"-t", formatSeconds(seek.Duration),
	)
	args = append(args, userArgs...)
	args = append(args, "-y", destPath)

	return &Invocation{
		Args:     args,
		DestDir:  filepath.Dir(destPath),
		DestPath: destPath,
	}, nil
}

// OutputFileName is <index>_<name>.<format>, or <name>.<format> when the
// clip has no index.
func OutputFileName(clip task.ClipSource, format string) string {
	if clip.Index != nil {
		return fmt.Sprintf("%d_%s.%s", *clip.Index, clip.Name, format)
	}
	return fmt.Sprintf("%s.%s", clip.Name, format)
}

// ExpandHome replaces a leading "~" with the current user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", &ConfigError{Field: "destination", Err: err}
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

func cropScaleFilter(crop geometry.Rect, size geometry.Size) string {
	return fmt.Sprintf("crop=%d:%d:%d:%d,scale=%d:%d:flags=neighbor",
		crop.Width, crop.Height, crop.Left, crop.Top, size.Width, size.Height)
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func validate(clip task.ClipSource, bounds geometry.CropBounds, trim geometry.TrimWindow, out task.OutputSpec) error {
	switch {
	case strings.TrimSpace(clip.Path) == "":
		return configErrorf("clip", "source path is required")
	case strings.TrimSpace(clip.Name) == "":
		return configErrorf("clip", "name is required")
	case strings.ContainsAny(clip.Name, `/\`) || clip.Name == "." || clip.Name == "..":
		return configErrorf("clip", "name %q must stay inside the destination", clip.Name)
	case clip.Size.Width <= 0 || clip.Size.Height <= 0:
		return configErrorf("clip", "source size %dx%d is not positive", clip.Size.Width, clip.Size.Height)
	case out.Size.Width <= 0 || out.Size.Height <= 0:
		return configErrorf("output", "size %dx%d is not positive", out.Size.Width, out.Size.Height)
	case strings.TrimSpace(out.Format) == "":
		return configErrorf("output", "format is required")
	case strings.ContainsAny(out.Format, `/\`):
		return configErrorf("output", "format %q must not contain path separators", out.Format)
	case strings.TrimSpace(out.Destination) == "":
		return configErrorf("destination", "path is required")
	}
	if err := bounds.Validate(); err != nil {
		return &ConfigError{Field: "bounds", Err: err}
	}
	if err := trim.Validate(); err != nil {
		return &ConfigError{Field: "trim", Err: err}
	}
	return nil
}
