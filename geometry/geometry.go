// Package geometry converts normalized crop bounds and millisecond trim markers
// into the pixel and second values the encoder expects.
package geometry

import (
	"fmt"
	"math"
)

// Size is a pixel size.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// CropBounds is a crop rectangle expressed as fractions of the source frame.
type CropBounds struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect is a crop rectangle in pixels.
type Rect struct {
	Top    int `json:"top"`
	Left   int `json:"left"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// TrimWindow holds the in and out markers of a clip in milliseconds.
type TrimWindow struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// SeekTrim is a TrimWindow converted to seconds.
type SeekTrim struct {
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Duration float64 `json:"duration"`
}

// ComputeCrop maps bounds onto a frame of the given size. Width and height
// are rounded to the nearest even number because chroma-subsampled formats
// reject odd dimensions; top and left are rounded to the nearest pixel.
func ComputeCrop(size Size, b CropBounds) Rect {
	w := float64(size.Width)
	h := float64(size.Height)
	return Rect{
		Top:    int(math.Round(b.Top * h)),
		Left:   int(math.Round(b.Left * w)),
		Width:  int(math.Round(b.Width*w/2)) * 2,
		Height: int(math.Round(b.Height*h/2)) * 2,
	}
}

// ComputeSeekTrim converts a trim window to seconds. Values are not clamped
// to the clip duration; the encoder decides what an out-of-range trim means.
func ComputeSeekTrim(t TrimWindow) SeekTrim {
	start := t.Start / 1000
	end := t.End / 1000
	return SeekTrim{
		Start:    start,
		End:      end,
		Duration: end - start,
	}
}

// Validate reports fields that are not finite numbers.
func (b CropBounds) Validate() error {
	fields := []struct {
		name string
		v    float64
	}{
		{"top", b.Top}, {"left", b.Left}, {"width", b.Width}, {"height", b.Height},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("crop %s is not a finite number", f.name)
		}
	}
	return nil
}

// Clamp keeps the bounds inside the unit square so the crop never leaves the frame.
func (b CropBounds) Clamp() CropBounds {
	c := CropBounds{
		Top:    clamp01(b.Top),
		Left:   clamp01(b.Left),
		Width:  clamp01(b.Width),
		Height: clamp01(b.Height),
	}
	if c.Left+c.Width > 1 {
		c.Width = 1 - c.Left
	}
	if c.Top+c.Height > 1 {
		c.Height = 1 - c.Top
	}
	return c
}

// Validate reports a window whose markers are not finite or whose end precedes its start.
func (t TrimWindow) Validate() error {
	if math.IsNaN(t.Start) || math.IsInf(t.Start, 0) || math.IsNaN(t.End) || math.IsInf(t.End, 0) {
		return fmt.Errorf("trim markers must be finite numbers")
	}
	if t.End < t.Start {
		return fmt.Errorf("trim end %v precedes start %v", t.End, t.Start)
	}
	return nil
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
