package models

import "time"

// Detection is one room candidate in full-image pixel coordinates.
// Fusion produces new values rather than mutating inputs, so a Detection
// can be shared freely once built.
type Detection struct {
	Left       float32
	Top        float32
	Width      float32
	Height     float32
	Confidence float32
	ClassID    int
	Label      string
	// Mask is a [row][col] grid of values in [0,1] covering the box,
	// nil for models without segmentation heads.
	Mask [][]float32
}

// Right returns the exclusive right edge of the box.
func (d Detection) Right() float32 { return d.Left + d.Width }

// Bottom returns the exclusive bottom edge of the box.
func (d Detection) Bottom() float32 { return d.Top + d.Height }

// Area returns the box area in square pixels.
func (d Detection) Area() float32 { return d.Width * d.Height }

// HasMask reports whether the detection carries a segmentation mask.
func (d Detection) HasMask() bool { return len(d.Mask) > 0 }

// RawOutput is the decoded view of one inference output tensor. Engines
// copy tensor contents into fresh RawOutput buffers, so no two inference
// calls share mutable state.
type RawOutput struct {
	Shape []int64
	Data  []float32
}

// Rank returns the number of tensor dimensions.
func (o RawOutput) Rank() int { return len(o.Shape) }

// RunTimings captures per-stage durations for one pipeline run.
type RunTimings struct {
	RequestID   string
	ImageDecode time.Duration
	Tiling      time.Duration
	Inference   time.Duration
	Fusion      time.Duration
	Total       time.Duration
}
