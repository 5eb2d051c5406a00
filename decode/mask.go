package decode

import (
	"math"

	"github.com/KuyaKoya/flutter-floorplan-ensemble/models"
)

// maskSet is a lazy view over a secondary output tensor holding one
// mask grid per candidate, shaped [1, N, rows, cols] or [N, rows, cols].
type maskSet struct {
	data       []float32
	rows, cols int
}

// newMaskSet returns nil unless the tensor's shape matches a
// per-candidate mask grid for the given candidate count.
func newMaskSet(out models.RawOutput, candidates int) *maskSet {
	shape := out.Shape
	if len(shape) == 4 && shape[0] == 1 {
		shape = shape[1:]
	}
	if len(shape) != 3 {
		return nil
	}
	n, rows, cols := int(shape[0]), int(shape[1]), int(shape[2])
	if n != candidates || rows <= 0 || cols <= 0 {
		return nil
	}
	if len(out.Data) < n*rows*cols {
		return nil
	}
	return &maskSet{data: out.Data, rows: rows, cols: cols}
}

// grid extracts and min-max normalizes the mask slice for one candidate.
func (m *maskSet) grid(index int) [][]float32 {
	stride := m.rows * m.cols
	start := index * stride
	if start < 0 || start+stride > len(m.data) {
		return nil
	}
	slice := m.data[start : start+stride]

	lo, hi := slice[0], slice[0]
	for _, v := range slice {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := hi - lo
	grid := make([][]float32, m.rows)
	for r := 0; r < m.rows; r++ {
		row := make([]float32, m.cols)
		for c := 0; c < m.cols; c++ {
			v := slice[r*m.cols+c]
			if span > 0 {
				row[c] = (v - lo) / span
			}
		}
		grid[r] = row
	}
	return grid
}

// ResampleMask bilinearly resamples a normalized mask grid to the given
// pixel size. disintegration/imaging only resizes 8-bit images, which
// would quantize the float grid, so the interpolation is done directly.
func ResampleMask(mask [][]float32, width, height int) [][]float32 {
	if len(mask) == 0 || len(mask[0]) == 0 || width <= 0 || height <= 0 {
		return nil
	}
	srcH := len(mask)
	srcW := len(mask[0])

	out := make([][]float32, height)
	for y := 0; y < height; y++ {
		row := make([]float32, width)
		sy := (float32(y)+0.5)*float32(srcH)/float32(height) - 0.5
		y0 := int(math.Floor(float64(sy)))
		fy := sy - float32(y0)
		y1 := y0 + 1
		if y0 < 0 {
			y0, y1, fy = 0, 0, 0
		}
		if y1 >= srcH {
			y1 = srcH - 1
			if y0 > y1 {
				y0 = y1
			}
		}
		for x := 0; x < width; x++ {
			sx := (float32(x)+0.5)*float32(srcW)/float32(width) - 0.5
			x0 := int(math.Floor(float64(sx)))
			fx := sx - float32(x0)
			x1 := x0 + 1
			if x0 < 0 {
				x0, x1, fx = 0, 0, 0
			}
			if x1 >= srcW {
				x1 = srcW - 1
				if x0 > x1 {
					x0 = x1
				}
			}

			top := mask[y0][x0]*(1-fx) + mask[y0][x1]*fx
			bottom := mask[y1][x0]*(1-fx) + mask[y1][x1]*fx
			row[x] = top*(1-fy) + bottom*fy
		}
		out[y] = row
	}
	return out
}
