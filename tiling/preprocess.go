package tiling

import (
	"fmt"
	"image"
	"runtime"
	"sync"
)

// Preprocessor converts a tile image into the NHWC float32 tensor the
// inference engines consume: shape (1, size, size, 3), values in [0,1].
// Rows are split across workers; a Preprocessor is safe for concurrent
// use as long as each call gets its own destination buffer.
type Preprocessor struct {
	size       int
	numWorkers int
}

func NewPreprocessor(size int) *Preprocessor {
	return &Preprocessor{
		size:       size,
		numWorkers: runtime.GOMAXPROCS(0),
	}
}

// TensorLen returns the required destination buffer length.
func (p *Preprocessor) TensorLen() int { return p.size * p.size * 3 }

// Process fills dst with the normalized RGB values of img.
func (p *Preprocessor) Process(img image.Image, dst []float32) error {
	if len(dst) != p.TensorLen() {
		return fmt.Errorf("tensor buffer: got len %d, want %d", len(dst), p.TensorLen())
	}
	b := img.Bounds()
	if b.Dx() != p.size || b.Dy() != p.size {
		return fmt.Errorf("tile image: got %dx%d, want %dx%d", b.Dx(), b.Dy(), p.size, p.size)
	}

	rowsPerWorker := p.size / p.numWorkers
	if rowsPerWorker == 0 {
		rowsPerWorker = p.size
	}

	var wg sync.WaitGroup
	for start := 0; start < p.size; start += rowsPerWorker {
		end := start + rowsPerWorker
		if end > p.size {
			end = p.size
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			if nrgba, ok := img.(*image.NRGBA); ok {
				p.processRowsNRGBA(nrgba, dst, start, end)
			} else {
				p.processRowsGeneric(img, dst, start, end)
			}
		}(start, end)
	}
	wg.Wait()
	return nil
}

// processRowsNRGBA reads Pix directly, the common case since the tile
// planner produces *image.NRGBA.
func (p *Preprocessor) processRowsNRGBA(img *image.NRGBA, dst []float32, startY, endY int) {
	for y := startY; y < endY; y++ {
		src := img.Pix[y*img.Stride:]
		out := dst[y*p.size*3:]
		for x := 0; x < p.size; x++ {
			out[x*3] = float32(src[x*4]) / 255.0
			out[x*3+1] = float32(src[x*4+1]) / 255.0
			out[x*3+2] = float32(src[x*4+2]) / 255.0
		}
	}
}

func (p *Preprocessor) processRowsGeneric(img image.Image, dst []float32, startY, endY int) {
	min := img.Bounds().Min
	for y := startY; y < endY; y++ {
		out := dst[y*p.size*3:]
		for x := 0; x < p.size; x++ {
			r, g, b, _ := img.At(min.X+x, min.Y+y).RGBA()
			out[x*3] = float32(r>>8) / 255.0
			out[x*3+1] = float32(g>>8) / 255.0
			out[x*3+2] = float32(b>>8) / 255.0
		}
	}
}
