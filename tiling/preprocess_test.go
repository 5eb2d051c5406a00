package tiling

import (
	"image"
	"image/color"
	"testing"
)

func TestPreprocessorNRGBA(t *testing.T) {
	size := 32
	img := testImage(size, size, color.NRGBA{R: 255, G: 128, B: 0, A: 255})

	pre := NewPreprocessor(size)
	buf := make([]float32, pre.TensorLen())
	if err := pre.Process(img, buf); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	// NHWC interleaved: pixel (x,y) lives at (y*size+x)*3.
	for _, idx := range []int{0, (5*size + 7) * 3, (size*size - 1) * 3} {
		if buf[idx] != 1.0 {
			t.Errorf("r at %d: got %v, want 1.0", idx, buf[idx])
		}
		if got := buf[idx+1]; got < 0.5 || got > 0.51 {
			t.Errorf("g at %d: got %v, want ~0.502", idx, got)
		}
		if buf[idx+2] != 0.0 {
			t.Errorf("b at %d: got %v, want 0.0", idx, buf[idx+2])
		}
	}
}

func TestPreprocessorGenericFallback(t *testing.T) {
	size := 16
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.RGBA{R: 51, G: 102, B: 204, A: 255})
		}
	}

	pre := NewPreprocessor(size)
	buf := make([]float32, pre.TensorLen())
	if err := pre.Process(img, buf); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if buf[0] != 51.0/255.0 || buf[1] != 102.0/255.0 || buf[2] != 204.0/255.0 {
		t.Errorf("first pixel: got (%v,%v,%v)", buf[0], buf[1], buf[2])
	}
}

func TestPreprocessorRejectsBadSizes(t *testing.T) {
	pre := NewPreprocessor(32)

	if err := pre.Process(testImage(32, 32, gray), make([]float32, 10)); err == nil {
		t.Error("short buffer accepted")
	}
	if err := pre.Process(testImage(16, 32, gray), make([]float32, pre.TensorLen())); err == nil {
		t.Error("wrong image size accepted")
	}
}
