package fusion

import (
	"math"
	"reflect"
	"testing"

	"github.com/KuyaKoya/flutter-floorplan-ensemble/models"
)

func box(left, top, width, height, confidence float32) models.Detection {
	return models.Detection{
		Left: left, Top: top, Width: width, Height: height,
		Confidence: confidence, Label: "room",
	}
}

func approx(got, want float32) bool {
	return math.Abs(float64(got-want)) < 1e-4
}

func TestIoUProperties(t *testing.T) {
	a := box(10, 10, 50, 50, 1)
	b := box(15, 15, 50, 50, 1)
	c := box(200, 200, 10, 10, 1)

	if got := IoU(a, a); got != 1 {
		t.Errorf("IoU(a,a) = %v, want 1", got)
	}
	if IoU(a, b) != IoU(b, a) {
		t.Errorf("IoU not symmetric: %v vs %v", IoU(a, b), IoU(b, a))
	}
	if got := IoU(a, b); got < 0 || got > 1 {
		t.Errorf("IoU out of bounds: %v", got)
	}
	if got := IoU(a, c); got != 0 {
		t.Errorf("disjoint IoU = %v, want 0", got)
	}
	if got := IoU(box(5, 5, 0, 0, 1), box(5, 5, 0, 0, 1)); got != 0 {
		t.Errorf("zero-area IoU = %v, want 0", got)
	}
}

func TestIoUValue(t *testing.T) {
	// 50x50 boxes offset by (5,5): intersection 45*45, union 2*2500-2025.
	got := IoU(box(10, 10, 50, 50, 1), box(15, 15, 50, 50, 1))
	want := float32(45*45) / float32(2500+2500-45*45)
	if !approx(got, want) {
		t.Errorf("IoU = %v, want %v", got, want)
	}
}

func TestFuseMergesOverlappingPair(t *testing.T) {
	out := Fuse([]models.Detection{
		box(10, 10, 50, 50, 0.9),
		box(15, 15, 50, 50, 0.6),
	}, Options{GroupingThreshold: 0.5, NMSThreshold: 0.45})

	if len(out) != 1 {
		t.Fatalf("detection count: got %d, want 1", len(out))
	}

	d := out[0]
	// Merged confidence is the unweighted mean.
	if !approx(d.Confidence, 0.75) {
		t.Errorf("confidence: got %v, want 0.75", d.Confidence)
	}
	// Box is the confidence-weighted mean: (10*0.9+15*0.6)/1.5 = 12.
	if !approx(d.Left, 12) || !approx(d.Top, 12) {
		t.Errorf("position: got (%v,%v), want (12,12)", d.Left, d.Top)
	}
	if !approx(d.Width, 50) || !approx(d.Height, 50) {
		t.Errorf("size: got (%v,%v), want (50,50)", d.Width, d.Height)
	}
}

func TestFuseIdenticalTriple(t *testing.T) {
	out := Fuse([]models.Detection{
		box(100, 100, 40, 40, 0.9),
		box(100, 100, 40, 40, 0.5),
		box(100, 100, 40, 40, 0.3),
	}, Options{})

	if len(out) != 1 {
		t.Fatalf("detection count: got %d, want 1", len(out))
	}
	if want := float32(0.9+0.5+0.3) / 3; !approx(out[0].Confidence, want) {
		t.Errorf("confidence: got %v, want %v", out[0].Confidence, want)
	}
	if !approx(out[0].Left, 100) || !approx(out[0].Width, 40) {
		t.Errorf("box changed: %+v", out[0])
	}
}

func TestFuseKeepsDistinctRooms(t *testing.T) {
	out := Fuse([]models.Detection{
		box(0, 0, 100, 100, 0.8),
		box(500, 500, 80, 60, 0.7),
		box(900, 100, 120, 90, 0.6),
	}, Options{})

	if len(out) != 3 {
		t.Fatalf("detection count: got %d, want 3", len(out))
	}
	// Output sorted by descending confidence.
	for i := 1; i < len(out); i++ {
		if out[i].Confidence > out[i-1].Confidence {
			t.Errorf("output not sorted: %v after %v", out[i].Confidence, out[i-1].Confidence)
		}
	}
}

// Running fused output through fusion again must change nothing: no
// survivor suppresses another and none overlap at the grouping
// threshold.
func TestFuseIdempotent(t *testing.T) {
	candidates := []models.Detection{
		box(10, 10, 50, 50, 0.9),
		box(14, 12, 52, 48, 0.7),
		box(200, 40, 60, 60, 0.8),
		box(210, 50, 60, 60, 0.6),
		box(400, 400, 30, 90, 0.5),
	}

	first := Fuse(candidates, Options{})
	second := Fuse(first, Options{})

	if len(first) != len(second) {
		t.Fatalf("counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if !reflect.DeepEqual(first[i], second[i]) {
			t.Errorf("detection %d changed: %+v vs %+v", i, first[i], second[i])
		}
	}
	for i := range first {
		for j := i + 1; j < len(first); j++ {
			if iou := IoU(first[i], first[j]); iou > DefaultNMSThreshold {
				t.Errorf("survivors %d,%d overlap at IoU %v", i, j, iou)
			}
		}
	}
}

func TestFuseScaleInvariance(t *testing.T) {
	candidates := []models.Detection{
		box(10, 10, 50, 50, 0.9),
		box(15, 15, 50, 50, 0.6),
		box(300, 200, 80, 40, 0.7),
	}
	const k = 3.5

	scaled := make([]models.Detection, len(candidates))
	for i, c := range candidates {
		c.Left *= k
		c.Top *= k
		c.Width *= k
		c.Height *= k
		scaled[i] = c
	}

	base := Fuse(candidates, Options{})
	got := Fuse(scaled, Options{})

	if len(base) != len(got) {
		t.Fatalf("counts differ: %d vs %d", len(base), len(got))
	}
	for i := range base {
		if !approx(got[i].Left, base[i].Left*k) || !approx(got[i].Width, base[i].Width*k) {
			t.Errorf("detection %d not scaled by k: %+v vs %+v", i, got[i], base[i])
		}
		if !approx(got[i].Confidence, base[i].Confidence) {
			t.Errorf("detection %d confidence changed: %v vs %v", i, got[i].Confidence, base[i].Confidence)
		}
	}
}

func TestFuseZeroWeightCluster(t *testing.T) {
	out := Fuse([]models.Detection{
		box(10, 10, 40, 40, 0),
		box(20, 20, 40, 40, 0),
	}, Options{GroupingThreshold: 0.3})

	if len(out) != 1 {
		t.Fatalf("detection count: got %d, want 1", len(out))
	}
	// Zero total weight falls back to the plain mean.
	if !approx(out[0].Left, 15) || !approx(out[0].Top, 15) {
		t.Errorf("box: got (%v,%v), want (15,15)", out[0].Left, out[0].Top)
	}
}

func TestFusePropagatesFirstMask(t *testing.T) {
	maskA := [][]float32{{0.2}}
	maskB := [][]float32{{0.8}}

	a := box(10, 10, 50, 50, 0.9)
	b := box(11, 11, 50, 50, 0.8)
	c := box(12, 12, 50, 50, 0.7)
	b.Mask = maskA
	c.Mask = maskB

	out := Fuse([]models.Detection{a, b, c}, Options{})
	if len(out) != 1 {
		t.Fatalf("detection count: got %d, want 1", len(out))
	}
	if out[0].Mask[0][0] != 0.2 {
		t.Errorf("mask: got %v, want the first non-empty mask (0.2)", out[0].Mask[0][0])
	}
}

func TestFuseEmpty(t *testing.T) {
	if out := Fuse(nil, Options{}); out != nil {
		t.Errorf("Fuse(nil) = %v, want nil", out)
	}
}
