package fusion

import "github.com/KuyaKoya/flutter-floorplan-ensemble/models"

// IoU is the intersection-over-union of two axis-aligned boxes. An empty
// intersection returns 0 directly, so degenerate boxes never divide by
// zero through the union formula.
func IoU(a, b models.Detection) float32 {
	interW := minF(a.Right(), b.Right()) - maxF(a.Left, b.Left)
	interH := minF(a.Bottom(), b.Bottom()) - maxF(a.Top, b.Top)
	if interW <= 0 || interH <= 0 {
		return 0
	}
	intersection := interW * interH
	union := a.Area() + b.Area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

func minF(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
