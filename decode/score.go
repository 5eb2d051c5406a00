package decode

// Score applies a model's ensemble weight to a raw confidence. Weights
// are deliberately not normalized across the ensemble: a primary model
// with weight 1.0 next to a 0.4 auxiliary dominates without post-hoc
// renormalization.
func Score(raw, weight float32) float32 {
	return raw * weight
}
