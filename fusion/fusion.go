// Package fusion reconciles the candidates accumulated across all tiles
// and models into one de-duplicated detection list: greedy IoU
// clustering with confidence-weighted merging, then non-maximum
// suppression across the merged clusters.
package fusion

import (
	"sort"

	flatbush "github.com/bmharper/flatbush-go"

	"github.com/KuyaKoya/flutter-floorplan-ensemble/models"
)

const (
	DefaultGroupingThreshold = 0.5
	DefaultNMSThreshold      = 0.45
)

// Options holds the two IoU thresholds of the fusion stages. Zero values
// fall back to the defaults.
type Options struct {
	GroupingThreshold float32
	NMSThreshold      float32
}

func (o Options) withDefaults() Options {
	if o.GroupingThreshold == 0 {
		o.GroupingThreshold = DefaultGroupingThreshold
	}
	if o.NMSThreshold == 0 {
		o.NMSThreshold = DefaultNMSThreshold
	}
	return o
}

// Fuse merges overlapping candidates and suppresses residual duplicates.
// Candidate order matters for cluster seeding ties, so callers wanting
// deterministic output pass candidates in canonical accumulation order.
// The result is sorted by descending confidence.
func Fuse(candidates []models.Detection, opts Options) []models.Detection {
	if len(candidates) == 0 {
		return nil
	}
	opts = opts.withDefaults()
	merged := cluster(candidates, opts.GroupingThreshold)
	return suppress(merged, opts.NMSThreshold)
}

// cluster greedily seeds a cluster from each not-yet-clustered candidate
// in order and pulls in every unclustered candidate matching the seed at
// the grouping threshold. A spatial index prunes the O(N^2) pair scan.
func cluster(candidates []models.Detection, threshold float32) []models.Detection {
	index := buildIndex(candidates)

	clustered := make([]bool, len(candidates))
	merged := make([]models.Detection, 0, len(candidates))
	for i, seed := range candidates {
		if clustered[i] {
			continue
		}
		clustered[i] = true

		members := []int{i}
		for _, j := range index.Search(float64(seed.Left), float64(seed.Top), float64(seed.Right()), float64(seed.Bottom())) {
			if clustered[j] {
				continue
			}
			if IoU(seed, candidates[j]) >= threshold {
				clustered[j] = true
				members = append(members, j)
			}
		}
		// Accumulation order decides which member donates its mask.
		sort.Ints(members)
		merged = append(merged, mergeCluster(candidates, members))
	}
	return merged
}

// mergeCluster collapses one cluster into a single detection: the box is
// the confidence-weighted mean of the member boxes, while the merged
// confidence is the plain mean so it reflects cluster support rather
// than one strong detector.
func mergeCluster(candidates []models.Detection, members []int) models.Detection {
	var totalWeight, confidenceSum float32
	for _, i := range members {
		totalWeight += candidates[i].Confidence
		confidenceSum += candidates[i].Confidence
	}

	out := models.Detection{
		Confidence: confidenceSum / float32(len(members)),
	}

	var best float32 = -1
	for _, i := range members {
		c := candidates[i]
		weight := c.Confidence
		if totalWeight <= 0 {
			weight = 1.0 / float32(len(members))
		} else {
			weight /= totalWeight
		}
		out.Left += c.Left * weight
		out.Top += c.Top * weight
		out.Width += c.Width * weight
		out.Height += c.Height * weight

		if c.Confidence > best {
			best = c.Confidence
			out.ClassID = c.ClassID
			out.Label = c.Label
		}
		if out.Mask == nil && c.HasMask() {
			out.Mask = c.Mask
		}
	}
	return out
}

// suppress is greedy NMS: walk the detections by descending confidence,
// keep each one not already suppressed, and suppress everything it
// overlaps beyond the threshold.
func suppress(detections []models.Detection, threshold float32) []models.Detection {
	order := make([]int, len(detections))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return detections[order[a]].Confidence > detections[order[b]].Confidence
	})

	index := buildIndex(detections)
	suppressed := make([]bool, len(detections))
	kept := make([]models.Detection, 0, len(detections))
	for _, i := range order {
		if suppressed[i] {
			continue
		}
		d := detections[i]
		kept = append(kept, d)
		for _, j := range index.Search(float64(d.Left), float64(d.Top), float64(d.Right()), float64(d.Bottom())) {
			if j == i || suppressed[j] {
				continue
			}
			if IoU(d, detections[j]) > threshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

func buildIndex(detections []models.Detection) *flatbush.Flatbush64 {
	index := flatbush.NewFlatbush64()
	index.Reserve(len(detections))
	for _, d := range detections {
		index.Add(float64(d.Left), float64(d.Top), float64(d.Right()), float64(d.Bottom()))
	}
	index.Finish()
	return index
}
