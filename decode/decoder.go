// Package decode interprets raw inference output tensors into candidate
// boxes. The tensor layout is sniffed from its shape, not declared by
// the model, because the upstream detectors export both row-major and
// column-major YOLO heads.
package decode

import (
	"fmt"

	"github.com/KuyaKoya/flutter-floorplan-ensemble/models"
)

// DefaultColumnConfidence substitutes for a missing confidence row in
// columns-format tensors with fewer than five feature rows.
const DefaultColumnConfidence float32 = 0.5

// classLabels is the known label table. The detectors are single-purpose
// room models; anything beyond the table maps to a generic label.
var classLabels = []string{"room"}

const genericLabel = "region"

// Candidate is one decoded box in tile-local pixels, center-based.
// Confidence already carries the ensemble weight.
type Candidate struct {
	CX, CY, W, H float32
	Confidence   float32
	ClassID      int
	Label        string
	// Mask is the min-max normalized raw mask grid for segmentation
	// models, not yet resampled to the box size.
	Mask [][]float32
}

// Decode extracts candidates from the outputs of one inference call.
// outputs[0] must be a rank-2 or rank-3 box tensor; a second output
// shaped like a per-candidate mask grid attaches masks. Candidates below
// threshold (after the model weight is applied) are rejected.
func Decode(outputs []models.RawOutput, tileSize int, weight, threshold float32) ([]Candidate, error) {
	if len(outputs) == 0 {
		return nil, &models.DecodeError{Message: "no output tensors"}
	}

	primary := outputs[0]
	var dimA, dimB int
	switch primary.Rank() {
	case 2:
		dimA, dimB = int(primary.Shape[0]), int(primary.Shape[1])
	case 3:
		if primary.Shape[0] != 1 {
			return nil, &models.DecodeError{
				Message: fmt.Sprintf("rank-3 tensor with batch %d", primary.Shape[0]),
			}
		}
		dimA, dimB = int(primary.Shape[1]), int(primary.Shape[2])
	default:
		return nil, &models.DecodeError{
			Message: fmt.Sprintf("unsupported tensor rank %d", primary.Rank()),
		}
	}
	if dimA <= 0 || dimB <= 0 {
		return nil, &models.DecodeError{Message: "degenerate tensor shape"}
	}

	var masks *maskSet
	if len(outputs) > 1 {
		candidates := dimB
		if dimA > dimB {
			candidates = dimA
		}
		masks = newMaskSet(outputs[1], candidates)
	}

	// dim1 > dim2 means rows of detections; a model whose feature count
	// exceeds its anchor count would be misread here. That ambiguity is
	// inherited from the source system and left as-is.
	if dimA > dimB {
		return decodeRows(primary.Data, dimA, dimB, tileSize, weight, threshold, masks)
	}
	return decodeColumns(primary.Data, dimA, dimB, tileSize, weight, threshold, masks)
}

// decodeRows reads a [count, features] tensor: x, y, w, h, objectness,
// then optional per-class scores. Short rows are skipped, never fatal.
func decodeRows(data []float32, count, features, tileSize int, weight, threshold float32, masks *maskSet) ([]Candidate, error) {
	if features < 5 {
		return nil, &models.DecodeError{
			Message: fmt.Sprintf("rows format needs at least 5 features, got %d", features),
		}
	}

	size := float32(tileSize)
	out := make([]Candidate, 0, 32)
	for i := 0; i < count; i++ {
		start := i * features
		if start+features > len(data) {
			continue
		}
		row := data[start : start+features]

		classID := 0
		classScore := float32(1)
		if features > 5 {
			classScore = row[5]
			for c, s := range row[5:] {
				if s > classScore {
					classScore = s
					classID = c
				}
			}
		}

		confidence := Score(row[4]*classScore, weight)
		if confidence < threshold {
			continue
		}

		cand := Candidate{
			CX:         row[0] * size,
			CY:         row[1] * size,
			W:          row[2] * size,
			H:          row[3] * size,
			Confidence: confidence,
			ClassID:    classID,
			Label:      labelFor(classID),
		}
		if masks != nil {
			cand.Mask = masks.grid(i)
		}
		out = append(out, cand)
	}
	return out, nil
}

// decodeColumns reads a [features, count] tensor: feature rows 0-3 hold
// x, y, w, h; row 4 holds confidence when present.
func decodeColumns(data []float32, features, count, tileSize int, weight, threshold float32, masks *maskSet) ([]Candidate, error) {
	if features < 4 {
		return nil, &models.DecodeError{
			Message: fmt.Sprintf("columns format needs at least 4 feature rows, got %d", features),
		}
	}

	size := float32(tileSize)
	out := make([]Candidate, 0, 32)
	for i := 0; i < count; i++ {
		if 3*count+i >= len(data) {
			continue
		}

		raw := DefaultColumnConfidence
		if features >= 5 && 4*count+i < len(data) {
			raw = data[4*count+i]
		}
		confidence := Score(raw, weight)
		if confidence < threshold {
			continue
		}

		cand := Candidate{
			CX:         data[i] * size,
			CY:         data[count+i] * size,
			W:          data[2*count+i] * size,
			H:          data[3*count+i] * size,
			Confidence: confidence,
			ClassID:    0,
			Label:      labelFor(0),
		}
		if masks != nil {
			cand.Mask = masks.grid(i)
		}
		out = append(out, cand)
	}
	return out, nil
}

func labelFor(classID int) string {
	if classID >= 0 && classID < len(classLabels) {
		return classLabels[classID]
	}
	return genericLabel
}
