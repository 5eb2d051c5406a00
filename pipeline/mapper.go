package pipeline

import (
	"github.com/KuyaKoya/flutter-floorplan-ensemble/decode"
	"github.com/KuyaKoya/flutter-floorplan-ensemble/models"
	"github.com/KuyaKoya/flutter-floorplan-ensemble/tiling"
)

// mapToGlobal converts a tile-local candidate into a full-image
// detection. It returns false for candidates that collapse to a
// non-positive box (degenerate model output, not an error) and for
// candidates whose center lies in a margin claimed by a neighboring
// tile.
func mapToGlobal(c decode.Candidate, tile tiling.Tile, imageW, imageH int) (models.Detection, bool) {
	// The processing-bounds check runs in tile-local coordinates; the
	// tile scale is monotonic, so this is the same test as mapping both
	// center and bounds to global pixels.
	if !tile.Bounds.Contains(c.CX, c.CY) {
		return models.Detection{}, false
	}

	left := (c.CX-c.W/2)*tile.ScaleX + float32(tile.OffsetX)
	top := (c.CY-c.H/2)*tile.ScaleY + float32(tile.OffsetY)
	width := c.W * tile.ScaleX
	height := c.H * tile.ScaleY
	if width <= 0 || height <= 0 {
		return models.Detection{}, false
	}

	// Clamp into the image, keeping the far edge fixed.
	if left < 0 {
		width += left
		left = 0
	}
	if top < 0 {
		height += top
		top = 0
	}
	if left+width > float32(imageW) {
		width = float32(imageW) - left
	}
	if top+height > float32(imageH) {
		height = float32(imageH) - top
	}
	if width <= 0 || height <= 0 {
		return models.Detection{}, false
	}

	confidence := c.Confidence
	if confidence > 1 {
		confidence = 1
	}

	d := models.Detection{
		Left:       left,
		Top:        top,
		Width:      width,
		Height:     height,
		Confidence: confidence,
		ClassID:    c.ClassID,
		Label:      c.Label,
	}
	if len(c.Mask) > 0 {
		d.Mask = decode.ResampleMask(c.Mask, int(width+0.5), int(height+0.5))
	}
	return d, true
}
