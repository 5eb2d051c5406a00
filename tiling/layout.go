package tiling

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/KuyaKoya/flutter-floorplan-ensemble/models"
)

// Floor plans render on white; padded tile margins use the same color so
// the padding never looks like structure to the detector.
var backgroundColor = color.NRGBA{R: 255, G: 255, B: 255, A: 255}

// Rect is a half-open rectangle in tile-local pixels.
type Rect struct {
	Left, Top, Right, Bottom float32
}

// Contains reports whether the point (x, y) lies inside the rectangle.
func (r Rect) Contains(x, y float32) bool {
	return x >= r.Left && x < r.Right && y >= r.Top && y < r.Bottom
}

// Tile is one window of the source image, padded to tileSize x tileSize
// and ready for inference.
type Tile struct {
	Index    int
	Col, Row int

	// OffsetX/OffsetY position the tile's top-left corner in the full
	// image. RequestedWidth/RequestedHeight are the unpadded extent,
	// smaller than the tile size at image edges.
	OffsetX, OffsetY                int
	RequestedWidth, RequestedHeight int

	// ScaleX/ScaleY convert tile-local pixels to source pixels. 1 for
	// padded grid tiles; the streamlined plan resizes, so there they
	// carry the anisotropic image/tileSize ratio.
	ScaleX, ScaleY float32

	// Bounds is the authoritative sub-rectangle of the tile: detections
	// whose center falls outside it belong to a neighboring tile.
	Bounds Rect

	Image *image.NRGBA
}

// Plan computes the row-major grid of overlapping tiles covering img.
// Tiles step by tileSize-overlap, are cropped at image edges and padded
// back to tileSize with the background color.
func Plan(img image.Image, tileSize, overlap int) ([]Tile, error) {
	if tileSize <= 0 {
		return nil, &models.TileGenerationError{Message: "tile size must be positive"}
	}
	if overlap < 0 || overlap >= tileSize {
		return nil, &models.TileGenerationError{
			Message: "overlap must be in [0, tileSize)",
		}
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width <= 0 || height <= 0 {
		return nil, &models.TileGenerationError{Message: "empty image"}
	}

	step := tileSize - overlap
	cols := stepCount(width, step)
	rows := stepCount(height, step)

	tiles := make([]Tile, 0, cols*rows)
	for row := 0; row < rows; row++ {
		offsetY := row * step
		reqH := min(tileSize, height-offsetY)
		for col := 0; col < cols; col++ {
			offsetX := col * step
			reqW := min(tileSize, width-offsetX)

			tiles = append(tiles, Tile{
				Index:           len(tiles),
				Col:             col,
				Row:             row,
				OffsetX:         offsetX,
				OffsetY:         offsetY,
				RequestedWidth:  reqW,
				RequestedHeight: reqH,
				ScaleX:          1,
				ScaleY:          1,
				Bounds:          processingBounds(col, row, cols, rows, tileSize, overlap, reqW, reqH),
				Image:           padTile(img, bounds.Min.X+offsetX, bounds.Min.Y+offsetY, reqW, reqH, tileSize),
			})
		}
	}

	return tiles, nil
}

// PlanStreamlined produces a single tile covering the whole image,
// resized (anisotropically) to tileSize x tileSize. Running it through
// the same pipeline reproduces single-shot detection on small images.
func PlanStreamlined(img image.Image, tileSize int) ([]Tile, error) {
	if tileSize <= 0 {
		return nil, &models.TileGenerationError{Message: "tile size must be positive"}
	}
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width <= 0 || height <= 0 {
		return nil, &models.TileGenerationError{Message: "empty image"}
	}

	resized := imaging.Resize(img, tileSize, tileSize, imaging.Linear)
	return []Tile{{
		RequestedWidth:  width,
		RequestedHeight: height,
		ScaleX:          float32(width) / float32(tileSize),
		ScaleY:          float32(height) / float32(tileSize),
		Bounds:          Rect{Right: float32(tileSize), Bottom: float32(tileSize)},
		Image:           resized,
	}}, nil
}

// processingBounds trims half the overlap from each side that has a
// neighbor. The later tile trims the rounded-up half, so with an odd
// overlap the middle pixel belongs to the tile closer to the origin.
func processingBounds(col, row, cols, rows, tileSize, overlap, reqW, reqH int) Rect {
	b := Rect{Right: float32(reqW), Bottom: float32(reqH)}
	if col > 0 {
		b.Left = float32((overlap + 1) / 2)
	}
	if col < cols-1 {
		b.Right = float32(tileSize - overlap/2)
	}
	if row > 0 {
		b.Top = float32((overlap + 1) / 2)
	}
	if row < rows-1 {
		b.Bottom = float32(tileSize - overlap/2)
	}
	return b
}

func padTile(img image.Image, x, y, reqW, reqH, tileSize int) *image.NRGBA {
	crop := imaging.Crop(img, image.Rect(x, y, x+reqW, y+reqH))
	if reqW == tileSize && reqH == tileSize {
		return crop
	}
	canvas := imaging.New(tileSize, tileSize, backgroundColor)
	return imaging.Paste(canvas, crop, image.Pt(0, 0))
}

// stepCount counts tile origins along one axis: origins advance by step
// while they remain inside the image, so even a tiny image gets one.
func stepCount(size, step int) int {
	count := 0
	for origin := 0; origin < size; origin += step {
		count++
	}
	return count
}
