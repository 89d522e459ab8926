package common

import (
	"fmt"

	"github.com/nvr-ai/go-yolox/images"
)

// NumBBoxFields is the number of leading fields in every raw proposal:
// offset_x, offset_y, log_w, log_h, objectness.
const NumBBoxFields = 5

// BBox2D is a decoded candidate box in input pixel space.
//
// Score is objectness multiplied by the best class score. A BBox2D is never mutated
// after the decoder creates it.
type BBox2D struct {
	CenterX    float32 `json:"center_x" yaml:"center_x"`
	CenterY    float32 `json:"center_y" yaml:"center_y"`
	Width      float32 `json:"width" yaml:"width"`
	Height     float32 `json:"height" yaml:"height"`
	ClassIndex int     `json:"class_index" yaml:"class_index"`
	Score      float32 `json:"score" yaml:"score"`
}

// Rect converts the center/size representation into corner coordinates.
//
// Returns:
//   - images.Rect: The axis-aligned rectangle spanning the box.
//
// @example
// box := BBox2D{CenterX: 50, CenterY: 50, Width: 20, Height: 10}
// r := box.Rect() // Rect{X1: 40, Y1: 45, X2: 60, Y2: 55}
func (b BBox2D) Rect() images.Rect {
	halfW := b.Width / 2
	halfH := b.Height / 2
	return images.Rect{
		X1: b.CenterX - halfW,
		Y1: b.CenterY - halfH,
		X2: b.CenterX + halfW,
		Y2: b.CenterY + halfH,
	}
}

// Area returns width x height, or 0 for degenerate boxes.
func (b BBox2D) Area() float32 {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// IoU calculates the Intersection over Union between two boxes.
//
// Arguments:
//   - other: The box to compare against.
//
// Returns:
//   - The IoU value between 0 and 1. Zero-area boxes always yield 0.
func (b BBox2D) IoU(other BBox2D) float32 {
	return images.CalculateIoU(b.Rect(), other.Rect())
}

func (b BBox2D) String() string {
	return fmt.Sprintf("Class %d (score %f): center (%.2f, %.2f), size %.2fx%.2f",
		b.ClassIndex, b.Score, b.CenterX, b.CenterY, b.Width, b.Height)
}
