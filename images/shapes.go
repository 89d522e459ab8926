// Package images - geometry and frame helpers for the detection pipeline.
package images

import "github.com/chewxy/math32"

// Rect is a lightweight axis-aligned box in pixel space.
type Rect struct {
	X1, Y1, X2, Y2 float32
}

// Width returns X2 - X1.
func (r Rect) Width() float32 {
	return r.X2 - r.X1
}

// Height returns Y2 - Y1.
func (r Rect) Height() float32 {
	return r.Y2 - r.Y1
}

// Area returns the area of the rectangle, or 0 when either side is non-positive.
func (r Rect) Area() float32 {
	w, h := r.Width(), r.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// CalculateIoU measures how much two rectangles overlap.
//
//	IoU = Area of Intersection / Area of Union
//
// The intersection corners are the maximum of the two top-left corners and the
// minimum of the two bottom-right corners. When the resulting width or height is
// zero or negative the rectangles do not overlap and the result is 0. The union
// follows inclusion-exclusion: Area(A) + Area(B) - Area(A n B).
//
// A rectangle with zero area has IoU 0 with everything, including itself.
//
// Arguments:
//   - r: The first rectangle.
//   - o: The other rectangle to compare against.
//
// Returns:
//   - float32: A value between 0.0 and 1.0 representing the IoU score.
//
// Example Usage:
// ```go
//
//	rect1 := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
//	rect2 := Rect{X1: 5, Y1: 5, X2: 15, Y2: 15}
//	iou := CalculateIoU(rect1, rect2) // 25 / 175 = 0.142857
//
// ```
func CalculateIoU(r, o Rect) float32 {
	areaR := r.Area()
	areaO := o.Area()
	if areaR == 0 || areaO == 0 {
		return 0.0
	}

	interW := math32.Min(r.X2, o.X2) - math32.Max(r.X1, o.X1)
	interH := math32.Min(r.Y2, o.Y2) - math32.Max(r.Y1, o.Y1)
	if interW <= 0 || interH <= 0 {
		return 0.0
	}
	interArea := interW * interH

	unionArea := areaR + areaO - interArea
	if unionArea <= 0 {
		return 0.0
	}
	return interArea / unionArea
}
