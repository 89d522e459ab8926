package images

import (
	"image"

	"github.com/nfnt/resize"
)

// CropToStrideMultiple trims each dimension down to the nearest multiple of maxStride
// by subtracting dims % maxStride. The result always satisfies the divisibility
// precondition of the grid table for every stride that divides maxStride.
//
// A non-positive maxStride leaves dims unchanged. The function is idempotent.
//
// Arguments:
//   - dims: The input (width, height) as an image.Point.
//   - maxStride: The largest stride of the network.
//
// Returns:
//   - image.Point: The cropped (width, height).
//
// @example
// CropToStrideMultiple(image.Point{X: 650, Y: 481}, 32) // (640, 480)
func CropToStrideMultiple(dims image.Point, maxStride int) image.Point {
	if maxStride <= 0 {
		return dims
	}
	return image.Point{
		X: dims.X - dims.X%maxStride,
		Y: dims.Y - dims.Y%maxStride,
	}
}

// MaxStride returns the largest value in strides, or 0 for an empty slice.
func MaxStride(strides []int) int {
	largest := 0
	for _, s := range strides {
		if s > largest {
			largest = s
		}
	}
	return largest
}

// FitToStride resizes a frame so that both sides are multiples of maxStride.
//
// The target size comes from CropToStrideMultiple on the frame bounds; frames that
// already fit are returned as-is. Frames smaller than a single stride cell in either
// dimension are returned unchanged, since there is no valid grid for them.
//
// Arguments:
//   - img: The source frame.
//   - maxStride: The largest stride of the network.
//
// Returns:
//   - image.Image: The frame with stride-aligned dimensions.
func FitToStride(img image.Image, maxStride int) image.Image {
	b := img.Bounds()
	src := image.Point{X: b.Dx(), Y: b.Dy()}
	dst := CropToStrideMultiple(src, maxStride)
	if dst == src || dst.X == 0 || dst.Y == 0 {
		return img
	}
	return resize.Resize(uint(dst.X), uint(dst.Y), img, resize.Bilinear)
}
