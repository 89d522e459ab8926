// Package yolox - decodes anchor-free YOLOX outputs into candidate boxes.
package yolox

import (
	"github.com/nvr-ai/go-yolox/common"
	"github.com/pkg/errors"
)

// DefaultStrides are the YOLOX feature map strides, finest first.
var DefaultStrides = []int{8, 16, 32}

// GridCoordinateAndStride locates one output cell: its column, row and the stride of
// the feature map it belongs to.
type GridCoordinateAndStride struct {
	GridX  int `json:"grid_x"`
	GridY  int `json:"grid_y"`
	Stride int `json:"stride"`
}

// CellCount returns sum(width/s * height/s) over strides, the number of proposals the
// network emits for the given input size.
func CellCount(strides []int, height, width int) int {
	n := 0
	for _, s := range strides {
		if s > 0 {
			n += (width / s) * (height / s)
		}
	}
	return n
}

// GenerateGrid builds the grid lookup table in the exact order the network flattens
// its predictions: strides in the given order, then rows, then columns (col fastest).
//
// Arguments:
//   - strides: Positive stride values, ascending (finest feature map first).
//   - height: Input height; must be divisible by every stride.
//   - width: Input width; must be divisible by every stride.
//
// Returns:
//   - []GridCoordinateAndStride: One record per output cell.
//   - error: ErrConfigurationInvalid for empty/non-positive strides, non-positive
//     dimensions, or dimensions not divisible by a stride.
//
// @example
// table, err := GenerateGrid([]int{8, 16, 32}, 256, 256) // len(table) == 1344
func GenerateGrid(strides []int, height, width int) ([]GridCoordinateAndStride, error) {
	if len(strides) == 0 {
		return nil, errors.Wrap(common.ErrConfigurationInvalid, "no strides given")
	}
	if height <= 0 || width <= 0 {
		return nil, errors.Wrapf(common.ErrConfigurationInvalid, "invalid input dimensions %dx%d", width, height)
	}
	for _, s := range strides {
		if s <= 0 {
			return nil, errors.Wrapf(common.ErrConfigurationInvalid, "stride %d is not positive", s)
		}
		if height%s != 0 || width%s != 0 {
			return nil, errors.Wrapf(common.ErrConfigurationInvalid,
				"input %dx%d is not divisible by stride %d; crop to a stride multiple first", width, height, s)
		}
	}

	table := make([]GridCoordinateAndStride, 0, CellCount(strides, height, width))
	for _, s := range strides {
		rows := height / s
		cols := width / s
		for row := 0; row < rows; row++ {
			for col := 0; col < cols; col++ {
				table = append(table, GridCoordinateAndStride{GridX: col, GridY: row, Stride: s})
			}
		}
	}
	return table, nil
}
