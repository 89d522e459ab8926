package yolox

import (
	"sync/atomic"

	"github.com/nvr-ai/go-yolox/common"
	"github.com/pkg/errors"
)

type gridState struct {
	width, height int
	table         []GridCoordinateAndStride
}

// GridCache holds the grid table for the current input size.
//
// The table is rebuilt off to the side and then swapped in atomically, so a reader
// always sees a complete table even while another goroutine handles a resolution
// change. Returned tables must be treated as read-only.
type GridCache struct {
	strides []int
	state   atomic.Pointer[gridState]
	builds  atomic.Int64
}

// NewGridCache creates an empty cache for a fixed stride set.
func NewGridCache(strides []int) *GridCache {
	return &GridCache{strides: append([]int(nil), strides...)}
}

// Strides returns a copy of the configured strides.
func (c *GridCache) Strides() []int {
	return append([]int(nil), c.strides...)
}

// Builds reports how many times the table was regenerated.
func (c *GridCache) Builds() int64 {
	return c.builds.Load()
}

// current returns the cached table, or nil before the first build.
func (c *GridCache) current() []GridCoordinateAndStride {
	if s := c.state.Load(); s != nil {
		return s.table
	}
	return nil
}

// Ensure returns a table for an input of width x height that has cellCount entries.
// The cached table is reused when both the dimensions and the cell count match;
// otherwise a new table is generated and swapped in.
//
// Arguments:
//   - width, height: The stride-aligned input size of the frame.
//   - cellCount: len(raw) / proposalLength of the output being decoded.
//
// Returns:
//   - []GridCoordinateAndStride: The table to decode with.
//   - error: ErrConfigurationInvalid if the table cannot be generated, ErrShapeMismatch
//     if the generated table still disagrees with cellCount.
func (c *GridCache) Ensure(width, height, cellCount int) ([]GridCoordinateAndStride, error) {
	if s := c.state.Load(); s != nil && s.width == width && s.height == height && len(s.table) == cellCount {
		return s.table, nil
	}

	table, err := GenerateGrid(c.strides, height, width)
	if err != nil {
		return nil, err
	}
	c.state.Store(&gridState{width: width, height: height, table: table})
	c.builds.Add(1)

	if len(table) != cellCount {
		return nil, errors.Wrapf(common.ErrShapeMismatch,
			"output holds %d cells but a %dx%d input produces %d", cellCount, width, height, len(table))
	}
	return table, nil
}
