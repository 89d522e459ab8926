// Package postprocess - provides Non-Maximum Suppression for detection results.
package postprocess

import (
	"sort"
	"sync"

	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-yolox/common"
	"github.com/pkg/errors"
)

// minPairsPerWorker keeps short comparison runs on the calling goroutine.
const minPairsPerWorker = 256

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	IoUThreshold  float32 `json:"iou_threshold" yaml:"iou_threshold"`   // Overlap above which a lower-score box is suppressed.
	ClassAware    bool    `json:"class_aware" yaml:"class_aware"`       // If true, suppress only within the same class.
	NumWorkers    int     `json:"num_workers" yaml:"num_workers"`       // Goroutines for IoU comparisons; <= 1 runs inline.
	MaxDetections int     `json:"max_detections" yaml:"max_detections"` // Cap on kept boxes; 0 keeps all.
}

// DefaultNMSConfig returns class-agnostic NMS at IoU 0.45.
func DefaultNMSConfig() NMSConfig {
	return NMSConfig{IoUThreshold: 0.45, NumWorkers: 1}
}

// Validate checks the threshold and cap.
func (c NMSConfig) Validate() error {
	if c.IoUThreshold < 0 || c.IoUThreshold > 1 || math32.IsNaN(c.IoUThreshold) {
		return errors.Wrapf(common.ErrConfigurationInvalid, "IoU threshold %f outside [0,1]", c.IoUThreshold)
	}
	if c.MaxDetections < 0 {
		return errors.Wrapf(common.ErrConfigurationInvalid, "max detections %d is negative", c.MaxDetections)
	}
	return nil
}

// Suppress runs class-agnostic greedy NMS.
//
// Arguments:
//   - boxes: Candidates in any order.
//   - iouThreshold: Boxes overlapping a kept box by more than this are dropped.
//
// Returns:
//   - Indices into boxes to keep, highest score first.
//   - error: ErrConfigurationInvalid for a threshold outside [0,1].
func Suppress(boxes []common.BBox2D, iouThreshold float32) ([]int, error) {
	return ApplyNMS(boxes, NMSConfig{IoUThreshold: iouThreshold})
}

// ApplyNMS filters overlapping detections using greedy Non-Maximum Suppression.
//
// Indices are ordered by descending score, ties broken by ascending index, so the
// result is deterministic. Walking that order, each box that is not yet suppressed is
// kept and suppresses every later box whose IoU with it exceeds the threshold
// (same class only, when ClassAware). Zero-area boxes overlap nothing.
//
// Arguments:
//   - boxes: Candidates in any order.
//   - config: NMS configuration.
//
// Returns:
//   - Indices into boxes to keep, highest score first. Empty input yields an empty slice.
//   - error: ErrConfigurationInvalid if config is invalid.
func ApplyNMS(boxes []common.BBox2D, config NMSConfig) ([]int, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	n := len(boxes)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return boxes[order[a]].Score > boxes[order[b]].Score
	})

	rects := make([]common.BBox2D, n)
	for i, idx := range order {
		rects[i] = boxes[idx]
	}

	kept := make([]int, 0, n)
	suppressed := make([]bool, n)
	for i := 0; i < n; i++ {
		if suppressed[i] {
			continue
		}
		kept = append(kept, order[i])
		if config.MaxDetections > 0 && len(kept) == config.MaxDetections {
			break
		}
		suppressAgainst(rects, suppressed, i, config)
	}
	return kept, nil
}

// suppressAgainst marks every box after anchor that overlaps it too much. With
// several workers the tail is split into disjoint ranges, so each suppressed[j] has a
// single writer and the outcome matches the inline loop.
func suppressAgainst(rects []common.BBox2D, suppressed []bool, anchor int, config NMSConfig) {
	start := anchor + 1
	remaining := len(rects) - start

	workers := config.NumWorkers
	if limit := remaining / minPairsPerWorker; workers > limit {
		workers = limit
	}
	if workers <= 1 {
		suppressRange(rects, suppressed, anchor, start, len(rects), config)
		return
	}

	chunk := (remaining + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo := start + w*chunk
		hi := min(lo+chunk, len(rects))
		wg.Add(1)
		go func() {
			defer wg.Done()
			suppressRange(rects, suppressed, anchor, lo, hi, config)
		}()
	}
	wg.Wait()
}

func suppressRange(rects []common.BBox2D, suppressed []bool, anchor, lo, hi int, config NMSConfig) {
	a := rects[anchor]
	for j := lo; j < hi; j++ {
		if suppressed[j] {
			continue
		}
		if config.ClassAware && rects[j].ClassIndex != a.ClassIndex {
			continue
		}
		if a.IoU(rects[j]) > config.IoUThreshold {
			suppressed[j] = true
		}
	}
}

// Keep returns the boxes at indices, in index order.
func Keep(boxes []common.BBox2D, indices []int) []common.BBox2D {
	out := make([]common.BBox2D, 0, len(indices))
	for _, i := range indices {
		out = append(out, boxes[i])
	}
	return out
}
