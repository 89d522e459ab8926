package yolox

import (
	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-yolox/common"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Activation selects how objectness and class scores are interpreted.
type Activation string

const (
	// ActivationNone uses the scores as exported (already passed through a logistic).
	ActivationNone Activation = "none"
	// ActivationSigmoid applies a logistic to objectness and class scores first.
	ActivationSigmoid Activation = "sigmoid"
)

// minCellsPerWorker keeps tiny outputs on the calling goroutine.
const minCellsPerWorker = 512

// ProposalLength returns NumBBoxFields + classCount, the stride between proposals in
// the raw output.
func ProposalLength(classCount int) int {
	return common.NumBBoxFields + classCount
}

// Decoder turns raw YOLOX output into candidate boxes.
type Decoder struct {
	// ClassCount is the number of class scores per proposal.
	ClassCount int `json:"class_count" yaml:"class_count"`
	// ConfidenceThreshold drops candidates whose score is below it.
	ConfidenceThreshold float32 `json:"confidence_threshold" yaml:"confidence_threshold"`
	// Activation defaults to ActivationNone when empty.
	Activation Activation `json:"activation" yaml:"activation"`
	// Workers > 1 splits the cells across goroutines. Output order is unchanged.
	Workers int `json:"workers" yaml:"workers"`
}

// Decode decodes raw with a single worker and no activation.
//
// Arguments:
//   - raw: Flat network output, proposalLength floats per cell.
//   - table: The grid table for the input size (see GenerateGrid).
//   - classCount: Number of class scores per proposal.
//   - confidenceThreshold: Minimum objectness x best class score, in [0, 1].
//
// Returns:
//   - []common.BBox2D: Candidates in grid table order.
//   - error: ErrShapeMismatch or ErrConfigurationInvalid.
//
// @example
// table, _ := GenerateGrid(DefaultStrides, 640, 640)
// boxes, err := Decode(output, table, 80, 0.5)
func Decode(raw []float32, table []GridCoordinateAndStride, classCount int,
	confidenceThreshold float32,
) ([]common.BBox2D, error) {
	return Decoder{ClassCount: classCount, ConfidenceThreshold: confidenceThreshold}.Decode(raw, table)
}

// Validate checks the decoder parameters.
func (d Decoder) Validate() error {
	if d.ClassCount <= 0 {
		return errors.Wrapf(common.ErrConfigurationInvalid, "class count %d must be positive", d.ClassCount)
	}
	if d.ConfidenceThreshold < 0 || d.ConfidenceThreshold > 1 || math32.IsNaN(d.ConfidenceThreshold) {
		return errors.Wrapf(common.ErrConfigurationInvalid,
			"confidence threshold %f outside [0,1]", d.ConfidenceThreshold)
	}
	switch d.Activation {
	case "", ActivationNone, ActivationSigmoid:
	default:
		return errors.Wrapf(common.ErrConfigurationInvalid, "unknown activation %q", d.Activation)
	}
	return nil
}

// Decode reads one proposal per grid cell, decodes its box against the cell's grid
// coordinates and stride, and keeps it when objectness x best class score reaches
// the confidence threshold.
//
//	center_x = (offset_x + grid_x) * stride
//	center_y = (offset_y + grid_y) * stride
//	width    = exp(log_w) * stride
//	height   = exp(log_h) * stride
//
// Candidates come back in grid table order; no sorting happens here.
func (d Decoder) Decode(raw []float32, table []GridCoordinateAndStride) ([]common.BBox2D, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	proposalLength := ProposalLength(d.ClassCount)
	if len(raw) != len(table)*proposalLength {
		return nil, errors.Wrapf(common.ErrShapeMismatch,
			"raw output has %d values, want %d cells x %d", len(raw), len(table), proposalLength)
	}

	workers := d.Workers
	if limit := len(table) / minCellsPerWorker; workers > limit {
		workers = limit
	}
	if workers <= 1 {
		return d.decodeRange(raw, table, 0, len(table), make([]common.BBox2D, 0)), nil
	}

	// Each worker fills its own slot; concatenating slots in order reproduces the
	// sequential ordering.
	chunk := (len(table) + workers - 1) / workers
	parts := make([][]common.BBox2D, workers)
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		lo := w * chunk
		hi := min(lo+chunk, len(table))
		g.Go(func() error {
			parts[w] = d.decodeRange(raw, table, lo, hi, nil)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, p := range parts {
		total += len(p)
	}
	boxes := make([]common.BBox2D, 0, total)
	for _, p := range parts {
		boxes = append(boxes, p...)
	}
	return boxes, nil
}

func (d Decoder) decodeRange(raw []float32, table []GridCoordinateAndStride, lo, hi int,
	out []common.BBox2D,
) []common.BBox2D {
	proposalLength := ProposalLength(d.ClassCount)
	for i := lo; i < hi; i++ {
		p := raw[i*proposalLength : (i+1)*proposalLength]
		classes := p[common.NumBBoxFields:]

		bestClass := 0
		bestScore := classes[0]
		for c := 1; c < len(classes); c++ {
			if classes[c] > bestScore {
				bestScore = classes[c]
				bestClass = c
			}
		}

		objectness := p[4]
		if d.Activation == ActivationSigmoid {
			objectness = sigmoid(objectness)
			bestScore = sigmoid(bestScore)
		}
		score := objectness * bestScore
		if !(score >= d.ConfidenceThreshold) {
			continue
		}

		g := table[i]
		stride := float32(g.Stride)
		out = append(out, common.BBox2D{
			CenterX:    (p[0] + float32(g.GridX)) * stride,
			CenterY:    (p[1] + float32(g.GridY)) * stride,
			Width:      math32.Exp(p[2]) * stride,
			Height:     math32.Exp(p[3]) * stride,
			ClassIndex: bestClass,
			Score:      score,
		})
	}
	return out
}

func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}
