package inference

import (
	"github.com/nvr-ai/go-yolox/common"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// FromDense flattens a model output tensor shaped [..., cells, proposalLength] into the
// raw output vector Decode expects. Views are materialised first; the returned slice
// never aliases t.
func FromDense(t *tensor.Dense, proposalLength int) ([]float32, error) {
	if t == nil {
		return nil, errors.Wrap(common.ErrShapeMismatch, "nil tensor")
	}
	if t.Dtype() != tensor.Float32 {
		return nil, errors.Wrapf(common.ErrShapeMismatch, "tensor dtype is %v, want float32", t.Dtype())
	}
	shape := t.Shape()
	if len(shape) == 0 || shape[len(shape)-1] != proposalLength {
		return nil, errors.Wrapf(common.ErrShapeMismatch,
			"tensor shape %v does not end in proposal length %d", shape, proposalLength)
	}

	dense := t
	if t.IsView() {
		m, ok := t.Materialize().(*tensor.Dense)
		if !ok {
			return nil, errors.Wrap(common.ErrShapeMismatch, "materialised view is not dense")
		}
		dense = m
	}
	data := dense.Float32s()
	raw := make([]float32, len(data))
	copy(raw, data)
	return raw, nil
}

// ToDense wraps a raw output vector as a [cells, proposalLength] tensor sharing raw's
// backing array.
func ToDense(raw []float32, proposalLength int) (*tensor.Dense, error) {
	if proposalLength <= 0 || len(raw) == 0 || len(raw)%proposalLength != 0 {
		return nil, errors.Wrapf(common.ErrShapeMismatch,
			"raw output has %d values, not a multiple of proposal length %d", len(raw), proposalLength)
	}
	return tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(len(raw)/proposalLength, proposalLength),
		tensor.WithBacking(raw),
	), nil
}
