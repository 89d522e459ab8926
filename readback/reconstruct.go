// Package readback - recovers raw network output delivered through an asynchronous
// texture readback.
//
// When the output tensor is packed into a single-channel float texture (one proposal
// per texture row, red channel holding the scalar) and read back, rows arrive in
// bottom-to-top order. Reconstruct undoes that in two steps: reverse the whole buffer,
// then reverse each proposal-sized chunk to restore the field order inside it.
package readback

import (
	"github.com/nvr-ai/go-yolox/common"
	"github.com/pkg/errors"
)

// Reconstruct returns a copy of pixels in the logical layout of a direct buffer copy.
//
// Arguments:
//   - pixels: Red-channel floats as read back from the texture.
//   - proposalLength: Floats per proposal (NumBBoxFields + classCount).
//
// Returns:
//   - []float32: The reconstructed output.
//   - error: ErrShapeMismatch if len(pixels) is not a multiple of proposalLength.
//
// @example
// raw, err := readback.Reconstruct(resp.Pixels, yolox.ProposalLength(80))
func Reconstruct(pixels []float32, proposalLength int) ([]float32, error) {
	return ReconstructInto(nil, pixels, proposalLength)
}

// ReconstructInto is Reconstruct writing into dst, which is grown when too small.
// pixels is never modified. The returned slice aliases dst when it had capacity.
func ReconstructInto(dst, pixels []float32, proposalLength int) ([]float32, error) {
	if err := checkShape(len(pixels), proposalLength); err != nil {
		return nil, err
	}
	if cap(dst) < len(pixels) {
		dst = make([]float32, len(pixels))
	}
	dst = dst[:len(pixels)]
	copy(dst, pixels)

	reverseAll(dst)
	reverseChunks(dst, proposalLength)
	return dst, nil
}

// Encode produces the pixel order a texture readback of v would deliver. It is the
// exact inverse of Reconstruct and exists for tests and simulated transfer sources.
func Encode(v []float32, proposalLength int) ([]float32, error) {
	if err := checkShape(len(v), proposalLength); err != nil {
		return nil, err
	}
	out := append([]float32(nil), v...)
	reverseChunks(out, proposalLength)
	reverseAll(out)
	return out, nil
}

func checkShape(n, proposalLength int) error {
	if proposalLength <= 0 {
		return errors.Wrapf(common.ErrShapeMismatch, "proposal length %d must be positive", proposalLength)
	}
	if n%proposalLength != 0 {
		return errors.Wrapf(common.ErrShapeMismatch,
			"%d pixels is not a multiple of proposal length %d", n, proposalLength)
	}
	return nil
}

func reverseAll(v []float32) {
	for i, j := 0, len(v)-1; i < j; i, j = i+1, j-1 {
		v[i], v[j] = v[j], v[i]
	}
}

func reverseChunks(v []float32, size int) {
	for off := 0; off < len(v); off += size {
		reverseAll(v[off : off+size])
	}
}
