package yolox

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/nvr-ai/go-yolox/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setProposal writes one proposal into raw at cell index i.
func setProposal(raw []float32, classCount, i int, fields ...float32) {
	copy(raw[i*ProposalLength(classCount):], fields)
}

func TestDecodeSingleCellScenario(t *testing.T) {
	const classCount = 3
	table, err := GenerateGrid(DefaultStrides, 256, 256)
	require.NoError(t, err)
	require.Len(t, table, 1344)
	require.Equal(t, 8, ProposalLength(classCount))

	raw := make([]float32, 10752)
	setProposal(raw, classCount, 100, 0, 0, 0, 0, 0.9, 0.1, 0.8, 0.05)

	boxes, err := Decode(raw, table, classCount, 0.5)
	require.NoError(t, err)
	require.Len(t, boxes, 1)
	assert.Equal(t, 1, boxes[0].ClassIndex)
	assert.InDelta(t, 0.72, boxes[0].Score, 1e-5)
}

func TestDecodeGeometry(t *testing.T) {
	const classCount = 2
	table, err := GenerateGrid(DefaultStrides, 256, 256)
	require.NoError(t, err)

	// Stride 16 level starts after the 32x32 stride 8 cells; row 2, col 3.
	idx := 32*32 + 2*16 + 3
	require.Equal(t, GridCoordinateAndStride{GridX: 3, GridY: 2, Stride: 16}, table[idx])

	raw := make([]float32, len(table)*ProposalLength(classCount))
	setProposal(raw, classCount, idx, 0.5, 0.25, 0, float32(math.Ln2), 1, 0.2, 0.9)

	boxes, err := Decode(raw, table, classCount, 0.5)
	require.NoError(t, err)
	require.Len(t, boxes, 1)

	b := boxes[0]
	assert.InDelta(t, 56, b.CenterX, 1e-4)
	assert.InDelta(t, 36, b.CenterY, 1e-4)
	assert.InDelta(t, 16, b.Width, 1e-4)
	assert.InDelta(t, 32, b.Height, 1e-3)
	assert.Equal(t, 1, b.ClassIndex)
	assert.InDelta(t, 0.9, b.Score, 1e-6)
}

func TestDecodeKeepsGridOrder(t *testing.T) {
	const classCount = 1
	table, err := GenerateGrid([]int{8}, 32, 32)
	require.NoError(t, err)

	raw := make([]float32, len(table)*ProposalLength(classCount))
	setProposal(raw, classCount, 9, 0, 0, 0, 0, 0.6, 1)
	setProposal(raw, classCount, 2, 0, 0, 0, 0, 0.99, 1)

	boxes, err := Decode(raw, table, classCount, 0.5)
	require.NoError(t, err)
	require.Len(t, boxes, 2)
	assert.InDelta(t, 0.99, boxes[0].Score, 1e-6, "lower grid index first regardless of score")
	assert.InDelta(t, 0.6, boxes[1].Score, 1e-6)
}

func TestDecodeThresholdInclusive(t *testing.T) {
	const classCount = 1
	table, err := GenerateGrid([]int{8}, 8, 8)
	require.NoError(t, err)

	raw := []float32{0, 0, 0, 0, 0.5, 1}
	boxes, err := Decode(raw, table, classCount, 0.5)
	require.NoError(t, err)
	assert.Len(t, boxes, 1)
}

func TestDecodeErrors(t *testing.T) {
	table, err := GenerateGrid(DefaultStrides, 256, 256)
	require.NoError(t, err)

	_, err = Decode(make([]float32, 10751), table, 3, 0.5)
	assert.ErrorIs(t, err, common.ErrShapeMismatch)

	_, err = Decode(make([]float32, 10752), table, 0, 0.5)
	assert.ErrorIs(t, err, common.ErrConfigurationInvalid)

	_, err = Decode(make([]float32, 10752), table, 3, 1.5)
	assert.ErrorIs(t, err, common.ErrConfigurationInvalid)

	_, err = Decoder{ClassCount: 3, Activation: "tanh"}.Decode(make([]float32, 10752), table)
	assert.ErrorIs(t, err, common.ErrConfigurationInvalid)
}

func TestDecodeNoDetectionsIsNotAnError(t *testing.T) {
	table, err := GenerateGrid(DefaultStrides, 256, 256)
	require.NoError(t, err)

	boxes, err := Decode(make([]float32, 10752), table, 3, 0.5)
	require.NoError(t, err)
	assert.NotNil(t, boxes)
	assert.Empty(t, boxes)
}

func TestDecodeSigmoidActivation(t *testing.T) {
	const classCount = 1
	table, err := GenerateGrid([]int{8}, 8, 8)
	require.NoError(t, err)

	// logit 0 -> 0.5 for both objectness and class.
	raw := []float32{0, 0, 0, 0, 0, 0}
	boxes, err := Decoder{ClassCount: classCount, ConfidenceThreshold: 0.2, Activation: ActivationSigmoid}.
		Decode(raw, table)
	require.NoError(t, err)
	require.Len(t, boxes, 1)
	assert.InDelta(t, 0.25, boxes[0].Score, 1e-6)

	boxes, err = Decode(raw, table, classCount, 0.2)
	require.NoError(t, err)
	assert.Empty(t, boxes, "raw scores of zero must not pass without activation")
}

func randomRaw(r *rand.Rand, cells, classCount int) []float32 {
	raw := make([]float32, cells*ProposalLength(classCount))
	for i := range raw {
		raw[i] = r.Float32()
	}
	return raw
}

// isSubsequence reports whether every element of sub appears in seq in the same order.
func isSubsequence(sub, seq []common.BBox2D) bool {
	j := 0
	for _, b := range seq {
		if j < len(sub) && sub[j] == b {
			j++
		}
	}
	return j == len(sub)
}

func TestDecodeMonotonicFiltering(t *testing.T) {
	const classCount = 4
	table, err := GenerateGrid(DefaultStrides, 128, 128)
	require.NoError(t, err)

	r := rand.New(rand.NewSource(42))
	for trial := 0; trial < 20; trial++ {
		raw := randomRaw(r, len(table), classCount)
		t1 := r.Float32()
		t2 := t1 + (1-t1)*r.Float32()

		loose, err := Decode(raw, table, classCount, t1)
		require.NoError(t, err)
		strict, err := Decode(raw, table, classCount, t2)
		require.NoError(t, err)

		assert.LessOrEqual(t, len(strict), len(loose))
		assert.True(t, isSubsequence(strict, loose), "t1=%f t2=%f", t1, t2)
	}
}

func TestDecodeParallelMatchesSequential(t *testing.T) {
	const classCount = 5
	table, err := GenerateGrid(DefaultStrides, 640, 640)
	require.NoError(t, err)

	raw := randomRaw(rand.New(rand.NewSource(7)), len(table), classCount)

	sequential, err := Decoder{ClassCount: classCount, ConfidenceThreshold: 0.3}.Decode(raw, table)
	require.NoError(t, err)
	require.NotEmpty(t, sequential)

	for _, workers := range []int{2, 3, 8, 64} {
		parallel, err := Decoder{ClassCount: classCount, ConfidenceThreshold: 0.3, Workers: workers}.
			Decode(raw, table)
		require.NoError(t, err)
		if diff := cmp.Diff(sequential, parallel); diff != "" {
			t.Errorf("workers=%d mismatch (-sequential +parallel):\n%s", workers, diff)
		}
	}
}
