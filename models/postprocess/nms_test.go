package postprocess

import (
	"math/rand"
	"testing"

	"github.com/nvr-ai/go-yolox/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func box(cx, cy, w, h, score float32, class int) common.BBox2D {
	return common.BBox2D{CenterX: cx, CenterY: cy, Width: w, Height: h, Score: score, ClassIndex: class}
}

func TestSuppressOverlappingPair(t *testing.T) {
	boxes := []common.BBox2D{
		box(75, 50, 100, 100, 0.8, 0),
		box(50, 50, 100, 100, 0.9, 0),
	}
	require.InDelta(t, 0.6, boxes[0].IoU(boxes[1]), 1e-6)

	kept, err := Suppress(boxes, 0.45)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, kept)
}

func TestSuppressOrderingAndTies(t *testing.T) {
	boxes := []common.BBox2D{
		box(10, 10, 5, 5, 0.5, 0),
		box(100, 100, 5, 5, 0.9, 0),
		box(200, 200, 5, 5, 0.5, 0),
		box(300, 300, 5, 5, 0.7, 0),
	}
	kept, err := Suppress(boxes, 0.45)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 0, 2}, kept, "descending score, ties by ascending index")
}

func TestSuppressEmpty(t *testing.T) {
	kept, err := Suppress(nil, 0.45)
	require.NoError(t, err)
	assert.NotNil(t, kept)
	assert.Empty(t, kept)
}

func TestSuppressThresholdOneKeepsAll(t *testing.T) {
	boxes := []common.BBox2D{
		box(50, 50, 100, 100, 0.9, 0),
		box(50, 50, 100, 100, 0.8, 0),
		box(52, 50, 100, 100, 0.7, 1),
	}
	kept, err := Suppress(boxes, 1.0)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, kept)
}

func TestSuppressThresholdZeroOnePerCluster(t *testing.T) {
	boxes := []common.BBox2D{
		box(50, 50, 40, 40, 0.6, 0),
		box(60, 55, 40, 40, 0.95, 0),
		box(45, 40, 40, 40, 0.7, 2),
		box(500, 500, 40, 40, 0.5, 1),
		box(510, 505, 40, 40, 0.65, 1),
	}
	kept, err := Suppress(boxes, 0.0)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4}, kept)
}

func TestSuppressZeroAreaBoxes(t *testing.T) {
	boxes := []common.BBox2D{
		box(50, 50, 0, 0, 0.3, 0),
		box(50, 50, 100, 100, 0.9, 0),
		box(50, 50, 0, 10, 0.95, 0),
	}
	kept, err := Suppress(boxes, 0.0)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1, 0}, kept, "zero-area boxes overlap nothing and keep their score order")
}

func TestApplyNMSClassAware(t *testing.T) {
	boxes := []common.BBox2D{
		box(50, 50, 100, 100, 0.9, 0),
		box(55, 50, 100, 100, 0.8, 1),
		box(52, 50, 100, 100, 0.7, 0),
	}

	agnostic, err := ApplyNMS(boxes, NMSConfig{IoUThreshold: 0.45})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, agnostic)

	perClass, err := ApplyNMS(boxes, NMSConfig{IoUThreshold: 0.45, ClassAware: true})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, perClass)
}

func TestApplyNMSMaxDetections(t *testing.T) {
	boxes := []common.BBox2D{
		box(0, 0, 10, 10, 0.1, 0),
		box(100, 0, 10, 10, 0.2, 0),
		box(200, 0, 10, 10, 0.3, 0),
	}
	kept, err := ApplyNMS(boxes, NMSConfig{IoUThreshold: 0.45, MaxDetections: 2})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, kept)
}

func TestApplyNMSInvalidConfig(t *testing.T) {
	for _, cfg := range []NMSConfig{
		{IoUThreshold: -0.1},
		{IoUThreshold: 1.1},
		{IoUThreshold: 0.5, MaxDetections: -1},
	} {
		_, err := ApplyNMS(nil, cfg)
		assert.ErrorIs(t, err, common.ErrConfigurationInvalid, "%+v", cfg)
	}
}

func randomBoxes(r *rand.Rand, n int) []common.BBox2D {
	boxes := make([]common.BBox2D, n)
	for i := range boxes {
		boxes[i] = box(
			r.Float32()*400, r.Float32()*400,
			10+r.Float32()*80, 10+r.Float32()*80,
			// Quantised scores so ties happen.
			float32(r.Intn(20))/20, r.Intn(3),
		)
	}
	return boxes
}

func TestApplyNMSProperties(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for trial := 0; trial < 30; trial++ {
		boxes := randomBoxes(r, 200)
		threshold := r.Float32()

		kept, err := Suppress(boxes, threshold)
		require.NoError(t, err)

		for i := 1; i < len(kept); i++ {
			assert.GreaterOrEqual(t, boxes[kept[i-1]].Score, boxes[kept[i]].Score)
		}
		for i := 0; i < len(kept); i++ {
			for j := i + 1; j < len(kept); j++ {
				assert.LessOrEqual(t, boxes[kept[i]].IoU(boxes[kept[j]]), threshold)
			}
		}
	}
}

func TestApplyNMSParallelMatchesSequential(t *testing.T) {
	r := rand.New(rand.NewSource(99))
	boxes := randomBoxes(r, 3000)

	for _, classAware := range []bool{false, true} {
		sequential, err := ApplyNMS(boxes, NMSConfig{IoUThreshold: 0.3, ClassAware: classAware})
		require.NoError(t, err)

		for _, workers := range []int{2, 4, 16} {
			parallel, err := ApplyNMS(boxes, NMSConfig{
				IoUThreshold: 0.3, ClassAware: classAware, NumWorkers: workers,
			})
			require.NoError(t, err)
			assert.Equal(t, sequential, parallel, "workers=%d classAware=%v", workers, classAware)
		}
	}
}

func TestKeep(t *testing.T) {
	boxes := []common.BBox2D{box(0, 0, 1, 1, 0.1, 0), box(5, 5, 1, 1, 0.2, 1)}
	assert.Equal(t, []common.BBox2D{boxes[1], boxes[0]}, Keep(boxes, []int{1, 0}))
}
