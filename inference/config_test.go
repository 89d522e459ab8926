package inference

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/go-yolox/common"
	"github.com/nvr-ai/go-yolox/models"
	"github.com/nvr-ai/go-yolox/models/yolox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, float32(0.5), cfg.ConfidenceThreshold)
	assert.Equal(t, float32(0.45), cfg.IoUThreshold)
	assert.Equal(t, []int{8, 16, 32}, cfg.Strides)
	assert.Equal(t, 80, cfg.ClassCount())
	assert.Equal(t, 85, cfg.ProposalLength())

	cfg.Strides[0] = 4
	assert.Equal(t, []int{8, 16, 32}, yolox.DefaultStrides)
}

func TestLoadConfigYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "pipeline.yaml", `
confidence_threshold: 0.3
strides: [16, 32]
input_width: 320
input_height: 256
class_aware: true
activation: sigmoid
labels:
  - label: cat
    color: {r: 1, g: 0, b: 0}
  - label: dog
    color: {r: 0, g: 0, b: 1}
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, float32(0.3), cfg.ConfidenceThreshold)
	assert.Equal(t, float32(0.45), cfg.IoUThreshold)
	assert.Equal(t, []int{16, 32}, cfg.Strides)
	assert.Equal(t, 320, cfg.InputWidth)
	assert.Equal(t, 256, cfg.InputHeight)
	assert.True(t, cfg.ClassAware)
	assert.Equal(t, yolox.ActivationSigmoid, cfg.Activation)
	assert.Equal(t, 2, cfg.ClassCount())
	assert.Equal(t, "dog", cfg.Labels[1].Label)
	assert.Equal(t, float32(1), cfg.Labels[1].Color.B)
}

func TestLoadConfigDefaultsAndLabelsPath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "labels.json", `{"labels": [{"label": "drone", "color": {"r": 0.5, "g": 0.5, "b": 0}}]}`)

	cfg, err := LoadConfig(writeFile(t, dir, "pipeline.json", `{"labels_path": "labels.json"}`))
	require.NoError(t, err)
	assert.Equal(t, models.ColorMap{{Label: "drone", Color: models.RGB{R: 0.5, G: 0.5}}}, cfg.Labels)
	assert.Equal(t, []int{8, 16, 32}, cfg.Strides)
	assert.Equal(t, 640, cfg.InputWidth)

	cfg, err = LoadConfig(writeFile(t, dir, "empty.yaml", "workers: 2\n"))
	require.NoError(t, err)
	assert.Equal(t, 80, cfg.ClassCount())
	assert.Equal(t, 2, cfg.Workers)
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{"confidence zero", "confidence_threshold: 0\n"},
		{"confidence above one", "confidence_threshold: 1.5\n"},
		{"iou negative", "iou_threshold: -0.1\n"},
		{"empty strides", "strides: []\n"},
		{"descending strides", "strides: [32, 16, 8]\n"},
		{"zero width", "input_width: 0\n"},
		{"unknown activation", "activation: relu\n"},
		{"missing labels file", "labels_path: nowhere.yaml\n"},
		{"bad colour", "labels:\n  - label: x\n    color: {r: 2, g: 0, b: 0}\n"},
		{"unparseable", "confidence_threshold: [\n"},
		{"unbuffered results", "result_buffer: 0\n"},
		{"negative workers", "workers: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeFile(t, dir, "pipeline.yaml", tt.content))
			assert.ErrorIs(t, err, common.ErrConfigurationInvalid)
		})
	}

	_, err := LoadConfig(filepath.Join(dir, "absent.yaml"))
	assert.ErrorIs(t, err, common.ErrConfigurationInvalid)
}

func TestConfigValidateResultBuffer(t *testing.T) {
	cfg := testConfig()
	cfg.ResultBuffer = 0
	assert.ErrorIs(t, cfg.Validate(), common.ErrConfigurationInvalid)

	_, err := NewPipeline(cfg)
	assert.ErrorIs(t, err, common.ErrConfigurationInvalid)

	cfg.ResultBuffer = 1
	require.NoError(t, cfg.Validate())
}

func TestConfigBuilders(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 4
	cfg.ClassAware = true
	cfg.MaxDetections = 10

	d := cfg.Decoder()
	assert.Equal(t, 80, d.ClassCount)
	assert.Equal(t, 4, d.Workers)

	n := cfg.NMS()
	assert.Equal(t, float32(0.45), n.IoUThreshold)
	assert.True(t, n.ClassAware)
	assert.Equal(t, 10, n.MaxDetections)
}
