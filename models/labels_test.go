package models

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/go-yolox/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadColorMapYAML(t *testing.T) {
	path := writeFile(t, "labels.yaml", `
labels:
  - label: person
    color: {r: 1, g: 0, b: 0}
  - label: car
    color: {r: 0, g: 0.5, b: 1}
`)
	m, err := LoadColorMap(path)
	require.NoError(t, err)
	require.Len(t, m, 2)
	assert.Equal(t, "person", m[0].Label)
	assert.Equal(t, RGB{R: 1}, m[0].Color)
	assert.Equal(t, "car", m[1].Label)
	assert.InDelta(t, 0.5, m[1].Color.G, 1e-6)
}

func TestLoadColorMapJSON(t *testing.T) {
	path := writeFile(t, "labels.json", `{"labels":[{"label":"dog","color":{"r":0.2,"g":0.4,"b":0.6}}]}`)
	m, err := LoadColorMap(path)
	require.NoError(t, err)
	require.Len(t, m, 1)
	assert.Equal(t, "dog", m[0].Label)
}

func TestLoadColorMapErrors(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(t.TempDir(), "nope.yaml")},
		{"empty table", writeFile(t, "empty.yaml", "labels: []\n")},
		{"unparseable", writeFile(t, "broken.json", "{labels: [")},
		{"blank label", writeFile(t, "blank.yaml", "labels:\n  - label: \"\"\n")},
		{"channel out of range", writeFile(t, "range.yaml", "labels:\n  - label: a\n    color: {r: 2, g: 0, b: 0}\n")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadColorMap(tt.path)
			require.Error(t, err)
			assert.ErrorIs(t, err, common.ErrConfigurationInvalid)
		})
	}
}

func TestColorMapLookup(t *testing.T) {
	m := NewColorMap([]string{"a", "b"})
	e, ok := m.Lookup(1)
	assert.True(t, ok)
	assert.Equal(t, "b", e.Label)

	_, ok = m.Lookup(2)
	assert.False(t, ok)
	_, ok = m.Lookup(-1)
	assert.False(t, ok)
}

func TestCOCOColorMap(t *testing.T) {
	m := COCOColorMap()
	require.Len(t, m, 80)
	require.NoError(t, m.Validate())
	assert.Equal(t, "person", m[0].Label)
	assert.Equal(t, "toothbrush", m[79].Label)
	assert.NotEqual(t, m[0].Color, m[1].Color)
}

func TestRGBToRGBA(t *testing.T) {
	assert.Equal(t, color.RGBA{R: 255, G: 128, B: 0, A: 255}, RGB{R: 1, G: 0.5, B: 0}.RGBA())
	assert.Equal(t, color.RGBA{R: 255, A: 255}, RGB{R: 3, G: -1}.RGBA())
}
