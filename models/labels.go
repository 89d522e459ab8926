// Package models - label and colour tables indexed by class.
package models

import (
	"image/color"

	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-yolox/common"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// RGB is a colour with channels in [0, 1].
type RGB struct {
	R float32 `json:"r" yaml:"r" mapstructure:"r"`
	G float32 `json:"g" yaml:"g" mapstructure:"g"`
	B float32 `json:"b" yaml:"b" mapstructure:"b"`
}

// RGBA converts the colour to an 8-bit opaque color.RGBA.
func (c RGB) RGBA() color.RGBA {
	return color.RGBA{
		R: uint8(clamp01(c.R)*255 + 0.5),
		G: uint8(clamp01(c.G)*255 + 0.5),
		B: uint8(clamp01(c.B)*255 + 0.5),
		A: 255,
	}
}

func clamp01(v float32) float32 {
	return math32.Max(0, math32.Min(1, v))
}

// ColorMapEntry is the label and colour for one class index.
type ColorMapEntry struct {
	Label string `json:"label" yaml:"label" mapstructure:"label"`
	Color RGB    `json:"color" yaml:"color" mapstructure:"color"`
}

// ColorMap is indexed by BBox2D.ClassIndex; its length is the class count.
type ColorMap []ColorMapEntry

// Validate reports ErrConfigurationInvalid for an empty table, blank labels, or
// colour channels outside [0, 1].
func (m ColorMap) Validate() error {
	if len(m) == 0 {
		return errors.Wrap(common.ErrConfigurationInvalid, "label table is empty")
	}
	for i, e := range m {
		if e.Label == "" {
			return errors.Wrapf(common.ErrConfigurationInvalid, "label %d is blank", i)
		}
		for _, ch := range []float32{e.Color.R, e.Color.G, e.Color.B} {
			if ch < 0 || ch > 1 {
				return errors.Wrapf(common.ErrConfigurationInvalid,
					"label %d (%s) has colour channel %f outside [0,1]", i, e.Label, ch)
			}
		}
	}
	return nil
}

// Lookup returns the entry for a class index. Out of range indices return false.
func (m ColorMap) Lookup(idx int) (ColorMapEntry, bool) {
	if idx < 0 || idx >= len(m) {
		return ColorMapEntry{}, false
	}
	return m[idx], true
}

// LoadColorMap reads a label table from a yaml, json or toml file of the form:
//
//	labels:
//	  - label: person
//	    color: {r: 1, g: 0, b: 0}
//
// Arguments:
//   - path: The file to read. The format is chosen from the extension.
//
// Returns:
//   - ColorMap: The validated table.
//   - error: ErrConfigurationInvalid if the file is missing, unparseable or empty.
func LoadColorMap(path string) (ColorMap, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(common.ErrConfigurationInvalid, "reading label table %s: %v", path, err)
	}

	var doc struct {
		Labels ColorMap `mapstructure:"labels"`
	}
	if err := v.Unmarshal(&doc); err != nil {
		return nil, errors.Wrapf(common.ErrConfigurationInvalid, "decoding label table %s: %v", path, err)
	}
	if err := doc.Labels.Validate(); err != nil {
		return nil, errors.Wrapf(err, "label table %s", path)
	}
	return doc.Labels, nil
}

// NewColorMap pairs every label with a colour from an evenly spread hue palette.
func NewColorMap(labels []string) ColorMap {
	m := make(ColorMap, len(labels))
	for i, l := range labels {
		m[i] = ColorMapEntry{Label: l, Color: paletteColor(i)}
	}
	return m
}

// paletteColor walks the hue circle by the golden ratio so neighbouring class
// indices get distinct colours.
func paletteColor(i int) RGB {
	const goldenRatio = 0.618033988749895
	h := math32.Mod(float32(i)*goldenRatio, 1) * 6
	const s, v = float32(0.75), float32(0.95)

	sector := int(h)
	f := h - float32(sector)
	p := v * (1 - s)
	q := v * (1 - s*f)
	t := v * (1 - s*(1-f))

	switch sector {
	case 0:
		return RGB{v, t, p}
	case 1:
		return RGB{q, v, p}
	case 2:
		return RGB{p, v, t}
	case 3:
		return RGB{p, q, v}
	case 4:
		return RGB{t, p, v}
	default:
		return RGB{v, p, q}
	}
}

// COCOLabels are the 80 COCO classes in YOLOX output order (no background class).
var COCOLabels = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog", "horse",
	"sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack", "umbrella", "handbag", "tie",
	"suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite", "baseball bat", "baseball glove",
	"skateboard", "surfboard", "tennis racket", "bottle", "wine glass", "cup", "fork", "knife", "spoon",
	"bowl", "banana", "apple", "sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut",
	"cake", "chair", "couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator", "book",
	"clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

// COCOColorMap returns the COCO label table with palette colours.
func COCOColorMap() ColorMap {
	return NewColorMap(COCOLabels)
}
