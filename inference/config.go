// Package inference - YOLOX decode pipeline configuration.
package inference

import (
	"path/filepath"

	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-yolox/common"
	"github.com/nvr-ai/go-yolox/models"
	"github.com/nvr-ai/go-yolox/models/postprocess"
	"github.com/nvr-ai/go-yolox/models/yolox"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the per-pipeline configuration. Every pipeline owns its own copy; there is
// no process-wide label table or threshold.
type Config struct {
	// ConfidenceThreshold filters candidates below objectness x class score.
	ConfidenceThreshold float32 `json:"confidence_threshold" yaml:"confidence_threshold" mapstructure:"confidence_threshold"`

	// IoUThreshold controls Non-Maximum Suppression.
	IoUThreshold float32 `json:"iou_threshold" yaml:"iou_threshold" mapstructure:"iou_threshold"`

	// Strides are the feature map strides, finest first.
	Strides []int `json:"strides" yaml:"strides" mapstructure:"strides"`

	// InputWidth and InputHeight are the default network input size. They are cropped
	// to a multiple of the largest stride before use.
	InputWidth  int `json:"input_width" yaml:"input_width" mapstructure:"input_width"`
	InputHeight int `json:"input_height" yaml:"input_height" mapstructure:"input_height"`

	// ClassAware restricts suppression to boxes of the same class.
	ClassAware bool `json:"class_aware" yaml:"class_aware" mapstructure:"class_aware"`

	// MaxDetections caps the detections per frame (0 = unlimited).
	MaxDetections int `json:"max_detections" yaml:"max_detections" mapstructure:"max_detections"`

	// Workers parallelises decode and NMS when greater than 1.
	Workers int `json:"workers" yaml:"workers" mapstructure:"workers"`

	// Activation is applied to objectness and class scores before scoring.
	Activation yolox.Activation `json:"activation" yaml:"activation" mapstructure:"activation"`

	// SupportsAsyncTransfer enables the texture readback path when an async source is
	// attached.
	SupportsAsyncTransfer bool `json:"supports_async_transfer" yaml:"supports_async_transfer" mapstructure:"supports_async_transfer"`

	// ResultBuffer is the capacity of the results channel, at least 1.
	ResultBuffer int `json:"result_buffer" yaml:"result_buffer" mapstructure:"result_buffer"`

	// LabelsPath points at a label table file; relative paths resolve against the
	// config file's directory.
	LabelsPath string `json:"labels_path" yaml:"labels_path" mapstructure:"labels_path"`

	// Labels is the label/colour table; its length is the class count.
	Labels models.ColorMap `json:"labels" yaml:"labels" mapstructure:"labels"`
}

// DefaultConfig returns a configuration for COCO-trained YOLOX models.
//
// Returns:
//   - Config: Defaults of confidence 0.5, IoU 0.45, strides [8, 16, 32], 640x640 input.
//
// @example
// cfg := DefaultConfig()
// cfg.ConfidenceThreshold = 0.3
// p, err := NewPipeline(cfg)
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.5,
		IoUThreshold:        0.45,
		Strides:             append([]int(nil), yolox.DefaultStrides...),
		InputWidth:          640,
		InputHeight:         640,
		Workers:             1,
		Activation:          yolox.ActivationNone,
		ResultBuffer:        4,
		Labels:              models.COCOColorMap(),
	}
}

// LoadConfig reads a yaml, json or toml configuration file. Keys missing from the
// file keep their DefaultConfig values; the COCO table is used when neither labels
// nor labels_path is given.
//
// Arguments:
//   - path: The configuration file.
//
// Returns:
//   - Config: The validated configuration.
//   - error: ErrConfigurationInvalid if the file cannot be read or fails validation.
func LoadConfig(path string) (Config, error) {
	defaults := DefaultConfig()

	v := viper.New()
	v.SetDefault("confidence_threshold", defaults.ConfidenceThreshold)
	v.SetDefault("iou_threshold", defaults.IoUThreshold)
	v.SetDefault("strides", defaults.Strides)
	v.SetDefault("input_width", defaults.InputWidth)
	v.SetDefault("input_height", defaults.InputHeight)
	v.SetDefault("workers", defaults.Workers)
	v.SetDefault("activation", string(defaults.Activation))
	v.SetDefault("result_buffer", defaults.ResultBuffer)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, errors.Wrapf(common.ErrConfigurationInvalid, "reading config %s: %v", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrapf(common.ErrConfigurationInvalid, "decoding config %s: %v", path, err)
	}

	if len(cfg.Labels) == 0 {
		if cfg.LabelsPath == "" {
			cfg.Labels = defaults.Labels
		} else {
			labelsPath := cfg.LabelsPath
			if !filepath.IsAbs(labelsPath) {
				labelsPath = filepath.Join(filepath.Dir(path), labelsPath)
			}
			labels, err := models.LoadColorMap(labelsPath)
			if err != nil {
				return Config{}, err
			}
			cfg.Labels = labels
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Validate reports ErrConfigurationInvalid for any setting the pipeline cannot run
// with.
func (c Config) Validate() error {
	if err := c.Labels.Validate(); err != nil {
		return err
	}
	if !(c.ConfidenceThreshold > 0 && c.ConfidenceThreshold <= 1) {
		return errors.Wrapf(common.ErrConfigurationInvalid,
			"confidence threshold %f outside (0,1]", c.ConfidenceThreshold)
	}
	if c.IoUThreshold < 0 || c.IoUThreshold > 1 || math32.IsNaN(c.IoUThreshold) {
		return errors.Wrapf(common.ErrConfigurationInvalid, "IoU threshold %f outside [0,1]", c.IoUThreshold)
	}
	if len(c.Strides) == 0 {
		return errors.Wrap(common.ErrConfigurationInvalid, "no strides configured")
	}
	for i, s := range c.Strides {
		if s <= 0 {
			return errors.Wrapf(common.ErrConfigurationInvalid, "stride %d is not positive", s)
		}
		if i > 0 && s <= c.Strides[i-1] {
			return errors.Wrapf(common.ErrConfigurationInvalid, "strides %v are not strictly ascending", c.Strides)
		}
	}
	if c.InputWidth <= 0 || c.InputHeight <= 0 {
		return errors.Wrapf(common.ErrConfigurationInvalid,
			"invalid input dimensions %dx%d", c.InputWidth, c.InputHeight)
	}
	if c.MaxDetections < 0 || c.Workers < 0 {
		return errors.Wrap(common.ErrConfigurationInvalid, "max_detections and workers must not be negative")
	}
	// Results are published without blocking, so an unbuffered channel would drop them.
	if c.ResultBuffer < 1 {
		return errors.Wrapf(common.ErrConfigurationInvalid, "result_buffer %d must be at least 1", c.ResultBuffer)
	}
	return c.Decoder().Validate()
}

// ClassCount is the number of labels.
func (c Config) ClassCount() int {
	return len(c.Labels)
}

// ProposalLength is NumBBoxFields + ClassCount.
func (c Config) ProposalLength() int {
	return yolox.ProposalLength(c.ClassCount())
}

// Decoder builds the proposal decoder for this configuration.
func (c Config) Decoder() yolox.Decoder {
	return yolox.Decoder{
		ClassCount:          c.ClassCount(),
		ConfidenceThreshold: c.ConfidenceThreshold,
		Activation:          c.Activation,
		Workers:             c.Workers,
	}
}

// NMS builds the suppression configuration.
func (c Config) NMS() postprocess.NMSConfig {
	return postprocess.NMSConfig{
		IoUThreshold:  c.IoUThreshold,
		ClassAware:    c.ClassAware,
		NumWorkers:    c.Workers,
		MaxDetections: c.MaxDetections,
	}
}
