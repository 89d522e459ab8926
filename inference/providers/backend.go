// Package providers - ONNX Runtime execution providers and the session that feeds raw
// YOLOX output into the decode pipeline.
package providers

import (
	"fmt"

	"github.com/nvr-ai/go-yolox/common"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// Backend names an ONNX Runtime execution provider.
type Backend string

const (
	// CPUBackend runs on the default CPU execution provider.
	CPUBackend Backend = "cpu"
	// CoreMLBackend uses Apple CoreML.
	CoreMLBackend Backend = "coreml"
	// CUDABackend uses NVIDIA CUDA.
	CUDABackend Backend = "cuda"
	// OpenVINOBackend uses Intel OpenVINO.
	OpenVINOBackend Backend = "openvino"
)

// Options selects and tunes the execution provider.
type Options struct {
	// Backend defaults to CPUBackend when empty.
	Backend Backend `json:"backend" yaml:"backend" mapstructure:"backend"`
	// DeviceID selects the GPU for CUDA.
	DeviceID int `json:"device_id" yaml:"device_id" mapstructure:"device_id"`
	// DeviceType is the OpenVINO device, e.g. "CPU" or "GPU".
	DeviceType string `json:"device_type" yaml:"device_type" mapstructure:"device_type"`
	// Threads sets intra-op parallelism; 0 lets the runtime decide.
	Threads int `json:"threads" yaml:"threads" mapstructure:"threads"`
}

// Validate reports an unknown backend.
func (o Options) Validate() error {
	switch o.Backend {
	case "", CPUBackend, CoreMLBackend, CUDABackend, OpenVINOBackend:
		return nil
	default:
		return errors.Wrapf(common.ErrConfigurationInvalid, "unknown execution provider %q", o.Backend)
	}
}

// apply configures session options for the selected backend.
func (o Options) apply(options *ort.SessionOptions) error {
	if err := options.SetIntraOpNumThreads(o.Threads); err != nil {
		return errors.Wrap(err, "setting intra-op threads")
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		return errors.Wrap(err, "setting graph optimization level")
	}

	switch o.Backend {
	case "", CPUBackend:
		return nil
	case CoreMLBackend:
		return errors.Wrap(options.AppendExecutionProviderCoreML(0), "enabling CoreML")
	case OpenVINOBackend:
		deviceType := o.DeviceType
		if deviceType == "" {
			deviceType = "CPU"
		}
		return errors.Wrap(options.AppendExecutionProviderOpenVINO(map[string]string{
			"device_type": deviceType,
		}), "enabling OpenVINO")
	case CUDABackend:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return errors.Wrap(err, "creating CUDA options")
		}
		defer cuda.Destroy()
		if err := cuda.Update(map[string]string{"device_id": fmt.Sprintf("%d", o.DeviceID)}); err != nil {
			return errors.Wrap(err, "updating CUDA options")
		}
		return errors.Wrap(options.AppendExecutionProviderCUDA(cuda), "enabling CUDA")
	}
	return o.Validate()
}
