// Command yolox-decode decodes YOLOX output into labelled detections. The output comes
// from a raw float32 dump (optionally in texture readback order) or from running an
// ONNX model over an image.
package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"image"
	"os"
	"time"

	"github.com/nvr-ai/go-yolox/images"
	"github.com/nvr-ai/go-yolox/inference"
	"github.com/nvr-ai/go-yolox/inference/providers"
	"github.com/nvr-ai/go-yolox/models/yolox"
	"github.com/nvr-ai/go-yolox/overlay"
	"github.com/nvr-ai/go-yolox/profiler"
	"github.com/nvr-ai/go-yolox/util"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

type options struct {
	configPath string
	rawPath    string
	readback   bool
	width      int
	height     int
	modelPath  string
	backend    string
	imagePath  string
	outPath    string
	mode       string
	timeout    time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Pipeline configuration file (yaml, json or toml)")
	flag.StringVar(&opts.rawPath, "raw", "", "Little-endian float32 dump of the model output")
	flag.BoolVar(&opts.readback, "readback", false, "The raw dump is in texture readback order")
	flag.IntVar(&opts.width, "width", 0, "Input width the output was produced from (defaults to the config or image)")
	flag.IntVar(&opts.height, "height", 0, "Input height the output was produced from (defaults to the config or image)")
	flag.StringVar(&opts.modelPath, "model", "", "YOLOX ONNX model to run over -image instead of reading -raw")
	flag.StringVar(&opts.backend, "backend", string(providers.CPUBackend), "ONNX Runtime execution provider")
	flag.StringVar(&opts.imagePath, "image", "", "Input image (.jpg, .png, ...)")
	flag.StringVar(&opts.outPath, "out", "", "Write the annotated image here")
	flag.StringVar(&opts.mode, "mode", "debug", "Log mode: release or debug")
	flag.DurationVar(&opts.timeout, "timeout", 10*time.Second, "Maximum time to wait for a result")
	flag.Parse()

	logger, err := util.NewLogger(opts.mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(opts, logger); err != nil {
		logger.Error("decode failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(opts options, logger *zap.Logger) error {
	cfg := inference.DefaultConfig()
	if opts.configPath != "" {
		var err error
		if cfg, err = inference.LoadConfig(opts.configPath); err != nil {
			return err
		}
	}

	var img image.Image
	if opts.imagePath != "" {
		var err error
		if img, err = loadImage(opts.imagePath, images.MaxStride(cfg.Strides)); err != nil {
			return err
		}
		cfg.InputWidth, cfg.InputHeight = img.Bounds().Dx(), img.Bounds().Dy()
	}
	if opts.width > 0 && opts.height > 0 {
		cfg.InputWidth, cfg.InputHeight = opts.width, opts.height
	}

	prof := profiler.New(profiler.DefaultMaxSamples)
	defer prof.Report(logger)

	var detections []inference.Detection
	var err error
	switch {
	case opts.modelPath != "":
		detections, err = runModel(opts, cfg, img, prof, logger)
	case opts.rawPath != "":
		detections, err = runRaw(opts, cfg, prof, logger)
	default:
		return errors.New("one of -raw or -model is required")
	}
	if err != nil {
		return err
	}

	fmt.Printf("Found %d objects\n", len(detections))
	for i, d := range detections {
		fmt.Printf("Object %d: %s\n", i+1, d)
	}

	if opts.outPath != "" {
		if img == nil {
			return errors.New("-out requires -image")
		}
		checksum, err := overlay.Annotate(img, detections, opts.outPath)
		if err != nil {
			return err
		}
		logger.Info("annotated image saved", zap.String("path", opts.outPath), zap.String("md5", checksum))
	}
	return nil
}

// runRaw decodes a float32 dump read from disk.
func runRaw(opts options, cfg inference.Config, prof *profiler.Profiler, logger *zap.Logger) ([]inference.Detection, error) {
	raw, err := readFloats(opts.rawPath)
	if err != nil {
		return nil, err
	}
	logger.Debug("raw output loaded", zap.String("path", opts.rawPath), zap.Int("values", len(raw)))

	p, err := inference.NewPipeline(cfg, inference.WithLogger(logger), inference.WithProfiler(prof))
	if err != nil {
		return nil, err
	}
	if opts.readback {
		return p.DecodeReadback(raw, cfg.InputWidth, cfg.InputHeight)
	}
	output, err := inference.ToDense(raw, cfg.ProposalLength())
	if err != nil {
		return nil, err
	}
	logger.Debug("decoding output tensor", zap.Ints("shape", output.Shape()))
	return p.DecodeTensor(output, cfg.InputWidth, cfg.InputHeight)
}

// runModel feeds img through an ONNX Runtime session and waits for the pipeline result.
func runModel(opts options, cfg inference.Config, img image.Image, prof *profiler.Profiler, logger *zap.Logger) ([]inference.Detection, error) {
	if img == nil {
		return nil, errors.New("-model requires -image")
	}
	size := img.Bounds().Size()
	session, err := providers.NewSession(providers.SessionArgs{
		ModelPath:      opts.modelPath,
		Width:          size.X,
		Height:         size.Y,
		CellCount:      yolox.CellCount(cfg.Strides, size.Y, size.X),
		ProposalLength: cfg.ProposalLength(),
		Options:        providers.Options{Backend: providers.Backend(opts.backend)},
	}, logger)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	if err := session.SetImage(img); err != nil {
		return nil, err
	}

	p, err := inference.NewPipeline(cfg,
		inference.WithLogger(logger),
		inference.WithProfiler(prof),
		inference.WithSource(session),
	)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()
	if err := p.Init(ctx); err != nil {
		return nil, err
	}
	defer p.Shutdown()

	id, err := p.Submit(ctx, size.X, size.Y)
	if err != nil {
		return nil, err
	}
	select {
	case r := <-p.Results():
		if r.RequestID != id {
			return nil, errors.Errorf("got result %d, want %d", r.RequestID, id)
		}
		return r.Detections, r.Err
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "waiting for result")
	}
}

func readFloats(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	if len(data)%4 != 0 {
		return nil, errors.Errorf("%s holds %d bytes, not a whole number of float32 values", path, len(data))
	}
	raw := make([]float32, len(data)/4)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, raw); err != nil {
		return nil, errors.Wrapf(err, "decoding %s", path)
	}
	return raw, nil
}

// loadImage reads path with OpenCV and resizes it so both sides are stride multiples.
func loadImage(path string, maxStride int) (image.Image, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		return nil, errors.Errorf("error reading image: %s", path)
	}
	defer mat.Close()

	img, err := mat.ToImage()
	if err != nil {
		return nil, errors.Wrapf(err, "converting %s", path)
	}
	return images.FitToStride(img, maxStride), nil
}
