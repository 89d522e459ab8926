package inference

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/nvr-ai/go-yolox/common"
	"github.com/nvr-ai/go-yolox/images"
	"github.com/nvr-ai/go-yolox/models"
	"github.com/nvr-ai/go-yolox/models/postprocess"
	"github.com/nvr-ai/go-yolox/models/yolox"
	"github.com/nvr-ai/go-yolox/profiler"
	"github.com/nvr-ai/go-yolox/readback"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorgonia.org/tensor"
)

// ErrNotRunning is returned by Submit before Init or after Shutdown.
var ErrNotRunning = errors.New("pipeline is not running")

// Source delivers the raw output vector through a synchronous buffer copy.
type Source interface {
	Fetch(ctx context.Context) ([]float32, error)
}

// AsyncSource transfers the output texture to the CPU without blocking. It must call
// done exactly once per accepted request, from any goroutine, and return
// common.ErrUnsupportedTransferPath when the environment cannot serve readbacks.
type AsyncSource interface {
	RequestReadback(ctx context.Context, req readback.Request, done readback.CompletionFunc) error
}

// Frame is one raw output vector with the input size it was produced from.
type Frame struct {
	Raw    []float32
	Width  int
	Height int
}

// Detection is a kept box paired with its label and colour.
type Detection struct {
	Box   common.BBox2D `json:"box"`
	Label string        `json:"label"`
	Color models.RGB    `json:"color"`
}

func (d Detection) String() string {
	return fmt.Sprintf("%s (score %.3f): center (%.1f, %.1f), size %.1fx%.1f",
		d.Label, d.Box.Score, d.Box.CenterX, d.Box.CenterY, d.Box.Width, d.Box.Height)
}

// Result is delivered on Results() for every submitted frame that was not superseded.
// Err wraps common.ErrReadbackFailed when the transfer failed; the next Submit
// proceeds normally.
type Result struct {
	RequestID  uint64
	Detections []Detection
	Err        error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithSource attaches the synchronous raw output source.
func WithSource(source Source) Option {
	return func(p *Pipeline) {
		p.source = source
	}
}

// WithAsyncSource attaches the texture readback source. It is only used when
// Config.SupportsAsyncTransfer is set.
func WithAsyncSource(source AsyncSource) Option {
	return func(p *Pipeline) {
		p.async = source
	}
}

// WithProfiler records per-stage timings.
func WithProfiler(prof *profiler.Profiler) Option {
	return func(p *Pipeline) {
		p.profiler = prof
	}
}

// Pipeline decodes raw YOLOX output into labelled detections.
//
// Decode is usable on its own and safe for concurrent use. Submit and Results drive
// the source-based path and require Init; Shutdown releases the destination buffer
// and makes any late readback completion a no-op.
type Pipeline struct {
	cfg      Config
	decoder  yolox.Decoder
	nms      postprocess.NMSConfig
	grid     *yolox.GridCache
	logger   *zap.Logger
	profiler *profiler.Profiler
	source   Source
	async    AsyncSource
	tracker  readback.Tracker

	// mu guards everything below. The destination buffer is written by the completion
	// handler and read by the decode that follows it, both under mu.
	mu            sync.Mutex
	running       bool
	asyncDisabled bool
	buffer        []float32
	results       chan Result
}

// NewPipeline validates cfg and creates a pipeline.
//
// Arguments:
//   - cfg: The pipeline configuration.
//   - opts: Optional logger, sources and profiler.
//
// Returns:
//   - *Pipeline: The pipeline, not yet initialised.
//   - error: ErrConfigurationInvalid if cfg fails validation.
//
// @example
// p, err := NewPipeline(DefaultConfig(), WithSource(session), WithLogger(logger))
//
//	if err != nil {
//	    return err
//	}
//
// defer p.Shutdown()
func NewPipeline(cfg Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		cfg:     cfg,
		decoder: cfg.Decoder(),
		nms:     cfg.NMS(),
		grid:    yolox.NewGridCache(cfg.Strides),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// InputSize crops width x height to the largest stride multiple.
func (p *Pipeline) InputSize(width, height int) image.Point {
	return images.CropToStrideMultiple(image.Point{X: width, Y: height}, images.MaxStride(p.cfg.Strides))
}

// Init allocates the destination buffer and grid table for the configured input
// size and opens the results channel. Calling Init on a running pipeline is a no-op.
func (p *Pipeline) Init(ctx context.Context) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	size := p.InputSize(p.cfg.InputWidth, p.cfg.InputHeight)
	cells := yolox.CellCount(p.cfg.Strides, size.Y, size.X)
	p.buffer = make([]float32, 0, cells*p.cfg.ProposalLength())
	defer func() {
		if err != nil {
			p.buffer = nil
		}
	}()

	if _, err := p.grid.Ensure(size.X, size.Y, cells); err != nil {
		return errors.Wrap(err, "building grid table")
	}

	p.results = make(chan Result, p.cfg.ResultBuffer)
	p.tracker.Reopen()
	p.asyncDisabled = false
	p.running = true

	p.logger.Info("pipeline initialised",
		zap.Int("width", size.X),
		zap.Int("height", size.Y),
		zap.Int("cells", cells),
		zap.Ints("strides", p.grid.Strides()),
		zap.Int("classes", p.cfg.ClassCount()),
		zap.Bool("async_transfer", p.cfg.SupportsAsyncTransfer && p.async != nil),
	)
	return nil
}

// Shutdown releases the destination buffer and closes the results channel. A readback
// still in flight completes into nothing. Calling Shutdown twice is a no-op.
func (p *Pipeline) Shutdown() error {
	p.tracker.Close()

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return nil
	}
	p.running = false
	p.buffer = nil
	close(p.results)

	p.logger.Info("pipeline shut down")
	return nil
}

// Results returns the channel Submit's results are delivered on. It is closed by
// Shutdown and is nil before Init.
func (p *Pipeline) Results() <-chan Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.results
}

// Decode runs grid lookup, proposal decode and NMS over one raw output vector.
//
// Frame dimensions are cropped to the largest stride multiple first. The grid table
// is regenerated when the frame implies a different grid than the cached one.
//
// Arguments:
//   - frame: The raw output and the input size it came from.
//
// Returns:
//   - []Detection: Kept detections, highest score first. Empty means nothing was found.
//   - error: ErrShapeMismatch or ErrConfigurationInvalid when the frame cannot be
//     decoded.
func (p *Pipeline) Decode(frame Frame) ([]Detection, error) {
	proposalLength := p.cfg.ProposalLength()
	if len(frame.Raw)%proposalLength != 0 {
		return nil, errors.Wrapf(common.ErrShapeMismatch,
			"raw output has %d values, not a multiple of proposal length %d", len(frame.Raw), proposalLength)
	}
	size := p.InputSize(frame.Width, frame.Height)
	cells := len(frame.Raw) / proposalLength

	before := p.grid.Builds()
	table, err := p.grid.Ensure(size.X, size.Y, cells)
	if err != nil {
		return nil, err
	}
	if p.grid.Builds() != before {
		p.logger.Debug("grid table rebuilt",
			zap.Int("width", size.X), zap.Int("height", size.Y), zap.Int("cells", cells))
	}

	done := p.profiler.StartOperation(profiler.StageDecode)
	boxes, err := p.decoder.Decode(frame.Raw, table)
	done()
	if err != nil {
		return nil, err
	}

	done = p.profiler.StartOperation(profiler.StageNMS)
	kept, err := postprocess.ApplyNMS(boxes, p.nms)
	done()
	if err != nil {
		return nil, err
	}

	p.logger.Debug("frame decoded",
		zap.Int("cells", cells), zap.Int("candidates", len(boxes)), zap.Int("kept", len(kept)))
	return p.label(boxes, kept), nil
}

// DecodeTensor decodes a model output tensor shaped [..., cells, proposalLength].
func (p *Pipeline) DecodeTensor(t *tensor.Dense, width, height int) ([]Detection, error) {
	raw, err := FromDense(t, p.cfg.ProposalLength())
	if err != nil {
		return nil, err
	}
	return p.Decode(Frame{Raw: raw, Width: width, Height: height})
}

// DecodeReadback reconstructs texture readback pixels and decodes them.
func (p *Pipeline) DecodeReadback(pixels []float32, width, height int) ([]Detection, error) {
	done := p.profiler.StartOperation(profiler.StageReconstruct)
	raw, err := readback.Reconstruct(pixels, p.cfg.ProposalLength())
	done()
	if err != nil {
		return nil, err
	}
	return p.Decode(Frame{Raw: raw, Width: width, Height: height})
}

func (p *Pipeline) label(boxes []common.BBox2D, kept []int) []Detection {
	selected := postprocess.Keep(boxes, kept)
	detections := make([]Detection, 0, len(selected))
	for _, box := range selected {
		entry, _ := p.cfg.Labels.Lookup(box.ClassIndex)
		detections = append(detections, Detection{Box: box, Label: entry.Label, Color: entry.Color})
	}
	return detections
}

// Submit requests the output for a frame of width x height and returns its request
// id. The result arrives on Results().
//
// With SupportsAsyncTransfer and an async source, a texture readback is issued and
// Submit returns immediately. If that source reports ErrUnsupportedTransferPath, or
// async transfer is not configured, the synchronous source is used instead. A newer
// Submit supersedes an older in-flight request, whose completion is then discarded.
//
// Returns:
//   - uint64: The request id.
//   - error: ErrNotRunning, ErrConfigurationInvalid when no usable source is attached,
//     or ErrReadbackFailed when the readback could not be issued.
func (p *Pipeline) Submit(ctx context.Context, width, height int) (uint64, error) {
	p.mu.Lock()
	running := p.running
	useAsync := p.cfg.SupportsAsyncTransfer && p.async != nil && !p.asyncDisabled
	p.mu.Unlock()
	if !running {
		return 0, ErrNotRunning
	}

	if p.tracker.Pending() {
		p.logger.Debug("superseding in-flight request")
	}
	id, ok := p.tracker.Begin()
	if !ok {
		return 0, ErrNotRunning
	}
	size := p.InputSize(width, height)

	if useAsync {
		cells := yolox.CellCount(p.cfg.Strides, size.Y, size.X)
		req := readback.NewRequest(id, p.cfg.ProposalLength(), cells)
		err := p.async.RequestReadback(ctx, req, func(resp readback.Response) {
			p.complete(resp, size)
		})
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, common.ErrUnsupportedTransferPath) {
			p.tracker.Complete(id)
			return id, errors.Wrapf(common.ErrReadbackFailed, "issuing readback %d: %v", id, err)
		}

		p.logger.Info("async transfer unsupported, using synchronous copy", zap.Error(err))
		p.mu.Lock()
		p.asyncDisabled = true
		p.mu.Unlock()
	}

	if p.source == nil {
		p.tracker.Complete(id)
		return id, errors.Wrap(common.ErrConfigurationInvalid, "no synchronous source attached")
	}

	raw, err := p.source.Fetch(ctx)
	if !p.tracker.Complete(id) {
		p.logger.Warn("discarding superseded frame", zap.Uint64("request_id", id))
		return id, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return id, nil
	}
	if err != nil {
		p.publish(Result{RequestID: id, Err: errors.Wrap(err, "fetching raw output")})
		return id, nil
	}
	detections, err := p.Decode(Frame{Raw: raw, Width: size.X, Height: size.Y})
	p.publish(Result{RequestID: id, Detections: detections, Err: err})
	return id, nil
}

// complete handles a readback completion. It never panics and never writes into the
// destination buffer once the pipeline is shut down.
func (p *Pipeline) complete(resp readback.Response, size image.Point) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("readback completion panicked", zap.Uint64("request_id", resp.ID), zap.Any("panic", r))
		}
	}()

	if !p.tracker.Complete(resp.ID) {
		p.logger.Warn("discarding stale readback", zap.Uint64("request_id", resp.ID))
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}

	if resp.Err != nil {
		p.logger.Warn("readback failed, skipping frame", zap.Uint64("request_id", resp.ID), zap.Error(resp.Err))
		p.publish(Result{
			RequestID: resp.ID,
			Err:       errors.Wrapf(common.ErrReadbackFailed, "request %d: %v", resp.ID, resp.Err),
		})
		return
	}

	done := p.profiler.StartOperation(profiler.StageReconstruct)
	raw, err := readback.ReconstructInto(p.buffer, resp.Pixels, p.cfg.ProposalLength())
	done()
	if err != nil {
		p.publish(Result{RequestID: resp.ID, Err: err})
		return
	}
	p.buffer = raw

	detections, err := p.Decode(Frame{Raw: p.buffer, Width: size.X, Height: size.Y})
	p.publish(Result{RequestID: resp.ID, Detections: detections, Err: err})
}

// publish must be called with mu held while running.
func (p *Pipeline) publish(r Result) {
	select {
	case p.results <- r:
	default:
		p.logger.Warn("results channel full, dropping frame", zap.Uint64("request_id", r.RequestID))
	}
}
