package providers

import (
	"context"
	"image"
	"os"
	"sync"

	"github.com/nvr-ai/go-yolox/common"
	"github.com/nvr-ai/go-yolox/inference"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
	"gorgonia.org/tensor"
)

var initOnce sync.Once
var initErr error

// SessionArgs describes the model a Session runs.
type SessionArgs struct {
	// ModelPath is the path to the YOLOX ONNX model.
	ModelPath string
	// InputName and OutputName are the graph node names. They default to "images" and
	// "output".
	InputName  string
	OutputName string
	// Width and Height are the network input size, already a multiple of the largest
	// stride.
	Width  int
	Height int
	// CellCount is the number of proposals the model emits for Width x Height.
	CellCount int
	// ProposalLength is common.NumBBoxFields + class count.
	ProposalLength int
	// Options selects the execution provider.
	Options Options
}

// Session runs a YOLOX model with ONNX Runtime and hands the raw output vector to the
// decode pipeline. It implements inference.Source.
type Session struct {
	mu      sync.Mutex
	args    SessionArgs
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	logger  *zap.Logger
}

// NewSession creates an ONNX Runtime session with preallocated input and output
// tensors.
//
// Order of operations:
//  1. Library path check: Ensures the native runtime is accessible.
//  2. Environment setup: Loads the native library once per process.
//  3. Tensor allocation: [1, 3, H, W] input and [1, cells, 5 + classes] output.
//  4. Session options and execution provider.
//  5. Session creation: Binds the tensors to the model.
//
// Arguments:
//   - args: The model and its tensor shapes.
//   - logger: Logger for lifecycle events. Nil discards.
//
// Returns:
//   - *Session: The runnable session. Call Close to release native resources.
//   - error: ErrConfigurationInvalid for bad arguments or a missing runtime library.
func NewSession(args SessionArgs, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if args.Width <= 0 || args.Height <= 0 || args.CellCount <= 0 || args.ProposalLength <= common.NumBBoxFields {
		return nil, errors.Wrapf(common.ErrConfigurationInvalid,
			"invalid session shape %dx%d, %d cells, proposal length %d",
			args.Width, args.Height, args.CellCount, args.ProposalLength)
	}
	if err := args.Options.Validate(); err != nil {
		return nil, err
	}
	if args.InputName == "" {
		args.InputName = "images"
	}
	if args.OutputName == "" {
		args.OutputName = "output"
	}

	libPath := GetSharedLibPath()
	if _, err := os.Stat(libPath); libPath == "" || err != nil {
		return nil, errors.Wrapf(common.ErrConfigurationInvalid,
			"ONNX Runtime library not found at %q (set %s)", libPath, LibraryPathEnv)
	}

	initOnce.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, errors.Wrap(initErr, "initializing ONNX Runtime environment")
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(args.Height), int64(args.Width)))
	if err != nil {
		return nil, errors.Wrap(err, "creating input tensor")
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(args.CellCount), int64(args.ProposalLength)))
	if err != nil {
		input.Destroy()
		return nil, errors.Wrap(err, "creating output tensor")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrap(err, "creating session options")
	}
	defer options.Destroy()
	if err := args.Options.apply(options); err != nil {
		input.Destroy()
		output.Destroy()
		return nil, err
	}

	session, err := ort.NewAdvancedSession(
		args.ModelPath,
		[]string{args.InputName},
		[]string{args.OutputName},
		[]ort.Value{input},
		[]ort.Value{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrapf(err, "creating session for %s", args.ModelPath)
	}

	logger.Info("onnx session created",
		zap.String("model", args.ModelPath),
		zap.String("backend", string(args.Options.Backend)),
		zap.Int("width", args.Width),
		zap.Int("height", args.Height),
	)
	return &Session{args: args, session: session, input: input, output: output, logger: logger}, nil
}

// SetInput copies a CHW float32 image into the input tensor.
func (s *Session) SetInput(chw []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return errors.New("session is closed")
	}
	data := s.input.GetData()
	if len(chw) != len(data) {
		return errors.Wrapf(common.ErrShapeMismatch, "input has %d values, tensor holds %d", len(chw), len(data))
	}
	copy(data, chw)
	return nil
}

// SetImage writes img into the input tensor as unnormalised BGR planes, the layout
// YOLOX models are exported with. img must already match the session input size.
func (s *Session) SetImage(img image.Image) error {
	b := img.Bounds()
	if b.Dx() != s.args.Width || b.Dy() != s.args.Height {
		return errors.Wrapf(common.ErrShapeMismatch, "image is %dx%d, session expects %dx%d",
			b.Dx(), b.Dy(), s.args.Width, s.args.Height)
	}
	return s.SetInput(ToCHW(img))
}

// Output runs the model and returns a [1, cells, proposalLength] tensor backed by a
// copy of the output, so it stays valid across later runs.
func (s *Session) Output(ctx context.Context) (*tensor.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, errors.New("session is closed")
	}
	if err := s.session.Run(); err != nil {
		return nil, errors.Wrap(err, "running session")
	}
	out := s.output.GetData()
	backing := make([]float32, len(out))
	copy(backing, out)
	return tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(1, s.args.CellCount, s.args.ProposalLength),
		tensor.WithBacking(backing),
	), nil
}

// Fetch runs the model and returns the raw output vector. It implements
// inference.Source.
func (s *Session) Fetch(ctx context.Context) ([]float32, error) {
	output, err := s.Output(ctx)
	if err != nil {
		return nil, err
	}
	return inference.FromDense(output, s.args.ProposalLength)
}

// Close releases the resources associated with the Session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.input.Destroy()
	s.output.Destroy()
	s.session = nil
	if err != nil {
		return errors.Wrap(err, "destroying session")
	}
	return nil
}

// ToCHW converts img into planar B, G, R float32 values in [0, 255].
func ToCHW(img image.Image) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h
	chw := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := y*w + x
			chw[i] = float32(bl >> 8)
			chw[plane+i] = float32(g >> 8)
			chw[2*plane+i] = float32(r >> 8)
		}
	}
	return chw
}
