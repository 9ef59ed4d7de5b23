package inference

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/nvr-ai/inference-lambda/fault"
	"github.com/nvr-ai/inference-lambda/inference/providers"
)

// SessionArgs represents the arguments for creating a new ONNX session.
type SessionArgs struct {
	// The path to the ONNX model file.
	ModelPath string
	// The input node names expected by the model, in feed order.
	Inputs []string
	// The output node names produced by the model, in result order.
	Outputs []string
	// The execution provider selection.
	Provider providers.Config
}

// Session represents a model session from the onnxruntime.
//
// Output tensors are allocated by the runtime on every call, so models with
// dynamic input sizes (e.g. shorter-side resizing) need no preallocated buffers.
type Session struct {
	session *ort.DynamicAdvancedSession
	backend providers.ProviderBackend
	inputs  []string
	outputs []string
	runs    atomic.Int64
	log     *zap.Logger
}

// NewSession creates a new ONNX Runtime session.
//
// Order of operations:
//  1. Model check: Ensures the model file is readable.
//  2. Provider selection: Tries every candidate backend in order, falling back
//     when a provider (e.g. CUDA without a GPU) cannot be initialized.
//  3. Session creation: Loads the model and binds the node names.
//
// The environment must have been initialized with InitEnvironment.
//
// Arguments:
//   - args: The arguments for the session.
//   - log: The logger.
//
// Returns:
//   - *Session: The session.
//   - error: A config error for a missing model, an inference error if no
//     candidate backend could load it.
func NewSession(args SessionArgs, log *zap.Logger) (*Session, error) {
	const op = "inference.NewSession"

	if _, err := os.Stat(args.ModelPath); err != nil {
		return nil, fault.New(fault.KindConfig, op, errors.Wrapf(err, "model not found at %s", args.ModelPath))
	}
	if len(args.Inputs) == 0 || len(args.Outputs) == 0 {
		return nil, fault.Errorf(fault.KindConfig, op, "model %s needs input and output names", args.ModelPath)
	}

	var lastErr error
	candidates := args.Provider.Candidates()
	for i, backend := range candidates {
		session, err := newSession(args, backend)
		if err == nil {
			log.Info("model loaded",
				zap.String("model", args.ModelPath),
				zap.String("backend", string(backend)),
				zap.Strings("inputs", args.Inputs),
				zap.Strings("outputs", args.Outputs))
			return &Session{
				session: session,
				backend: backend,
				inputs:  args.Inputs,
				outputs: args.Outputs,
				log:     log,
			}, nil
		}

		lastErr = err
		if i < len(candidates)-1 {
			log.Warn("execution provider unavailable, falling back",
				zap.String("backend", string(backend)),
				zap.String("next", string(candidates[i+1])),
				zap.Error(err))
		}
	}
	return nil, fault.New(fault.KindInference, op, errors.Wrapf(lastErr, "load model %s", args.ModelPath))
}

func newSession(args SessionArgs, backend providers.ProviderBackend) (*ort.DynamicAdvancedSession, error) {
	options, err := providers.NewSessionOptions(args.Provider, backend)
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(args.ModelPath, args.Inputs, args.Outputs, options)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s session", backend)
	}
	return session, nil
}

// Backend returns the execution provider the session runs on.
func (s *Session) Backend() providers.ProviderBackend {
	return s.backend
}

// Runs returns the number of completed Run calls.
func (s *Session) Runs() int64 {
	return s.runs.Load()
}

// Run executes the model.
//
// The context is checked before the forward pass starts; a pass that has
// started runs to completion.
//
// Arguments:
//   - ctx: The request context.
//   - inputs: One tensor per input name, in order.
//
// Returns:
//   - []Tensor: One tensor per output name, in order. The data is copied out of
//     runtime memory.
//   - error: An inference error on a shape mismatch or runtime failure.
func (s *Session) Run(ctx context.Context, inputs ...Tensor) ([]Tensor, error) {
	const op = "inference.Session.Run"
	if err := ctx.Err(); err != nil {
		return nil, fault.New(fault.KindInference, op, err)
	}
	if len(inputs) != len(s.inputs) {
		return nil, fault.Errorf(fault.KindInference, op, "got %d inputs, model expects %d", len(inputs), len(s.inputs))
	}

	in := make([]ort.Value, 0, len(inputs))
	defer func() { destroyAll(in) }()
	for i, t := range inputs {
		tensor, err := ort.NewTensor(ort.NewShape(t.Shape...), t.Data)
		if err != nil {
			return nil, fault.New(fault.KindInference, op, errors.Wrapf(err, "input %s", s.inputs[i]))
		}
		in = append(in, tensor)
	}

	out := make([]ort.Value, len(s.outputs))
	defer destroyAll(out)

	start := time.Now()
	if err := s.session.Run(in, out); err != nil {
		return nil, fault.New(fault.KindInference, op, errors.Wrap(err, "run session"))
	}
	s.runs.Add(1)
	s.log.Debug("forward pass", zap.Duration("took", time.Since(start)), zap.String("backend", string(s.backend)))

	results := make([]Tensor, len(out))
	for i, v := range out {
		tensor, ok := v.(*ort.Tensor[float32])
		if !ok {
			return nil, fault.Errorf(fault.KindInference, op, "output %s has type %T, expected float32 tensor", s.outputs[i], v)
		}
		data := tensor.GetData()
		results[i] = Tensor{
			Shape: append([]int64(nil), tensor.GetShape()...),
			Data:  append([]float32(nil), data...),
		}
	}
	return results, nil
}

// Close releases the resources associated with the Session.
func (s *Session) Close() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	if err != nil {
		return errors.Wrap(err, "destroy ORT session")
	}
	return nil
}

func destroyAll(values []ort.Value) {
	for _, v := range values {
		if v != nil {
			v.Destroy()
		}
	}
}
