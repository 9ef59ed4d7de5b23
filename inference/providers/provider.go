// Package providers - Execution provider selection for ONNX Runtime sessions.
package providers

import (
	"runtime"

	"github.com/pkg/errors"
)

// ProviderBackend represents different ONNX Runtime execution providers.
type ProviderBackend string

const (
	// CPUProviderBackend runs the model on the default CPU provider. Always available.
	CPUProviderBackend ProviderBackend = "cpu"
	// AutoProviderBackend prefers the GPU and falls back to the CPU when no GPU
	// provider can be initialized.
	AutoProviderBackend ProviderBackend = "auto"
)

// Config selects and tunes the execution provider for a session.
type Config struct {
	// Backend specifies the backend to use: cpu, cuda, coreml, openvino or auto.
	Backend ProviderBackend `json:"backend" yaml:"backend"`
	// IntraOpThreads sets threads for parallelizing a single op. 0 lets the runtime decide.
	IntraOpThreads int `json:"intra_op_threads" yaml:"intra_op_threads"`
	// InterOpThreads sets threads for parallelizing independent ops. 0 lets the runtime decide.
	InterOpThreads int `json:"inter_op_threads" yaml:"inter_op_threads"`
	// GraphOptimization is one of disable, basic, extended or all.
	GraphOptimization string `json:"graph_optimization" yaml:"graph_optimization"`
	// CUDA holds options for the cuda backend.
	CUDA CUDAOptions `json:"cuda" yaml:"cuda"`
	// CoreML holds options for the coreml backend.
	CoreML CoreMLOptions `json:"coreml" yaml:"coreml"`
	// OpenVINO holds options for the openvino backend.
	OpenVINO OpenVINOOptions `json:"openvino" yaml:"openvino"`
}

// DefaultConfig returns a configuration that uses the GPU when one is usable and
// the CPU otherwise.
//
// Returns:
//   - Config: The default configuration.
func DefaultConfig() Config {
	return Config{
		Backend:           AutoProviderBackend,
		IntraOpThreads:    max(1, runtime.NumCPU()/2),
		InterOpThreads:    1,
		GraphOptimization: "extended",
		CUDA:              DefaultCUDAOptions(),
	}
}

// Validate reports an error for an unknown backend or optimization level.
func (c Config) Validate() error {
	switch c.Backend {
	case CPUProviderBackend, CUDAProviderBackend, CoreMLProviderBackend, OpenVINOProviderBackend, AutoProviderBackend:
	default:
		return errors.Errorf("unsupported execution provider backend %q", c.Backend)
	}
	if _, err := graphOptimizationLevel(c.GraphOptimization); err != nil {
		return err
	}
	if c.IntraOpThreads < 0 || c.InterOpThreads < 0 {
		return errors.New("thread counts must not be negative")
	}
	return nil
}

// Candidates returns the backends to try, in order, when creating a session.
//
// An explicit backend yields only itself, so a misconfigured GPU surfaces as an
// error. The auto backend yields a GPU backend followed by the CPU.
//
// Returns:
//   - []ProviderBackend: The ordered backends.
func (c Config) Candidates() []ProviderBackend {
	if c.Backend != AutoProviderBackend {
		return []ProviderBackend{c.Backend}
	}
	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		return []ProviderBackend{CoreMLProviderBackend, CPUProviderBackend}
	}
	return []ProviderBackend{CUDAProviderBackend, CPUProviderBackend}
}
