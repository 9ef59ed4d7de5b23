package providers

import (
	"strings"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// NewSessionOptions builds session options for a single backend.
//
// Session options configure how ONNX Runtime executes the model: threading,
// graph optimization and the execution provider.
//
// Arguments:
//   - config: The provider configuration.
//   - backend: One concrete backend taken from config.Candidates().
//
// Returns:
//   - *ort.SessionOptions: The options. The caller must Destroy them.
//   - error: If the options cannot be created or the provider cannot be appended,
//     e.g. because the runtime was built without CUDA.
func NewSessionOptions(config Config, backend ProviderBackend) (*ort.SessionOptions, error) {
	level, err := graphOptimizationLevel(config.GraphOptimization)
	if err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "create session options")
	}

	if err := configure(options, config, level, backend); err != nil {
		options.Destroy()
		return nil, err
	}
	return options, nil
}

func configure(options *ort.SessionOptions, config Config, level ort.GraphOptimizationLevel, backend ProviderBackend) error {
	if err := options.SetIntraOpNumThreads(config.IntraOpThreads); err != nil {
		return errors.Wrap(err, "set intra-op threads")
	}
	if err := options.SetInterOpNumThreads(config.InterOpThreads); err != nil {
		return errors.Wrap(err, "set inter-op threads")
	}
	if err := options.SetGraphOptimizationLevel(level); err != nil {
		return errors.Wrap(err, "set graph optimization level")
	}

	switch backend {
	case CPUProviderBackend:
	case CUDAProviderBackend:
		cuda, err := config.CUDA.ToNativeProviderOptions()
		if err != nil {
			return errors.Wrap(err, "create CUDA provider options")
		}
		defer cuda.Destroy()
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return errors.Wrap(err, "enable CUDA")
		}
	case CoreMLProviderBackend:
		if err := options.AppendExecutionProviderCoreML(config.CoreML.Flags()); err != nil {
			return errors.Wrap(err, "enable CoreML")
		}
	case OpenVINOProviderBackend:
		if err := options.AppendExecutionProviderOpenVINO(config.OpenVINO.ToMap()); err != nil {
			return errors.Wrap(err, "enable OpenVINO")
		}
	default:
		return errors.Errorf("unsupported execution provider backend %q", backend)
	}
	return nil
}

func graphOptimizationLevel(name string) (ort.GraphOptimizationLevel, error) {
	switch strings.ToLower(name) {
	case "disable", "none":
		return ort.GraphOptimizationLevelDisableAll, nil
	case "basic":
		return ort.GraphOptimizationLevelEnableBasic, nil
	case "", "extended":
		return ort.GraphOptimizationLevelEnableExtended, nil
	case "all":
		return ort.GraphOptimizationLevelEnableAll, nil
	default:
		return 0, errors.Errorf("unknown graph optimization level %q", name)
	}
}
