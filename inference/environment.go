package inference

import (
	"os"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/nvr-ai/inference-lambda/fault"
)

var (
	envMu          sync.Mutex
	envInitialized bool
)

// DefaultLibraryPath returns the conventional location of the ONNX Runtime
// shared library for the current platform.
//
// Returns:
//   - string: The path to the shared library.
func DefaultLibraryPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "/usr/local/lib/libonnxruntime.dylib"
	default:
		if runtime.GOARCH == "arm64" {
			return "/opt/lib/libonnxruntime_arm64.so"
		}
		return "/opt/lib/libonnxruntime.so"
	}
}

// InitEnvironment loads the ONNX Runtime shared library and initializes the
// runtime environment.
//
// The environment is process-wide and is initialized at most once; later calls
// are no-ops. A failed initialization is not remembered so a later call may
// retry.
//
// Arguments:
//   - libPath: The path to the shared library. Empty selects DefaultLibraryPath.
//   - log: The logger.
//
// Returns:
//   - error: A config error if the library is missing, an inference error if the
//     runtime fails to initialize.
func InitEnvironment(libPath string, log *zap.Logger) error {
	const op = "inference.InitEnvironment"

	envMu.Lock()
	defer envMu.Unlock()
	if envInitialized || ort.IsInitialized() {
		envInitialized = true
		return nil
	}

	if libPath == "" {
		libPath = DefaultLibraryPath()
	}
	if _, err := os.Stat(libPath); err != nil {
		return fault.New(fault.KindConfig, op, errors.Wrapf(err, "onnxruntime library not found at %s", libPath))
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fault.New(fault.KindInference, op, errors.Wrap(err, "initialize onnxruntime environment"))
	}

	envInitialized = true
	log.Info("onnxruntime environment initialized", zap.String("library", libPath))
	return nil
}

// DestroyEnvironment tears down the runtime environment at process exit.
func DestroyEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()
	if !envInitialized {
		return nil
	}
	envInitialized = false
	return ort.DestroyEnvironment()
}
