// Package providers - CoreML based execution provider.
package providers

const (
	// CoreMLProviderBackend uses Apple CoreML for macOS/iOS acceleration.
	CoreMLProviderBackend ProviderBackend = "coreml"
)

// CoreML flags, see coreml_provider_factory.h in the ONNX Runtime sources.
const (
	coreMLFlagUseCPUOnly           uint32 = 0x001
	coreMLFlagOnlyEnableDeviceANE  uint32 = 0x004
	coreMLFlagCreateMLProgram      uint32 = 0x010
	coreMLFlagStaticInputShapeOnly uint32 = 0x008
)

// CoreMLOptions contains arguments for the CoreML provider.
// See: https://onnxruntime.ai/docs/execution-providers/CoreML-ExecutionProvider.html
type CoreMLOptions struct {
	// Limit CoreML to running on CPU only.
	CPUOnly bool `json:"cpu_only" yaml:"cpu_only"`
	// Only run on devices with an Apple Neural Engine.
	RequireANE bool `json:"require_ane" yaml:"require_ane"`
	// Create an MLProgram format model. Requires Core ML 5 or later (iOS 15+ or macOS 12+).
	MLProgram bool `json:"ml_program" yaml:"ml_program"`
	// Only allow the CoreML EP to take nodes with inputs that have static shapes.
	RequireStaticInputShapes bool `json:"require_static_input_shapes" yaml:"require_static_input_shapes"`
}

// Flags packs the options into the bit field expected by the runtime.
func (o CoreMLOptions) Flags() uint32 {
	var flags uint32
	if o.CPUOnly {
		flags |= coreMLFlagUseCPUOnly
	}
	if o.RequireANE {
		flags |= coreMLFlagOnlyEnableDeviceANE
	}
	if o.MLProgram {
		flags |= coreMLFlagCreateMLProgram
	}
	if o.RequireStaticInputShapes {
		flags |= coreMLFlagStaticInputShapeOnly
	}
	return flags
}
