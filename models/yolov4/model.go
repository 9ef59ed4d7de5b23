// Package yolov4 - YOLOv4 model.
//
// The model is the TensorFlow yolov4-416 export. It takes an NHWC batch of RGB
// pixels in [0, 1] and emits, per candidate, four normalized corner
// coordinates followed by one confidence per class.
package yolov4

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/inference-lambda/fault"
	"github.com/nvr-ai/inference-lambda/images"
	"github.com/nvr-ai/inference-lambda/inference"
	"github.com/nvr-ai/inference-lambda/models/model"
	"github.com/nvr-ai/inference-lambda/models/postprocess"
)

// BoxOrder is the coordinate order of the boxes emitted by the model.
type BoxOrder string

const (
	// BoxOrderYXYX is y1, x1, y2, x2, the order of the TensorFlow export.
	BoxOrderYXYX BoxOrder = "yxyx"
	// BoxOrderXYXY is x1, y1, x2, y2.
	BoxOrderXYXY BoxOrder = "xyxy"
)

// PreprocessorKind selects the image decoding and resizing backend.
type PreprocessorKind string

const (
	// PreprocessorOpenCV decodes and resizes with OpenCV through gocv.
	PreprocessorOpenCV PreprocessorKind = "opencv"
	// PreprocessorGo decodes and resizes in pure Go.
	PreprocessorGo PreprocessorKind = "go"
)

// Config is the configuration of the YOLOv4 pipeline.
type Config struct {
	// Path is the location of the ONNX export.
	Path string `json:"path" yaml:"path"`
	// Input is the name of the image input node.
	Input string `json:"input" yaml:"input"`
	// Output is the name of the output node, shaped [1, candidates, 4+classes].
	Output string `json:"output" yaml:"output"`
	// InputSize is the side of the square model input.
	InputSize int `json:"input_size" yaml:"input_size"`
	// BoxOrder is the coordinate order of the emitted boxes.
	BoxOrder BoxOrder `json:"box_order" yaml:"box_order"`
	// Preprocessor selects the decoding backend.
	Preprocessor PreprocessorKind `json:"preprocessor" yaml:"preprocessor"`
	// NMS holds the combined suppression parameters.
	NMS postprocess.NMSConfig `json:"nms" yaml:"nms"`
}

// DefaultConfig returns the configuration of the yolov4-416 export.
func DefaultConfig() Config {
	return Config{
		Input:        "input_1:0",
		Output:       "Identity:0",
		InputSize:    416,
		BoxOrder:     BoxOrderYXYX,
		Preprocessor: PreprocessorOpenCV,
		NMS:          postprocess.DefaultNMSConfig(),
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.Input == "" || c.Output == "" {
		return errors.New("yolov4: input and output node names are required")
	}
	if c.InputSize <= 0 || c.InputSize%32 != 0 {
		return errors.Errorf("yolov4: input_size must be a positive multiple of 32, got %d", c.InputSize)
	}
	switch c.BoxOrder {
	case BoxOrderYXYX, BoxOrderXYXY:
	default:
		return errors.Errorf("yolov4: unknown box_order %q", c.BoxOrder)
	}
	switch c.Preprocessor {
	case PreprocessorOpenCV, PreprocessorGo:
	default:
		return errors.Errorf("yolov4: unknown preprocessor %q", c.Preprocessor)
	}
	return errors.Wrap(c.NMS.Validate(), "yolov4: nms")
}

// Args returns the model arguments for creating an inference session.
func (c Config) Args() model.NewModelArgs {
	return model.NewModelArgs{
		Name:    model.ModelNameYOLOv4,
		Path:    c.Path,
		Inputs:  []string{c.Input},
		Outputs: []string{c.Output},
	}
}

// Result is the output of a YOLOv4 pass, batched along the outer dimension.
//
// Every batch entry has exactly NMS.MaxTotal slots. Only the first Valid[b]
// slots hold detections; the rest are zero.
type Result struct {
	// Boxes holds [x1, y1, x2, y2] in pixels of the original image.
	Boxes [][][4]float32 `json:"boxes"`
	// Scores holds the confidence of each slot.
	Scores [][]float32 `json:"scores"`
	// Classes holds the class index of each slot.
	Classes [][]int `json:"classes"`
	// Valid holds the number of real detections per batch entry.
	Valid []int `json:"valid"`
}

// Count returns the number of real detections across the batch.
func (r *Result) Count() int {
	n := 0
	for _, v := range r.Valid {
		n += v
	}
	return n
}

// YOLOv4 is the instance of the YOLOv4 model.
type YOLOv4 struct {
	config     Config
	runner     inference.Runner
	preprocess preprocessFunc
	log        *zap.Logger
}

var _ model.Detector = (*YOLOv4)(nil)

// New creates a YOLOv4 detector over a loaded model.
//
// Arguments:
//   - runner: The loaded model, typically an *inference.Session.
//   - config: The pipeline configuration.
//   - log: The logger.
//
// Returns:
//   - *YOLOv4: The detector.
//   - error: A config error if the configuration is invalid.
func New(runner inference.Runner, config Config, log *zap.Logger) (*YOLOv4, error) {
	const op = "yolov4.New"
	if err := config.Validate(); err != nil {
		return nil, fault.New(fault.KindConfig, op, err)
	}
	pre, err := newPreprocessFunc(config)
	if err != nil {
		return nil, fault.New(fault.KindConfig, op, err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &YOLOv4{
		config:     config,
		runner:     runner,
		preprocess: pre,
		log:        log.With(zap.String("model", string(model.ModelNameYOLOv4))),
	}, nil
}

// Name returns the model name.
func (m *YOLOv4) Name() model.Name {
	return model.ModelNameYOLOv4
}

// Family returns the label set of the class indices.
func (m *YOLOv4) Family() model.Family {
	return model.ModelFamilyYOLO
}

// Close releases the underlying session.
func (m *YOLOv4) Close() error {
	return m.runner.Close()
}

// Detect runs the YOLOv4 pipeline over img.
//
// Arguments:
//   - ctx: The request context.
//   - img: The fetched image with its header already validated.
//
// Returns:
//   - model.Output: A *Result.
//   - error: A decode error for undecodable pixels, an inference error otherwise.
func (m *YOLOv4) Detect(ctx context.Context, img *images.Image) (model.Output, error) {
	const op = "yolov4.Detect"

	start := time.Now()
	input, err := m.preprocess(img, m.config.InputSize)
	if err != nil {
		return nil, err
	}
	m.log.Debug("preprocessed",
		zap.String("preprocessor", string(m.config.Preprocessor)),
		zap.Int64s("shape", input.Shape),
		zap.Duration("took", time.Since(start)))

	outputs, err := m.runner.Run(ctx, input)
	if err != nil {
		return nil, err
	}
	if len(outputs) != 1 {
		return nil, fault.Errorf(fault.KindInference, op, "expected 1 output, got %d", len(outputs))
	}

	result, err := m.PostProcess(outputs[0], img.Width, img.Height)
	if err != nil {
		return nil, fault.New(fault.KindInference, op, err)
	}

	if ce := m.log.Check(zap.DebugLevel, "detections"); ce != nil {
		labels := make([]string, 0, result.Valid[0])
		for _, class := range result.Classes[0][:result.Valid[0]] {
			labels = append(labels, model.LookupName(m.Family(), class))
		}
		ce.Write(zap.Int("valid", result.Valid[0]), zap.Strings("labels", labels))
	}
	return result, nil
}
