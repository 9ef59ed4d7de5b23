// Package detr - DETR transformer detector.
//
// DETR predicts a fixed number of object queries. Each query carries a class
// distribution (with a trailing "no object" class) and a box in normalized
// center-x, center-y, width, height form relative to the input image.
package detr

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/inference-lambda/fault"
	"github.com/nvr-ai/inference-lambda/images"
	"github.com/nvr-ai/inference-lambda/inference"
	"github.com/nvr-ai/inference-lambda/models/model"
	"github.com/nvr-ai/inference-lambda/models/model/preprocess"
)

// Config is the configuration of the DETR pipeline.
type Config struct {
	// Path is the location of the ONNX export.
	Path string `json:"path" yaml:"path"`
	// Input is the name of the image input node.
	Input string `json:"input" yaml:"input"`
	// Logits is the name of the class logits output, shaped [1, queries, classes+1].
	Logits string `json:"logits" yaml:"logits"`
	// Boxes is the name of the box output, shaped [1, queries, 4].
	Boxes string `json:"boxes" yaml:"boxes"`
	// ShorterSide is the length the shorter image side is resized to.
	ShorterSide int `json:"shorter_side" yaml:"shorter_side"`
	// Threshold keeps a query only if its best class probability exceeds it.
	Threshold float32 `json:"threshold" yaml:"threshold"`
	// Mean is the per-channel normalization mean in [0, 1] units.
	Mean []float32 `json:"mean" yaml:"mean"`
	// Std is the per-channel normalization standard deviation in [0, 1] units.
	Std []float32 `json:"std" yaml:"std"`
	// ClipBoxes clamps boxes to the image bounds.
	ClipBoxes bool `json:"clip_boxes" yaml:"clip_boxes"`
}

// DefaultConfig returns the configuration of the reference DETR ResNet-50 export.
func DefaultConfig() Config {
	return Config{
		Input:       "pixel_values",
		Logits:      "pred_logits",
		Boxes:       "pred_boxes",
		ShorterSide: 800,
		Threshold:   0.9,
		Mean:        []float32{0.485, 0.456, 0.406},
		Std:         []float32{0.229, 0.224, 0.225},
		ClipBoxes:   true,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.Input == "" || c.Logits == "" || c.Boxes == "" {
		return errors.New("detr: input, logits and boxes node names are required")
	}
	if c.ShorterSide <= 0 {
		return errors.Errorf("detr: shorter_side must be positive, got %d", c.ShorterSide)
	}
	if c.Threshold < 0 || c.Threshold >= 1 {
		return errors.Errorf("detr: threshold must be within [0, 1), got %v", c.Threshold)
	}
	if len(c.Mean) != 3 || len(c.Std) != 3 {
		return errors.New("detr: mean and std need exactly 3 values")
	}
	return nil
}

// Args returns the model arguments for creating an inference session.
func (c Config) Args() model.NewModelArgs {
	return model.NewModelArgs{
		Name:    model.ModelNameDETR,
		Path:    c.Path,
		Inputs:  []string{c.Input},
		Outputs: []string{c.Logits, c.Boxes},
	}
}

func (c Config) preprocessConfig() preprocess.ModelConfig {
	pc := preprocess.GetDETRConfig(c.ShorterSide)
	for i := range pc.MeanValues {
		pc.MeanValues[i] = c.Mean[i] * 255
		pc.StdValues[i] = c.Std[i] * 255
	}
	return pc
}

// Result is the output of a DETR pass. Probas and BBox are parallel: entry i of
// each describes the same kept query.
type Result struct {
	// Probas holds, per kept query, the class distribution without the
	// "no object" class.
	Probas [][]float32 `json:"probas"`
	// BBox holds, per kept query, the box as [xmin, ymin, xmax, ymax] in pixels
	// of the original image.
	BBox [][4]float32 `json:"bbox"`
}

// Count returns the number of kept queries.
func (r *Result) Count() int {
	return len(r.BBox)
}

// DETR is the instance of the DETR model.
type DETR struct {
	config       Config
	runner       inference.Runner
	preprocessor *preprocess.Preprocessor
	log          *zap.Logger
}

var _ model.Detector = (*DETR)(nil)

// New creates a DETR detector over a loaded model.
//
// Arguments:
//   - runner: The loaded model, typically an *inference.Session.
//   - config: The pipeline configuration.
//   - log: The logger.
//
// Returns:
//   - *DETR: The detector.
//   - error: A config error if the configuration is invalid.
func New(runner inference.Runner, config Config, log *zap.Logger) (*DETR, error) {
	const op = "detr.New"
	if err := config.Validate(); err != nil {
		return nil, fault.New(fault.KindConfig, op, err)
	}
	pre, err := preprocess.NewPreprocessor(config.preprocessConfig())
	if err != nil {
		return nil, fault.New(fault.KindConfig, op, err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &DETR{
		config:       config,
		runner:       runner,
		preprocessor: pre,
		log:          log.With(zap.String("model", string(model.ModelNameDETR))),
	}, nil
}

// Name returns the model name.
func (d *DETR) Name() model.Name {
	return model.ModelNameDETR
}

// Family returns the label set of the class indices.
func (d *DETR) Family() model.Family {
	return model.ModelFamilyCOCO91
}

// Close releases the underlying session.
func (d *DETR) Close() error {
	return d.runner.Close()
}

// Detect runs the DETR pipeline over img.
//
// Arguments:
//   - ctx: The request context.
//   - img: The fetched image with its header already validated.
//
// Returns:
//   - model.Output: A *Result.
//   - error: A decode error for undecodable pixels, an inference error otherwise.
func (d *DETR) Detect(ctx context.Context, img *images.Image) (model.Output, error) {
	const op = "detr.Detect"

	decoded, err := images.Decode(img)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	pre, err := d.preprocessor.Preprocess(decoded)
	if err != nil {
		return nil, fault.New(fault.KindInference, op, errors.Wrap(err, "preprocess"))
	}
	input, err := inference.NewTensor(pre.Data, pre.Shape...)
	if err != nil {
		return nil, fault.New(fault.KindInference, op, err)
	}
	d.log.Debug("preprocessed",
		zap.Int("width", pre.Width),
		zap.Int("height", pre.Height),
		zap.Duration("took", time.Since(start)))

	outputs, err := d.runner.Run(ctx, input)
	if err != nil {
		return nil, err
	}
	if len(outputs) != 2 {
		return nil, fault.Errorf(fault.KindInference, op, "expected 2 outputs, got %d", len(outputs))
	}

	result, err := d.PostProcess(outputs[0], outputs[1], pre.OriginalWidth, pre.OriginalHeight)
	if err != nil {
		return nil, fault.New(fault.KindInference, op, err)
	}

	if ce := d.log.Check(zap.DebugLevel, "detections"); ce != nil {
		labels := make([]string, 0, result.Count())
		for _, probs := range result.Probas {
			labels = append(labels, model.LookupName(d.Family(), argmax(probs)))
		}
		ce.Write(zap.Int("count", result.Count()), zap.Strings("labels", labels))
	}
	return result, nil
}
