// Package models - registry for models.
package models

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/inference-lambda/fault"
	"github.com/nvr-ai/inference-lambda/inference"
	"github.com/nvr-ai/inference-lambda/inference/providers"
	"github.com/nvr-ai/inference-lambda/models/detr"
	"github.com/nvr-ai/inference-lambda/models/model"
	"github.com/nvr-ai/inference-lambda/models/yolov4"
)

// Config groups the configuration of every supported model.
type Config struct {
	DETR   detr.Config   `json:"detr" yaml:"detr"`
	YOLOv4 yolov4.Config `json:"yolov4" yaml:"yolov4"`
}

// DefaultConfig returns the default configuration of every model. Weight paths
// are left empty.
func DefaultConfig() Config {
	return Config{
		DETR:   detr.DefaultConfig(),
		YOLOv4: yolov4.DefaultConfig(),
	}
}

// Args returns the session arguments of the named model.
func (c Config) Args(name model.Name) (model.NewModelArgs, error) {
	switch name {
	case model.ModelNameDETR:
		return c.DETR.Args(), nil
	case model.ModelNameYOLOv4:
		return c.YOLOv4.Args(), nil
	default:
		return model.NewModelArgs{}, fault.Errorf(fault.KindConfig, "models.Config.Args", "unsupported model name: %s", name)
	}
}

// Opener loads the weights described by args into a runner.
type Opener func(args model.NewModelArgs) (inference.Runner, error)

// SessionOpener returns an Opener backed by ONNX Runtime sessions.
//
// Arguments:
//   - provider: The execution provider selection.
//   - log: The logger.
//
// Returns:
//   - Opener: Opens an *inference.Session per call.
func SessionOpener(provider providers.Config, log *zap.Logger) Opener {
	return func(args model.NewModelArgs) (inference.Runner, error) {
		return inference.NewSession(inference.SessionArgs{
			ModelPath: args.Path,
			Inputs:    args.Inputs,
			Outputs:   args.Outputs,
			Provider:  provider,
		}, log)
	}
}

// NewDetector creates a detection model instance based on the specified model name.
//
// This factory is the single entry point for model creation: it opens the
// weights through open and wraps the runner with the model's pre- and
// postprocessing.
//
// Arguments:
//   - name: The model to create.
//   - config: The configuration of every model.
//   - open: Loads the weights.
//   - log: The logger.
//
// Returns:
//   - model.Detector: A ready detector.
//   - error: A config error for an unknown name or invalid configuration, or
//     the error of open.
//
// Example:
//
// ```go
//
//	cfg := models.DefaultConfig()
//	cfg.DETR.Path = "/opt/models/detr_resnet50.onnx"
//
//	detector, err := models.NewDetector(model.ModelNameDETR, cfg, models.SessionOpener(providers.DefaultConfig(), log), log)
//	if err != nil {
//	    log.Fatal("load detr", zap.Error(err))
//	}
//	defer detector.Close()
//
// ```
func NewDetector(name model.Name, config Config, open Opener, log *zap.Logger) (model.Detector, error) {
	args, err := config.Args(name)
	if err != nil {
		return nil, err
	}

	runner, err := open(args)
	if err != nil {
		return nil, err
	}

	var detector model.Detector
	switch name {
	case model.ModelNameDETR:
		detector, err = detr.New(runner, config.DETR, log)
	case model.ModelNameYOLOv4:
		detector, err = yolov4.New(runner, config.YOLOv4, log)
	}
	if err != nil {
		if cerr := runner.Close(); cerr != nil {
			err = errors.Wrapf(err, "close runner: %v", cerr)
		}
		return nil, err
	}
	return detector, nil
}
