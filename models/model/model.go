// Package model - Definitions shared by every detection model.
package model

import (
	"context"

	"github.com/nvr-ai/inference-lambda/images"
)

// Name is the unique identifier of a model.
type Name string

const (
	// ModelNameDETR is the name of the DETR transformer detector.
	ModelNameDETR Name = "detr"
	// ModelNameYOLOv4 is the name of the YOLOv4 model.
	ModelNameYOLOv4 Name = "yolov4"
)

// Names lists every supported model.
var Names = []Name{ModelNameDETR, ModelNameYOLOv4}

// Family identifies the label set a model's class indices refer to.
type Family string

const (
	// ModelFamilyCOCO is the 80 COCO classes plus a background class at index 0.
	ModelFamilyCOCO Family = "coco"
	// ModelFamilyCOCO91 is the original 91-id COCO labelling used by DETR, with
	// "N/A" in the unused ids.
	ModelFamilyCOCO91 Family = "coco91"
	// ModelFamilyYOLO is the YOLO model family.
	ModelFamilyYOLO Family = "yolo"
)

// Output is the serializable result of one detection pass.
type Output interface {
	// Count returns the number of detections in the output.
	Count() int
}

// Detector runs the complete pipeline of a model over one image: preprocessing,
// the forward pass and postprocessing.
//
// Implementations are safe for concurrent use.
type Detector interface {
	// Name identifies the model.
	Name() Name
	// Family identifies the label set of the class indices in the output.
	Family() Family
	// Detect runs the model over img.
	Detect(ctx context.Context, img *images.Image) (Output, error)
	// Close releases the underlying session.
	Close() error
}

// NewModelArgs is the arguments for creating a new model.
type NewModelArgs struct {
	Name    Name     `json:"name" yaml:"name"`
	Path    string   `json:"path" yaml:"path"`
	Inputs  []string `json:"inputs" yaml:"inputs"`
	Outputs []string `json:"outputs" yaml:"outputs"`
}
