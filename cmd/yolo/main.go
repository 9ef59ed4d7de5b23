// Command yolo serves the YOLOv4 detector as an AWS Lambda function.
//
// The model is loaded at startup from YOLO_WEIGHTS (or TF_WEIGHTS); the
// process exits if the weights are missing or cannot be loaded.
package main

import (
	"github.com/nvr-ai/inference-lambda/app"
	"github.com/nvr-ai/inference-lambda/models/model"
)

func main() {
	app.Main(model.ModelNameYOLOv4, app.LoadEager)
}
