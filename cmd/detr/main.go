// Command detr serves the DETR detector as an AWS Lambda function.
//
// The model is loaded on the first request. Run with -serve :8080 to expose
// the same handler behind a local HTTP gateway.
package main

import (
	"github.com/nvr-ai/inference-lambda/app"
	"github.com/nvr-ai/inference-lambda/models/model"
)

func main() {
	app.Main(model.ModelNameDETR, app.LoadLazy)
}
