package handler

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/inference-lambda/images"
	"github.com/nvr-ai/inference-lambda/inference"
	"github.com/nvr-ai/inference-lambda/metrics"
	"github.com/nvr-ai/inference-lambda/models/detr"
	"github.com/nvr-ai/inference-lambda/models/model"
	"github.com/nvr-ai/inference-lambda/models/yolov4"
)

// cannedRunner hands out a fresh copy of the same outputs on every call.
type cannedRunner struct {
	outputs []inference.Tensor
	runs    atomic.Int32
}

func (r *cannedRunner) Run(_ context.Context, _ ...inference.Tensor) ([]inference.Tensor, error) {
	r.runs.Add(1)
	out := make([]inference.Tensor, len(r.outputs))
	for i, t := range r.outputs {
		out[i] = inference.Tensor{
			Shape: append([]int64(nil), t.Shape...),
			Data:  append([]float32(nil), t.Data...),
		}
	}
	return out, nil
}

func (r *cannedRunner) Close() error { return nil }

func tensor(t *testing.T, data []float32, shape ...int64) inference.Tensor {
	t.Helper()
	out, err := inference.NewTensor(data, shape...)
	require.NoError(t, err)
	return out
}

func detrRunner(t *testing.T) *cannedRunner {
	const logits = 92
	rows := make([]float32, 3*logits)
	rows[17] = 20          // query 0: class 17
	rows[logits+3] = 20    // query 1: class 3
	rows[2*logits+91] = 20 // query 2: no object
	boxes := []float32{
		0.5, 0.5, 0.2, 0.4,
		0.25, 0.3, 0.1, 0.2,
		0.8, 0.8, 0.1, 0.1,
	}
	return &cannedRunner{outputs: []inference.Tensor{
		tensor(t, rows, 1, 3, logits),
		tensor(t, boxes, 1, 3, 4),
	}}
}

func yoloRunner(t *testing.T) *cannedRunner {
	const width = 4 + 80
	rows := make([]float32, 3*width)
	copy(rows[0:], []float32{0.1, 0.2, 0.5, 0.6})
	rows[4+0] = 0.9
	copy(rows[width:], []float32{0.12, 0.21, 0.5, 0.6})
	rows[width+4+0] = 0.8
	copy(rows[2*width:], []float32{0.55, 0.5, 0.9, 0.95})
	rows[2*width+4+16] = 0.7
	return &cannedRunner{outputs: []inference.Tensor{tensor(t, rows, 1, 3, width)}}
}

func TestHandleIsIdempotent(t *testing.T) {
	srv := imageServer(t)

	newDETR := func(t *testing.T) (model.Detector, *cannedRunner) {
		runner := detrRunner(t)
		d, err := detr.New(runner, detr.DefaultConfig(), nil)
		require.NoError(t, err)
		return d, runner
	}
	newYOLO := func(t *testing.T) (model.Detector, *cannedRunner) {
		runner := yoloRunner(t)
		cfg := yolov4.DefaultConfig()
		cfg.Preprocessor = yolov4.PreprocessorGo
		d, err := yolov4.New(runner, cfg, nil)
		require.NoError(t, err)
		return d, runner
	}

	cases := []struct {
		name       model.Name
		detector   func(t *testing.T) (model.Detector, *cannedRunner)
		detections int
	}{
		{model.ModelNameDETR, newDETR, 2},
		{model.ModelNameYOLOv4, newYOLO, 2},
	}
	for _, tc := range cases {
		t.Run(string(tc.name), func(t *testing.T) {
			detector, runner := tc.detector(t)
			cfg := images.DefaultFetchConfig()
			cfg.Retries = 0
			h := New(tc.name, inference.Ready(detector), images.NewFetcher(cfg, nil), metrics.New(), nil)

			first, err := h.Handle(context.Background(), request(srv.URL+"/cat.png"))
			require.NoError(t, err)
			second, err := h.Handle(context.Background(), request(srv.URL+"/cat.png"))
			require.NoError(t, err)

			require.Equal(t, 200, first.StatusCode, first.Body)
			require.Equal(t, 200, second.StatusCode, second.Body)
			assert.Equal(t, first.Body, second.Body, "same image must yield identical detections")
			assert.Equal(t, int32(2), runner.runs.Load())

			out, err := detector.Detect(context.Background(), mustImage(t, srv.URL+"/cat.png"))
			require.NoError(t, err)
			assert.Equal(t, tc.detections, out.Count())
		})
	}
}

func mustImage(t *testing.T, url string) *images.Image {
	t.Helper()
	data, err := images.NewFetcher(images.DefaultFetchConfig(), nil).Fetch(context.Background(), url)
	require.NoError(t, err)
	img, err := images.NewImage(data)
	require.NoError(t, err)
	return img
}
