package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/inference-lambda/fault"
	"github.com/nvr-ai/inference-lambda/inference/providers"
	"github.com/nvr-ai/inference-lambda/models/model"
)

func env(vars map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := Resolve("", env(nil))
	require.NoError(t, err)

	assert.Equal(t, providers.AutoProviderBackend, cfg.Provider.Backend)
	assert.Equal(t, 10*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, 800, cfg.Models.DETR.ShorterSide)
	assert.InDelta(t, 0.9, cfg.Models.DETR.Threshold, 1e-6)
	assert.Equal(t, 416, cfg.Models.YOLOv4.InputSize)
	assert.InDelta(t, 0.45, cfg.Models.YOLOv4.NMS.IoUThreshold, 1e-6)
	assert.InDelta(t, 0.25, cfg.Models.YOLOv4.NMS.ScoreThreshold, 1e-6)
	assert.Equal(t, 50, cfg.Models.YOLOv4.NMS.MaxTotal)
	assert.Empty(t, cfg.Models.YOLOv4.Path)
}

func TestEnvOverrides(t *testing.T) {
	cfg, err := Resolve("", env(map[string]string{
		EnvYOLO:     "/opt/models/yolov4.onnx",
		EnvDETR:     "/opt/models/detr.onnx",
		EnvLibrary:  "/opt/lib/libonnxruntime.so",
		EnvLogLevel: "DEBUG",
		EnvProvider: "cpu",
		EnvFetch:    "3s",
	}))
	require.NoError(t, err)

	assert.Equal(t, "/opt/models/yolov4.onnx", cfg.Models.YOLOv4.Path)
	assert.Equal(t, "/opt/models/detr.onnx", cfg.Models.DETR.Path)
	assert.Equal(t, "/opt/lib/libonnxruntime.so", cfg.Runtime.LibraryPath)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, providers.CPUProviderBackend, cfg.Provider.Backend)
	assert.Equal(t, 3*time.Second, cfg.Fetch.Timeout)
}

func TestLegacyYOLOVariable(t *testing.T) {
	cfg, err := Resolve("", env(map[string]string{EnvYOLOLegacy: "/legacy/yolo.onnx"}))
	require.NoError(t, err)
	assert.Equal(t, "/legacy/yolo.onnx", cfg.Models.YOLOv4.Path)

	cfg, err = Resolve("", env(map[string]string{
		EnvYOLOLegacy: "/legacy/yolo.onnx",
		EnvYOLO:       "/current/yolo.onnx",
	}))
	require.NoError(t, err)
	assert.Equal(t, "/current/yolo.onnx", cfg.Models.YOLOv4.Path)
}

func TestYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inference.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: warn
fetch:
  timeout: 4s
  retries: 1
models:
  detr:
    threshold: 0.7
  yolov4:
    box_order: xyxy
    nms:
      iou_threshold: 0.5
`), 0o600))

	cfg, err := Resolve(path, env(map[string]string{EnvFetch: "6s"}))
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 6*time.Second, cfg.Fetch.Timeout, "environment wins over the file")
	assert.Equal(t, 1, cfg.Fetch.Retries)
	assert.InDelta(t, 0.7, cfg.Models.DETR.Threshold, 1e-6)
	assert.Equal(t, 800, cfg.Models.DETR.ShorterSide, "unset keys keep their defaults")
	assert.EqualValues(t, "xyxy", cfg.Models.YOLOv4.BoxOrder)
	assert.InDelta(t, 0.5, cfg.Models.YOLOv4.NMS.IoUThreshold, 1e-6)
	assert.Equal(t, 50, cfg.Models.YOLOv4.NMS.MaxOutputPerClass)
}

func TestInvalidConfiguration(t *testing.T) {
	cases := map[string]struct {
		file string
		env  map[string]string
	}{
		"bad duration":  {env: map[string]string{EnvFetch: "soon"}},
		"bad provider":  {env: map[string]string{EnvProvider: "tpu"}},
		"bad level":     {env: map[string]string{EnvLogLevel: "chatty"}},
		"bad retries":   {file: "fetch:\n  retries: -1\n"},
		"zero timeout":  {file: "fetch:\n  timeout: 0s\n"},
		"bad threshold": {file: "models:\n  detr:\n    threshold: 1.5\n"},
		"bad yaml":      {file: "models: [\n"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			path := ""
			if tc.file != "" {
				path = filepath.Join(t.TempDir(), "c.yaml")
				require.NoError(t, os.WriteFile(path, []byte(tc.file), 0o600))
			}
			_, err := Resolve(path, env(tc.env))
			require.Error(t, err)
			assert.True(t, fault.Is(err, fault.KindConfig), "got %v", err)
		})
	}

	_, err := Resolve(filepath.Join(t.TempDir(), "missing.yaml"), env(nil))
	assert.True(t, fault.Is(err, fault.KindConfig))
}

func TestRequireWeights(t *testing.T) {
	cfg := Default()

	err := cfg.RequireWeights(model.ModelNameYOLOv4)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindConfig))
	assert.Contains(t, err.Error(), EnvYOLO)

	cfg.Models.YOLOv4.Path = filepath.Join(t.TempDir(), "absent.onnx")
	assert.True(t, fault.Is(cfg.RequireWeights(model.ModelNameYOLOv4), fault.KindConfig))

	cfg.Models.YOLOv4.Path = t.TempDir()
	assert.True(t, fault.Is(cfg.RequireWeights(model.ModelNameYOLOv4), fault.KindConfig))

	weights := filepath.Join(t.TempDir(), "yolov4.onnx")
	require.NoError(t, os.WriteFile(weights, []byte("onnx"), 0o600))
	cfg.Models.YOLOv4.Path = weights
	assert.NoError(t, cfg.RequireWeights(model.ModelNameYOLOv4))

	assert.True(t, fault.Is(cfg.RequireWeights("ssd"), fault.KindConfig))
}
