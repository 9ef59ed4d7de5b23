package benchmark

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/inference-lambda/images"
	"github.com/nvr-ai/inference-lambda/models/model"
)

type mockOutput int

func (o mockOutput) Count() int { return int(o) }

// mockDetector fails every failEvery-th call and reports two detections otherwise.
type mockDetector struct {
	calls     atomic.Int64
	failEvery int64
	delay     time.Duration
}

func (m *mockDetector) Name() model.Name     { return model.ModelNameYOLOv4 }
func (m *mockDetector) Family() model.Family { return model.ModelFamilyYOLO }
func (m *mockDetector) Close() error         { return nil }

func (m *mockDetector) Detect(_ context.Context, img *images.Image) (model.Output, error) {
	n := m.calls.Add(1)
	time.Sleep(m.delay)
	if img == nil || img.Width == 0 {
		return nil, errors.New("empty image")
	}
	if m.failEvery > 0 && n%m.failEvery == 0 {
		return nil, errors.New("injected failure")
	}
	return mockOutput(2), nil
}

func TestScenarioBuilder(t *testing.T) {
	scenario := NewScenarioBuilder("yolo_720p").
		WithModel(model.ModelNameYOLOv4).
		WithResolution(1280, 720).
		WithImageFormat(images.FormatWebP).
		WithIterations(50).
		WithWarmupRuns(5).
		WithConcurrency(4).
		Build()

	assert.Equal(t, "yolo_720p", scenario.Name)
	assert.Equal(t, model.ModelNameYOLOv4, scenario.Model)
	assert.Equal(t, Resolution{Width: 1280, Height: 720, Name: "1280x720"}, scenario.Resolution)
	assert.Equal(t, images.FormatWebP, scenario.ImageFormat)
	assert.Equal(t, 50, scenario.Iterations)
	assert.Equal(t, 5, scenario.WarmupRuns)
	assert.Equal(t, 4, scenario.Concurrency)
}

func TestSyntheticImage(t *testing.T) {
	for _, format := range []images.ImageFormat{images.FormatJPEG, images.FormatPNG, images.FormatWebP} {
		t.Run(string(format), func(t *testing.T) {
			data, err := SyntheticImage(64, 32, format)
			require.NoError(t, err)
			img, err := images.NewImage(data)
			require.NoError(t, err)
			assert.Equal(t, format, img.Format)
			assert.Equal(t, 64, img.Width)
			assert.Equal(t, 32, img.Height)
		})
	}

	_, err := SyntheticImage(0, 10, images.FormatPNG)
	assert.Error(t, err)
	_, err = SyntheticImage(10, 10, images.FormatGIF)
	assert.Error(t, err)
}

func TestRunScenario(t *testing.T) {
	det := &mockDetector{failEvery: 5, delay: time.Millisecond}
	suite := NewSuite(det, t.TempDir(), nil)

	scenario := NewScenarioBuilder("concurrent").
		WithResolution(64, 48).
		WithIterations(20).
		WithWarmupRuns(2).
		WithConcurrency(3).
		Build()

	metrics, err := suite.RunScenario(context.Background(), scenario)
	require.NoError(t, err)

	assert.Equal(t, int64(22), det.calls.Load())
	assert.Greater(t, metrics.FramesPerSecond, 0.0)
	assert.Equal(t, 0.2, metrics.ErrorRate)
	assert.Equal(t, 16*2, metrics.DetectionCount)
	assert.LessOrEqual(t, metrics.Latency.Min, metrics.Latency.P50)
	assert.LessOrEqual(t, metrics.Latency.P50, metrics.Latency.P95)
	assert.LessOrEqual(t, metrics.Latency.P95, metrics.Latency.Max)
	assert.Positive(t, metrics.CPUStats.NumCPU)

	_, err = suite.RunScenario(context.Background(), Scenario{Name: "empty"})
	assert.Error(t, err)
}

func TestLoadCorpus(t *testing.T) {
	dir := t.TempDir()
	data, err := SyntheticImage(32, 32, images.FormatPNG)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), data, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not an image"), 0o600))

	suite := NewSuite(&mockDetector{}, t.TempDir(), nil)
	require.NoError(t, suite.LoadCorpus(dir))
	assert.Len(t, suite.corpus, 1)

	assert.Error(t, suite.LoadCorpus(t.TempDir()), "an empty directory has no corpus")
}

func TestRunAllScenariosAndSave(t *testing.T) {
	out := t.TempDir()
	suite := NewSuite(&mockDetector{}, out, nil)
	for _, res := range CommonResolutions[:2] {
		suite.AddScenario(NewScenarioBuilder(res.Name).
			WithModel(model.ModelNameYOLOv4).
			WithResolution(res.Width, res.Height).
			WithIterations(3).
			WithWarmupRuns(0).
			Build())
	}
	suite.AddScenario(Scenario{Name: "invalid"})

	require.NoError(t, suite.RunAllScenarios(context.Background()))
	results := suite.GetResults()
	require.Len(t, results, 2, "invalid scenarios are skipped")

	paths, err := suite.SaveResults()
	require.NoError(t, err)
	require.Len(t, paths, 2)
	for _, p := range paths {
		assert.FileExists(t, p)
	}

	f, err := os.Open(paths[1])
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, summaryHeader, rows[0])
	assert.Equal(t, "416x416", rows[1][0])
	assert.Equal(t, "yolov4", rows[1][1])
}
