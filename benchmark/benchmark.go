// Package benchmark - Latency and throughput benchmarks of the detection pipelines.
package benchmark

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/chai2010/webp"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/inference-lambda/images"
	"github.com/nvr-ai/inference-lambda/models/model"
)

// Resolution represents image dimensions for benchmarking
type Resolution struct {
	Width  int    `json:"width" yaml:"width"`
	Height int    `json:"height" yaml:"height"`
	Name   string `json:"name" yaml:"name"`
}

// CommonResolutions are the camera and upload sizes the functions typically see.
var CommonResolutions = []Resolution{
	{Width: 416, Height: 416, Name: "416x416"},
	{Width: 640, Height: 480, Name: "640x480"},
	{Width: 1280, Height: 720, Name: "1280x720"},
	{Width: 1920, Height: 1080, Name: "1920x1080"},
}

// Scenario defines a specific test configuration
type Scenario struct {
	Name        string             `json:"name" yaml:"name"`
	Model       model.Name         `json:"model" yaml:"model"`
	Resolution  Resolution         `json:"resolution" yaml:"resolution"`
	ImageFormat images.ImageFormat `json:"image_format" yaml:"image_format"`
	Iterations  int                `json:"iterations" yaml:"iterations"`
	WarmupRuns  int                `json:"warmup_runs" yaml:"warmup_runs"`
	// Concurrency is the number of requests in flight.
	Concurrency int `json:"concurrency" yaml:"concurrency"`
}

// ScenarioBuilder helps build test scenarios with fluent API
type ScenarioBuilder struct {
	scenario Scenario
}

// NewScenarioBuilder creates a new scenario builder
func NewScenarioBuilder(name string) *ScenarioBuilder {
	return &ScenarioBuilder{
		scenario: Scenario{
			Name:        name,
			ImageFormat: images.FormatJPEG,
			Iterations:  100,
			WarmupRuns:  10,
			Concurrency: 1,
		},
	}
}

// WithModel sets the model name recorded with the results.
func (sb *ScenarioBuilder) WithModel(name model.Name) *ScenarioBuilder {
	sb.scenario.Model = name
	return sb
}

// WithResolution sets the image resolution
func (sb *ScenarioBuilder) WithResolution(width, height int) *ScenarioBuilder {
	sb.scenario.Resolution = Resolution{
		Width:  width,
		Height: height,
		Name:   fmt.Sprintf("%dx%d", width, height),
	}
	return sb
}

// WithImageFormat sets the image format
func (sb *ScenarioBuilder) WithImageFormat(format images.ImageFormat) *ScenarioBuilder {
	sb.scenario.ImageFormat = format
	return sb
}

// WithIterations sets the number of test iterations
func (sb *ScenarioBuilder) WithIterations(iterations int) *ScenarioBuilder {
	sb.scenario.Iterations = iterations
	return sb
}

// WithWarmupRuns sets the number of warmup runs
func (sb *ScenarioBuilder) WithWarmupRuns(warmups int) *ScenarioBuilder {
	sb.scenario.WarmupRuns = warmups
	return sb
}

// WithConcurrency sets the number of requests in flight.
func (sb *ScenarioBuilder) WithConcurrency(n int) *ScenarioBuilder {
	sb.scenario.Concurrency = n
	return sb
}

// Build returns the configured test scenario
func (sb *ScenarioBuilder) Build() Scenario {
	return sb.scenario
}

// Suite manages and executes benchmark scenarios against one detector.
type Suite struct {
	detector  model.Detector
	outputDir string
	corpus    []*images.Image
	log       *zap.Logger
	mu        sync.RWMutex
	scenarios []Scenario
	results   []PerformanceMetrics
}

// NewSuite creates a new benchmark suite.
//
// Arguments:
//   - detector: The detector under test.
//   - outputDir: Where SaveResults writes.
//   - log: The logger.
//
// Returns:
//   - *Suite: The benchmark suite.
func NewSuite(detector model.Detector, outputDir string, log *zap.Logger) *Suite {
	if log == nil {
		log = zap.NewNop()
	}
	return &Suite{
		detector:  detector,
		outputDir: outputDir,
		log:       log,
	}
}

// AddScenario adds a test scenario to the benchmark suite
func (bs *Suite) AddScenario(scenario Scenario) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.scenarios = append(bs.scenarios, scenario)
}

// LoadCorpus loads every decodable image in dir. When a corpus is loaded,
// scenarios run over it instead of synthetic images.
func (bs *Suite) LoadCorpus(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrap(err, "read corpus directory")
	}

	corpus := make([]*images.Image, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return errors.Wrapf(err, "read %s", entry.Name())
		}
		img, err := images.NewImage(data)
		if err != nil {
			bs.log.Debug("skipping corpus file", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		corpus = append(corpus, img)
	}
	if len(corpus) == 0 {
		return errors.Errorf("no valid images found in directory: %s", dir)
	}

	bs.mu.Lock()
	bs.corpus = corpus
	bs.mu.Unlock()
	return nil
}

// RunScenario executes a single benchmark scenario
func (bs *Suite) RunScenario(ctx context.Context, scenario Scenario) (*PerformanceMetrics, error) {
	if scenario.Iterations <= 0 {
		return nil, errors.Errorf("scenario %s: iterations must be positive", scenario.Name)
	}
	workers := max(1, scenario.Concurrency)

	corpus, err := bs.inputs(scenario)
	if err != nil {
		return nil, err
	}

	for i := 0; i < scenario.WarmupRuns; i++ {
		_, _ = bs.detector.Detect(ctx, corpus[i%len(corpus)])
	}

	sampler := newResourceSampler()
	sampler.start()

	var (
		mu         sync.Mutex
		latencies  = make([]time.Duration, 0, scenario.Iterations)
		detections int
		failures   int
		next       = make(chan int)
		wg         sync.WaitGroup
	)
	start := time.Now()
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				t0 := time.Now()
				out, err := bs.detector.Detect(ctx, corpus[i%len(corpus)])
				took := time.Since(t0)

				mu.Lock()
				if err != nil {
					failures++
				} else {
					latencies = append(latencies, took)
					detections += out.Count()
				}
				mu.Unlock()
			}
		}()
	}
	for i := 0; i < scenario.Iterations; i++ {
		if ctx.Err() != nil {
			break
		}
		next <- i
	}
	close(next)
	wg.Wait()
	total := time.Since(start)

	metrics := &PerformanceMetrics{
		Scenario:        scenario,
		Timestamp:       start,
		TotalDuration:   total,
		FramesPerSecond: float64(len(latencies)) / total.Seconds(),
		Latency:         summarize(latencies),
		DetectionCount:  detections,
		ErrorRate:       float64(failures) / float64(scenario.Iterations),
	}
	sampler.stop(metrics)
	return metrics, ctx.Err()
}

// RunAllScenarios executes all configured benchmark scenarios
func (bs *Suite) RunAllScenarios(ctx context.Context) error {
	bs.mu.RLock()
	scenarios := make([]Scenario, len(bs.scenarios))
	copy(scenarios, bs.scenarios)
	bs.mu.RUnlock()

	for _, scenario := range scenarios {
		metrics, err := bs.RunScenario(ctx, scenario)
		if err != nil {
			bs.log.Warn("scenario failed", zap.String("scenario", scenario.Name), zap.Error(err))
			continue
		}

		bs.mu.Lock()
		bs.results = append(bs.results, *metrics)
		bs.mu.Unlock()

		bs.log.Info("scenario completed",
			zap.String("scenario", scenario.Name),
			zap.Float64("fps", metrics.FramesPerSecond),
			zap.Duration("p50", metrics.Latency.P50),
			zap.Duration("p95", metrics.Latency.P95))
	}
	return nil
}

// GetResults returns all benchmark results
func (bs *Suite) GetResults() []PerformanceMetrics {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	results := make([]PerformanceMetrics, len(bs.results))
	copy(results, bs.results)
	return results
}

func (bs *Suite) inputs(scenario Scenario) ([]*images.Image, error) {
	bs.mu.RLock()
	corpus := bs.corpus
	bs.mu.RUnlock()
	if len(corpus) > 0 {
		return corpus, nil
	}

	data, err := SyntheticImage(scenario.Resolution.Width, scenario.Resolution.Height, scenario.ImageFormat)
	if err != nil {
		return nil, errors.Wrapf(err, "scenario %s", scenario.Name)
	}
	img, err := images.NewImage(data)
	if err != nil {
		return nil, errors.Wrapf(err, "scenario %s", scenario.Name)
	}
	return []*images.Image{img}, nil
}

// SyntheticImage encodes a width x height gradient in format.
func SyntheticImage(width, height int, format images.ImageFormat) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid resolution %dx%d", width, height)
	}
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x * 255 / width),
				G: uint8(y * 255 / height),
				B: uint8((x + y) % 256),
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	var err error
	switch format {
	case images.FormatJPEG, "":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	case images.FormatPNG:
		err = png.Encode(&buf, img)
	case images.FormatWebP:
		err = webp.Encode(&buf, img, &webp.Options{Quality: 90})
	default:
		err = errors.Errorf("unsupported image format: %s", format)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func summarize(latencies []time.Duration) LatencyMetrics {
	if len(latencies) == 0 {
		return LatencyMetrics{}
	}
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	at := func(q float64) time.Duration {
		return sorted[int(q*float64(len(sorted)-1))]
	}
	return LatencyMetrics{
		Min:  sorted[0],
		Mean: sum / time.Duration(len(sorted)),
		P50:  at(0.50),
		P95:  at(0.95),
		P99:  at(0.99),
		Max:  sorted[len(sorted)-1],
	}
}
