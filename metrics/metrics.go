// Package metrics - Prometheus instrumentation of the inference pipelines.
package metrics

import (
	"context"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Stage names a timed phase of a request.
type Stage string

const (
	// StageFetch is the image download.
	StageFetch Stage = "fetch"
	// StageDetect is decoding, preprocessing, the forward pass and postprocessing.
	StageDetect Stage = "detect"
	// StageTotal is the whole request.
	StageTotal Stage = "total"
)

// Metrics holds the collectors of one process on a private registry.
//
// All methods are safe on a nil *Metrics, which records nothing.
type Metrics struct {
	registry   *prometheus.Registry
	requests   *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	detections *prometheus.HistogramVec
	loads      *prometheus.CounterVec
	memUsage   prometheus.Gauge
	cpuUsage   prometheus.Gauge
	proc       *process.Process
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inference_requests_total",
			Help: "Total number of inference requests by model and response code.",
		}, []string{"model", "code"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inference_stage_duration_seconds",
			Help:    "Duration of request stages in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"model", "stage"}),
		detections: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inference_detections",
			Help:    "Number of detections returned per request.",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
		}, []string{"model"}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inference_model_loads_total",
			Help: "Model load attempts by result.",
		}, []string{"model", "result"}),
		memUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "memory_usage_megabytes",
			Help: "Resident memory of the process in megabytes.",
		}),
		cpuUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cpu_usage_percent",
			Help: "CPU usage of the process in percent.",
		}),
	}
	m.registry.MustRegister(m.requests, m.durations, m.detections, m.loads, m.memUsage, m.cpuUsage)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest counts a finished request.
func (m *Metrics) ObserveRequest(model, code string, took time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(model, code).Inc()
	m.durations.WithLabelValues(model, string(StageTotal)).Observe(took.Seconds())
}

// ObserveStage records the duration of one stage.
func (m *Metrics) ObserveStage(model string, stage Stage, took time.Duration) {
	if m == nil {
		return
	}
	m.durations.WithLabelValues(model, string(stage)).Observe(took.Seconds())
}

// ObserveDetections records the number of detections of a successful request.
func (m *Metrics) ObserveDetections(model string, count int) {
	if m == nil {
		return
	}
	m.detections.WithLabelValues(model).Observe(float64(count))
}

// ObserveLoad counts a model load attempt.
func (m *Metrics) ObserveLoad(model string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.loads.WithLabelValues(model, result).Inc()
}

// SampleProcess updates the memory and CPU gauges from the current process.
func (m *Metrics) SampleProcess() error {
	if m == nil {
		return nil
	}
	if m.proc == nil {
		proc, err := process.NewProcess(int32(os.Getpid()))
		if err != nil {
			return err
		}
		m.proc = proc
	}

	mem, err := m.proc.MemoryInfo()
	if err != nil {
		return err
	}
	m.memUsage.Set(float64(mem.RSS) / 1024 / 1024)

	cpu, err := m.proc.CPUPercent()
	if err != nil {
		return err
	}
	m.cpuUsage.Set(math.Round(cpu*100) / 100)
	return nil
}

// StartSampler samples the process every interval until ctx is done.
func (m *Metrics) StartSampler(ctx context.Context, interval time.Duration, log *zap.Logger) {
	if m == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.SampleProcess(); err != nil {
					log.Debug("process sample failed", zap.Error(err))
				}
			}
		}
	}()
}
