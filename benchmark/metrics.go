// Package benchmark - Functionality for running benchmarks.
package benchmark

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// PerformanceMetrics captures detailed performance data
type PerformanceMetrics struct {
	Scenario        Scenario       `json:"scenario"`
	Timestamp       time.Time      `json:"timestamp"`
	TotalDuration   time.Duration  `json:"total_duration"`
	FramesPerSecond float64        `json:"frames_per_second"`
	Latency         LatencyMetrics `json:"latency"`
	MemoryStats     MemoryMetrics  `json:"memory_stats"`
	CPUStats        CPUMetrics     `json:"cpu_stats"`
	DetectionCount  int            `json:"detection_count"`
	ErrorRate       float64        `json:"error_rate"`
}

// LatencyMetrics summarizes per-request latency of successful requests.
type LatencyMetrics struct {
	Min  time.Duration `json:"min"`
	Mean time.Duration `json:"mean"`
	P50  time.Duration `json:"p50"`
	P95  time.Duration `json:"p95"`
	P99  time.Duration `json:"p99"`
	Max  time.Duration `json:"max"`
}

// MemoryMetrics captures memory usage statistics
type MemoryMetrics struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	NumGC           uint32 `json:"num_gc"`
	HeapAllocBytes  uint64 `json:"heap_alloc_bytes"`
	// RSSBytes is the resident set of the process, including memory held by
	// the native inference runtime.
	RSSBytes uint64 `json:"rss_bytes"`
}

// CPUMetrics captures CPU usage statistics
type CPUMetrics struct {
	UserTime   time.Duration `json:"user_time"`
	SystemTime time.Duration `json:"system_time"`
	NumCPU     int           `json:"num_cpu"`
}

// resourceSampler measures Go heap and process CPU usage across a run.
type resourceSampler struct {
	proc     *process.Process
	startMem runtime.MemStats
	startCPU time.Duration
	startSys time.Duration
}

func newResourceSampler() *resourceSampler {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		proc = nil
	}
	return &resourceSampler{proc: proc}
}

func (s *resourceSampler) start() {
	runtime.GC()
	runtime.ReadMemStats(&s.startMem)
	s.startCPU, s.startSys = s.cpuTimes()
}

func (s *resourceSampler) stop(m *PerformanceMetrics) {
	var endMem runtime.MemStats
	runtime.ReadMemStats(&endMem)

	m.MemoryStats = MemoryMetrics{
		AllocBytes:      endMem.Alloc,
		TotalAllocBytes: endMem.TotalAlloc - s.startMem.TotalAlloc,
		SysBytes:        endMem.Sys,
		NumGC:           endMem.NumGC - s.startMem.NumGC,
		HeapAllocBytes:  endMem.HeapAlloc,
	}
	if s.proc != nil {
		if info, err := s.proc.MemoryInfo(); err == nil {
			m.MemoryStats.RSSBytes = info.RSS
		}
	}

	user, sys := s.cpuTimes()
	m.CPUStats = CPUMetrics{
		UserTime:   user - s.startCPU,
		SystemTime: sys - s.startSys,
		NumCPU:     runtime.NumCPU(),
	}
}

func (s *resourceSampler) cpuTimes() (user, sys time.Duration) {
	if s.proc == nil {
		return 0, 0
	}
	times, err := s.proc.Times()
	if err != nil {
		return 0, 0
	}
	return seconds(times.User), seconds(times.System)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
