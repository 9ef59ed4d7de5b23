package benchmark

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// SaveResults writes the results as JSON and a CSV summary into the output
// directory and returns the paths written.
func (bs *Suite) SaveResults() ([]string, error) {
	results := bs.GetResults()

	if err := os.MkdirAll(bs.outputDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create output directory")
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	resultsFile := filepath.Join(bs.outputDir, fmt.Sprintf("benchmark_results_%s.json", timestamp))
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "marshal results")
	}
	if err := os.WriteFile(resultsFile, data, 0o644); err != nil {
		return nil, errors.Wrap(err, "write results file")
	}

	summaryFile := filepath.Join(bs.outputDir, fmt.Sprintf("benchmark_summary_%s.csv", timestamp))
	if err := saveSummaryCSV(summaryFile, results); err != nil {
		return nil, errors.Wrap(err, "save summary CSV")
	}
	return []string{resultsFile, summaryFile}, nil
}

var summaryHeader = []string{
	"scenario", "model", "resolution", "format", "concurrency",
	"fps", "p50_ms", "p95_ms", "rss_mb", "detections", "error_rate",
}

func saveSummaryCSV(filename string, results []PerformanceMetrics) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(summaryHeader); err != nil {
		return err
	}
	for _, r := range results {
		row := []string{
			r.Scenario.Name,
			string(r.Scenario.Model),
			r.Scenario.Resolution.Name,
			string(r.Scenario.ImageFormat),
			strconv.Itoa(r.Scenario.Concurrency),
			strconv.FormatFloat(r.FramesPerSecond, 'f', 2, 64),
			strconv.FormatFloat(ms(r.Latency.P50), 'f', 2, 64),
			strconv.FormatFloat(ms(r.Latency.P95), 'f', 2, 64),
			strconv.FormatFloat(float64(r.MemoryStats.RSSBytes)/(1024*1024), 'f', 2, 64),
			strconv.Itoa(r.DetectionCount),
			strconv.FormatFloat(r.ErrorRate, 'f', 4, 64),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
