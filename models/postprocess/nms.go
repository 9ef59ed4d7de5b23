// Package postprocess - provides Non-Maximum Suppression for detection results.
package postprocess

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/nvr-ai/inference-lambda/images"
)

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	// IoUThreshold suppresses a box whose overlap with a kept box exceeds it.
	IoUThreshold float32 `json:"iou_threshold" yaml:"iou_threshold"`
	// ScoreThreshold drops candidates whose score does not exceed it.
	ScoreThreshold float32 `json:"score_threshold" yaml:"score_threshold"`
	// MaxOutputPerClass caps the number of boxes kept for a single class.
	MaxOutputPerClass int `json:"max_output_per_class" yaml:"max_output_per_class"`
	// MaxTotal caps the number of boxes kept across all classes. It is also the
	// number of padded output slots.
	MaxTotal int `json:"max_total" yaml:"max_total"`
	// ClipBoxes clamps the coordinates of kept boxes into [0, 1].
	ClipBoxes bool `json:"clip_boxes" yaml:"clip_boxes"`
}

// DefaultNMSConfig returns the suppression parameters used by the YOLOv4 pipeline.
func DefaultNMSConfig() NMSConfig {
	return NMSConfig{
		IoUThreshold:      0.45,
		ScoreThreshold:    0.25,
		MaxOutputPerClass: 50,
		MaxTotal:          50,
		ClipBoxes:         true,
	}
}

// Validate reports an error for parameters that cannot produce a result.
func (c NMSConfig) Validate() error {
	if c.IoUThreshold < 0 || c.IoUThreshold > 1 {
		return errors.Errorf("iou_threshold must be within [0, 1], got %v", c.IoUThreshold)
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return errors.Errorf("score_threshold must be within [0, 1], got %v", c.ScoreThreshold)
	}
	if c.MaxOutputPerClass <= 0 || c.MaxTotal <= 0 {
		return errors.Errorf("max_output_per_class and max_total must be positive, got %d and %d",
			c.MaxOutputPerClass, c.MaxTotal)
	}
	return nil
}

// SortByScore orders detections by descending score. Equal scores keep their
// relative order.
func SortByScore(detections []Result) {
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Score > detections[j].Score
	})
}

// ApplyGreedyNMS performs standard greedy Non-Maximum Suppression.
//
// Arguments:
//   - detections: Slice of detections sorted by descending confidence.
//   - iouThreshold: IoU threshold above which overlapping boxes are suppressed.
//   - limit: Stop once this many detections are kept. Zero or less means no limit.
//
// Returns:
//   - Filtered slice of detections. If no detections are provided, returns nil.
func ApplyGreedyNMS(detections []Result, iouThreshold float32, limit int) []Result {
	n := len(detections)
	if n == 0 {
		return nil
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	filtered := make([]Result, 0, limit)
	used := make([]bool, n)

	for i := 0; i < n && len(filtered) < limit; i++ {
		if used[i] {
			continue
		}

		anchor := detections[i]
		filtered = append(filtered, anchor)
		used[i] = true

		for j := i + 1; j < n; j++ {
			if used[j] {
				continue
			}

			// Suppress if IoU exceeds threshold
			if images.CalculateIoU(anchor.Box, detections[j].Box) > iouThreshold {
				used[j] = true
			}
		}
	}

	return filtered
}

// Combined is the fixed-size output of CombinedNMS.
//
// Boxes, Scores and Classes always have exactly MaxTotal entries. Only the first
// Valid entries are detections; the remainder are zero padding.
type Combined struct {
	Boxes   [][4]float32
	Scores  []float32
	Classes []int
	Valid   int
}

// CombinedNMS runs class-wise greedy suppression over candidates that share one
// box across all classes, then merges the per-class survivors.
//
// For every class independently, candidates scoring strictly above
// ScoreThreshold are suppressed greedily in descending score order, keeping at
// most MaxOutputPerClass. The survivors of all classes are merged, ordered by
// descending score and truncated to MaxTotal, then padded with zeros.
//
// Boxes are four coordinates in any consistent corner order (y1,x1,y2,x2 or
// x1,y1,x2,y2) and are returned in the same order.
//
// Arguments:
//   - boxes: One box per candidate, normalized to [0, 1].
//   - scores: One per-class score vector per candidate.
//   - config: The suppression parameters.
//
// Returns:
//   - Combined: The padded selection.
//   - error: If the inputs disagree in length or the config is invalid.
func CombinedNMS(boxes [][4]float32, scores [][]float32, config NMSConfig) (Combined, error) {
	if err := config.Validate(); err != nil {
		return Combined{}, err
	}
	if len(boxes) != len(scores) {
		return Combined{}, errors.Errorf("got %d boxes but %d score vectors", len(boxes), len(scores))
	}

	numClasses := 0
	if len(scores) > 0 {
		numClasses = len(scores[0])
	}
	for i, s := range scores {
		if len(s) != numClasses {
			return Combined{}, errors.Errorf("score vector %d has %d classes, expected %d", i, len(s), numClasses)
		}
	}

	var selected []Result
	candidates := make([]Result, 0, len(boxes))
	for class := 0; class < numClasses; class++ {
		candidates = candidates[:0]
		for i, box := range boxes {
			if score := scores[i][class]; score > config.ScoreThreshold {
				candidates = append(candidates, Result{
					Box:   images.Rect{X1: box[0], Y1: box[1], X2: box[2], Y2: box[3]},
					Score: score,
					Class: class,
				})
			}
		}
		SortByScore(candidates)
		selected = append(selected, ApplyGreedyNMS(candidates, config.IoUThreshold, config.MaxOutputPerClass)...)
	}

	SortByScore(selected)
	if len(selected) > config.MaxTotal {
		selected = selected[:config.MaxTotal]
	}

	out := Combined{
		Boxes:   make([][4]float32, config.MaxTotal),
		Scores:  make([]float32, config.MaxTotal),
		Classes: make([]int, config.MaxTotal),
		Valid:   len(selected),
	}
	for i, det := range selected {
		box := det.Box
		if config.ClipBoxes {
			box = ClipRect(box, 1, 1)
		}
		out.Boxes[i] = box.Array()
		out.Scores[i] = det.Score
		out.Classes[i] = det.Class
	}
	return out, nil
}
