// Package yolov4 - postprocess YOLOv4 model outputs.
package yolov4

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/inference-lambda/images"
	"github.com/nvr-ai/inference-lambda/inference"
	"github.com/nvr-ai/inference-lambda/models/postprocess"
)

// PostProcess turns the raw YOLOv4 output into a padded detection set by:
//   - Splitting every candidate into its box and per-class confidences.
//   - Running combined non-maximum suppression.
//   - Reordering the kept boxes to x1, y1, x2, y2 and scaling them to the
//     original image size.
//
// Arguments:
//   - output: The model output, shaped [1, candidates, 4+classes].
//   - width: The width of the original image.
//   - height: The height of the original image.
//
// Returns:
//   - *Result: A batch of one, padded to NMS.MaxTotal slots.
//   - error: If the output shape is inconsistent.
func (m *YOLOv4) PostProcess(output inference.Tensor, width, height int) (*Result, error) {
	if len(output.Shape) != 3 || output.Shape[0] != 1 {
		return nil, errors.Errorf("expected output shape [1, candidates, 4+classes], got %v", output.Shape)
	}
	candidates := int(output.Shape[1])
	cols := int(output.Shape[2])
	if cols < 5 {
		return nil, errors.Errorf("expected at least one class column, got %d columns", cols)
	}
	if len(output.Data) != candidates*cols {
		return nil, errors.Errorf("output has %d values, shape %v needs %d", len(output.Data), output.Shape, candidates*cols)
	}

	boxes := make([][4]float32, candidates)
	scores := make([][]float32, candidates)
	for i := 0; i < candidates; i++ {
		row := output.Data[i*cols : (i+1)*cols]
		copy(boxes[i][:], row[:4])
		scores[i] = row[4:]
	}

	combined, err := postprocess.CombinedNMS(boxes, scores, m.config.NMS)
	if err != nil {
		return nil, err
	}

	for i := 0; i < combined.Valid; i++ {
		b := combined.Boxes[i]
		rect := images.Rect{X1: b[0], Y1: b[1], X2: b[2], Y2: b[3]}
		if m.config.BoxOrder == BoxOrderYXYX {
			rect = images.Rect{X1: b[1], Y1: b[0], X2: b[3], Y2: b[2]}
		}
		combined.Boxes[i] = postprocess.ScaleRect(rect, width, height).Array()
	}

	return &Result{
		Boxes:   [][][4]float32{combined.Boxes},
		Scores:  [][]float32{combined.Scores},
		Classes: [][]int{combined.Classes},
		Valid:   []int{combined.Valid},
	}, nil
}
