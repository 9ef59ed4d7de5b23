// Package detr - postprocess DETR model outputs.
package detr

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/inference-lambda/inference"
	"github.com/nvr-ai/inference-lambda/models/postprocess"
)

// PostProcess turns raw DETR outputs into kept detections by:
//   - Applying softmax over every query's logits and dropping the trailing
//     "no object" class.
//   - Keeping queries whose best class probability exceeds the threshold.
//   - Converting kept boxes from normalized cx, cy, w, h to corners.
//   - Scaling corners to the original image size.
//
// Arguments:
//   - logits: The class logits, shaped [1, queries, classes+1].
//   - boxes: The boxes, shaped [1, queries, 4].
//   - width: The width of the original image.
//   - height: The height of the original image.
//
// Returns:
//   - *Result: The kept detections. Both slices are empty, never nil, when
//     nothing is kept.
//   - error: If the output shapes are inconsistent.
func (d *DETR) PostProcess(logits, boxes inference.Tensor, width, height int) (*Result, error) {
	if len(logits.Shape) != 3 || len(boxes.Shape) != 3 {
		return nil, errors.Errorf("expected rank-3 outputs, got logits %v and boxes %v", logits.Shape, boxes.Shape)
	}
	if logits.Shape[0] != 1 || boxes.Shape[0] != 1 {
		return nil, errors.Errorf("expected a batch of 1, got logits %v and boxes %v", logits.Shape, boxes.Shape)
	}
	queries := int(logits.Shape[1])
	numLogits := int(logits.Shape[2])
	if int(boxes.Shape[1]) != queries || boxes.Shape[2] != 4 {
		return nil, errors.Errorf("boxes shape %v does not match logits shape %v", boxes.Shape, logits.Shape)
	}
	if numLogits < 2 {
		return nil, errors.Errorf("expected at least one class besides no-object, got %d logits", numLogits)
	}
	if len(logits.Data) != queries*numLogits || len(boxes.Data) != queries*4 {
		return nil, errors.New("output data does not match its shape")
	}

	result := &Result{
		Probas: [][]float32{},
		BBox:   [][4]float32{},
	}
	w, h := float32(width), float32(height)

	for q := 0; q < queries; q++ {
		probs := postprocess.Softmax(logits.Data[q*numLogits : (q+1)*numLogits])
		probs = probs[:numLogits-1]

		if _, best := postprocess.Argmax(probs); best <= d.config.Threshold {
			continue
		}

		var box [4]float32
		copy(box[:], boxes.Data[q*4:(q+1)*4])
		rect := postprocess.ScaleRect(postprocess.CXCYWHToXYXY(box), width, height)
		if d.config.ClipBoxes {
			rect = postprocess.ClipRect(rect, w, h)
		}

		result.Probas = append(result.Probas, probs)
		result.BBox = append(result.BBox, rect.Array())
	}
	return result, nil
}

func argmax(probs []float32) int {
	idx, _ := postprocess.Argmax(probs)
	return idx
}
