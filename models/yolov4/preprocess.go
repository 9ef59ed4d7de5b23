// Package yolov4 - preprocess images into the YOLOv4 input tensor.
package yolov4

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/inference-lambda/fault"
	"github.com/nvr-ai/inference-lambda/images"
	"github.com/nvr-ai/inference-lambda/inference"
	"github.com/nvr-ai/inference-lambda/models/model/preprocess"
)

// preprocessFunc turns an encoded image into a [1, size, size, 3] tensor.
type preprocessFunc func(img *images.Image, size int) (inference.Tensor, error)

func newPreprocessFunc(config Config) (preprocessFunc, error) {
	switch config.Preprocessor {
	case PreprocessorOpenCV:
		return PreprocessOpenCV, nil
	case PreprocessorGo:
		pre, err := preprocess.NewPreprocessor(preprocess.GetYOLOv4Config(config.InputSize))
		if err != nil {
			return nil, err
		}
		return func(img *images.Image, _ int) (inference.Tensor, error) {
			return preprocessGo(pre, img)
		}, nil
	default:
		return nil, errors.Errorf("unknown preprocessor %q", config.Preprocessor)
	}
}

// PreprocessOpenCV decodes img with OpenCV, converts BGR to RGB, resizes to
// size x size with bilinear interpolation and scales pixels to [0, 1].
//
// EXIF orientation is ignored so the decoded pixels keep the width and height
// read from the image header, which PostProcess scales boxes to.
//
// Arguments:
//   - img: The encoded image.
//   - size: The side of the square model input.
//
// Returns:
//   - inference.Tensor: The NHWC tensor [1, size, size, 3].
//   - error: A decode error if OpenCV cannot read the image.
func PreprocessOpenCV(img *images.Image, size int) (inference.Tensor, error) {
	const op = "yolov4.PreprocessOpenCV"

	mat, err := gocv.IMDecode(img.Data, gocv.IMReadColor|gocv.IMReadIgnoreOrientation)
	if err != nil {
		return inference.Tensor{}, fault.New(fault.KindDecode, op, err)
	}
	defer mat.Close()
	if mat.Empty() {
		return inference.Tensor{}, fault.Errorf(fault.KindDecode, op, "opencv could not decode %s image", img.Format)
	}

	rgb := gocv.NewMat()
	defer rgb.Close()
	if err := gocv.CvtColor(mat, &rgb, gocv.ColorBGRToRGB); err != nil {
		return inference.Tensor{}, fault.New(fault.KindInference, op, errors.Wrap(err, "convert color"))
	}

	resized := gocv.NewMat()
	defer resized.Close()
	if err := gocv.Resize(rgb, &resized, image.Pt(size, size), 0, 0, gocv.InterpolationLinear); err != nil {
		return inference.Tensor{}, fault.New(fault.KindInference, op, errors.Wrap(err, "resize"))
	}

	scaled := gocv.NewMat()
	defer scaled.Close()
	if err := resized.ConvertToWithParams(&scaled, gocv.MatTypeCV32FC3, 1.0/255.0, 0); err != nil {
		return inference.Tensor{}, fault.New(fault.KindInference, op, errors.Wrap(err, "convert to float"))
	}

	pixels, err := scaled.DataPtrFloat32()
	if err != nil {
		return inference.Tensor{}, fault.New(fault.KindInference, op, errors.Wrap(err, "read pixels"))
	}
	// The Mat owns pixels; copy before it is closed.
	data := make([]float32, len(pixels))
	copy(data, pixels)

	tensor, err := inference.NewTensor(data, 1, int64(size), int64(size), 3)
	if err != nil {
		return inference.Tensor{}, fault.New(fault.KindInference, op, err)
	}
	return tensor, nil
}

func preprocessGo(pre *preprocess.Preprocessor, img *images.Image) (inference.Tensor, error) {
	const op = "yolov4.preprocessGo"

	decoded, err := images.Decode(img)
	if err != nil {
		return inference.Tensor{}, err
	}
	result, err := pre.Preprocess(decoded)
	if err != nil {
		return inference.Tensor{}, fault.New(fault.KindInference, op, err)
	}
	tensor, err := inference.NewTensor(result.Data, result.Shape...)
	if err != nil {
		return inference.Tensor{}, fault.New(fault.KindInference, op, err)
	}
	return tensor, nil
}
