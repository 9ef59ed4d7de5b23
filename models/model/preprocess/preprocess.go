// Package preprocess - Converts decoded images into model input tensors.
package preprocess

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"

	"github.com/nvr-ai/inference-lambda/images"
)

// ModelConfig defines preprocessing configuration for a specific model.
type ModelConfig struct {
	// Name of the model for debugging purposes.
	Name string
	// Resize selects how the image is brought to the model input size.
	Resize ResizeMode
	// InputWidth is the expected width of the model input (stretch and letterbox).
	InputWidth int
	// InputHeight is the expected height of the model input (stretch and letterbox).
	InputHeight int
	// ShorterSide is the length of the shorter side after resizing (shorter-side mode).
	ShorterSide int
	// InputChannels is the number of channels. Only 3 is supported.
	InputChannels int
	// NormalizationType defines how to normalize pixel values.
	NormalizationType NormalizationType
	// MeanValues for standardization, in 0-255 pixel units.
	MeanValues []float32
	// StdValues for standardization, in 0-255 pixel units.
	StdValues []float32
	// ChannelOrder defines the channel ordering (CHW or HWC).
	ChannelOrder ChannelOrder
	// ColorMode defines the channel order of the color space (RGB or BGR).
	ColorMode ColorMode
	// LetterboxColor is the color used for letterbox padding (default black).
	LetterboxColor color.Color
}

// ResizeMode defines how an image is resized to the model input.
type ResizeMode int

const (
	// ResizeStretch resizes to exactly InputWidth x InputHeight, ignoring aspect ratio.
	ResizeStretch ResizeMode = iota
	// ResizeLetterbox fits the image into InputWidth x InputHeight and pads the rest.
	ResizeLetterbox
	// ResizeShorterSide scales the shorter side to ShorterSide, keeping aspect ratio.
	// The tensor size then depends on the image.
	ResizeShorterSide
)

// NormalizationType defines how pixel values are normalized.
type NormalizationType int

const (
	// NormalizeNone keeps pixel values as 0-255.
	NormalizeNone NormalizationType = iota
	// NormalizeZeroToOne scales pixel values to [0, 1].
	NormalizeZeroToOne
	// NormalizeMinusOneToOne scales pixel values to [-1, 1].
	NormalizeMinusOneToOne
	// NormalizeStandardize applies mean and std normalization.
	NormalizeStandardize
)

// ChannelOrder defines the ordering of image channels.
type ChannelOrder int

const (
	// ChannelOrderCHW is Channel-Height-Width ordering (common for ONNX).
	ChannelOrderCHW ChannelOrder = iota
	// ChannelOrderHWC is Height-Width-Channel ordering.
	ChannelOrderHWC
)

// ColorMode defines the color space of the image.
type ColorMode int

const (
	// ColorModeRGB is standard RGB color mode.
	ColorModeRGB ColorMode = iota
	// ColorModeBGR is BGR color mode (common for OpenCV models).
	ColorModeBGR
)

// PreprocessingResult contains the preprocessed image data and metadata.
type PreprocessingResult struct {
	// Data is the preprocessed float32 tensor data.
	Data []float32
	// Shape is the batched tensor shape, [1, C, H, W] or [1, H, W, C].
	Shape []int64
	// OriginalWidth is the original image width before preprocessing.
	OriginalWidth int
	// OriginalHeight is the original image height before preprocessing.
	OriginalHeight int
	// Width is the width of the tensor image.
	Width int
	// Height is the height of the tensor image.
	Height int
	// ScaleX is the horizontal scaling factor applied.
	ScaleX float64
	// ScaleY is the vertical scaling factor applied.
	ScaleY float64
	// PadLeft is the left padding applied for letterboxing.
	PadLeft int
	// PadTop is the top padding applied for letterboxing.
	PadTop int
}

// Preprocessor handles image preprocessing for ONNX models.
//
// A Preprocessor holds no mutable state and is safe for concurrent use.
type Preprocessor struct {
	config ModelConfig
}

// NewPreprocessor creates a new preprocessor with the given configuration.
//
// Arguments:
//   - config: The model-specific preprocessing configuration.
//
// Returns:
//   - *Preprocessor: A configured Preprocessor instance.
//   - error: If the configuration is inconsistent.
//
// @example
//
//	preprocessor, err := NewPreprocessor(GetDETRConfig(800))
func NewPreprocessor(config ModelConfig) (*Preprocessor, error) {
	if config.InputChannels != 3 {
		return nil, errors.Errorf("%s: unsupported channel count %d", config.Name, config.InputChannels)
	}
	switch config.Resize {
	case ResizeStretch, ResizeLetterbox:
		if config.InputWidth <= 0 || config.InputHeight <= 0 {
			return nil, errors.Errorf("%s: invalid input size %dx%d", config.Name, config.InputWidth, config.InputHeight)
		}
	case ResizeShorterSide:
		if config.ShorterSide <= 0 {
			return nil, errors.Errorf("%s: invalid shorter side %d", config.Name, config.ShorterSide)
		}
	default:
		return nil, errors.Errorf("%s: unknown resize mode %d", config.Name, config.Resize)
	}
	if config.NormalizationType == NormalizeStandardize {
		if len(config.MeanValues) != config.InputChannels || len(config.StdValues) != config.InputChannels {
			return nil, errors.Errorf("%s: standardization needs %d mean and std values", config.Name, config.InputChannels)
		}
		for _, std := range config.StdValues {
			if std == 0 {
				return nil, errors.Errorf("%s: std values must be non-zero", config.Name)
			}
		}
	}
	if config.LetterboxColor == nil {
		config.LetterboxColor = color.Black
	}
	return &Preprocessor{config: config}, nil
}

// Config returns the configuration of the preprocessor.
func (p *Preprocessor) Config() ModelConfig {
	return p.config
}

// Preprocess performs all necessary preprocessing steps on a decoded image.
//
// Arguments:
//   - img: The decoded input image.
//
// Returns:
//   - *PreprocessingResult: The tensor and the geometry needed to map boxes back.
//   - error: If the image is empty.
//
// @example
//
//	decoded, _ := images.Decode(img)
//	result, err := preprocessor.Preprocess(decoded)
//	if err != nil {
//	    return err
//	}
//	tensor := result.Data
func (p *Preprocessor) Preprocess(img image.Image) (*PreprocessingResult, error) {
	if img == nil {
		return nil, errors.New("image is nil")
	}
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, errors.Errorf("invalid image dimensions: %dx%d", bounds.Dx(), bounds.Dy())
	}

	result := &PreprocessingResult{
		OriginalWidth:  bounds.Dx(),
		OriginalHeight: bounds.Dy(),
	}

	resized := p.resizeImage(img, result)
	result.Width = resized.Bounds().Dx()
	result.Height = resized.Bounds().Dy()

	result.Data = p.imageToTensor(resized)
	p.normalize(result.Data)

	if p.config.ChannelOrder == ChannelOrderCHW {
		result.Shape = []int64{1, int64(p.config.InputChannels), int64(result.Height), int64(result.Width)}
	} else {
		result.Shape = []int64{1, int64(result.Height), int64(result.Width), int64(p.config.InputChannels)}
	}
	return result, nil
}

// resizeImage resizes the image to the model's input dimensions and records the
// scale and padding in result.
func (p *Preprocessor) resizeImage(img image.Image, result *PreprocessingResult) *image.NRGBA {
	srcWidth := float64(result.OriginalWidth)
	srcHeight := float64(result.OriginalHeight)

	switch p.config.Resize {
	case ResizeShorterSide:
		resized := images.ToNRGBA(images.ResizeShorterSide(img, p.config.ShorterSide))
		result.ScaleX = float64(resized.Bounds().Dx()) / srcWidth
		result.ScaleY = float64(resized.Bounds().Dy()) / srcHeight
		return resized

	case ResizeLetterbox:
		scale := min(float64(p.config.InputWidth)/srcWidth, float64(p.config.InputHeight)/srcHeight)
		newWidth := max(1, int(srcWidth*scale))
		newHeight := max(1, int(srcHeight*scale))
		resized := resize.Resize(uint(newWidth), uint(newHeight), img, resize.Bilinear)

		result.PadLeft = (p.config.InputWidth - newWidth) / 2
		result.PadTop = (p.config.InputHeight - newHeight) / 2
		result.ScaleX, result.ScaleY = scale, scale

		canvas := imaging.New(p.config.InputWidth, p.config.InputHeight, p.config.LetterboxColor)
		return imaging.Paste(canvas, resized, image.Pt(result.PadLeft, result.PadTop))

	default:
		result.ScaleX = float64(p.config.InputWidth) / srcWidth
		result.ScaleY = float64(p.config.InputHeight) / srcHeight
		if result.OriginalWidth == p.config.InputWidth && result.OriginalHeight == p.config.InputHeight {
			return images.ToNRGBA(img)
		}
		return images.ToNRGBA(resize.Resize(uint(p.config.InputWidth), uint(p.config.InputHeight), img, resize.Bilinear))
	}
}

// imageToTensor converts an image to a float32 tensor with raw 0-255 values.
func (p *Preprocessor) imageToTensor(img *image.NRGBA) []float32 {
	width := img.Bounds().Dx()
	height := img.Bounds().Dy()
	plane := width * height
	tensor := make([]float32, plane*p.config.InputChannels)

	for y := 0; y < height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+width*4]
		for x := 0; x < width; x++ {
			r, g, b := float32(row[x*4]), float32(row[x*4+1]), float32(row[x*4+2])
			ch0, ch1, ch2 := r, g, b
			if p.config.ColorMode == ColorModeBGR {
				ch0, ch2 = b, r
			}

			i := y*width + x
			if p.config.ChannelOrder == ChannelOrderCHW {
				tensor[i] = ch0
				tensor[plane+i] = ch1
				tensor[2*plane+i] = ch2
			} else {
				tensor[i*3] = ch0
				tensor[i*3+1] = ch1
				tensor[i*3+2] = ch2
			}
		}
	}
	return tensor
}

// normalize applies normalization to the tensor in place.
func (p *Preprocessor) normalize(tensor []float32) {
	switch p.config.NormalizationType {
	case NormalizeZeroToOne:
		for i := range tensor {
			tensor[i] /= 255.0
		}
	case NormalizeMinusOneToOne:
		for i := range tensor {
			tensor[i] = (tensor[i] / 127.5) - 1.0
		}
	case NormalizeStandardize:
		channels := p.config.InputChannels
		pixelsPerChannel := len(tensor) / channels
		for c := 0; c < channels; c++ {
			mean := p.config.MeanValues[c]
			std := p.config.StdValues[c]

			if p.config.ChannelOrder == ChannelOrderCHW {
				offset := c * pixelsPerChannel
				for i := 0; i < pixelsPerChannel; i++ {
					tensor[offset+i] = (tensor[offset+i] - mean) / std
				}
			} else {
				for i := c; i < len(tensor); i += channels {
					tensor[i] = (tensor[i] - mean) / std
				}
			}
		}
	}
}

// GetDETRConfig returns the standard configuration for DETR models: the shorter
// side is resized to shorterSide and pixels are standardized with the ImageNet
// mean [0.485, 0.456, 0.406] and std [0.229, 0.224, 0.225].
//
// Arguments:
//   - shorterSide: The length of the shorter side, typically 800.
//
// Returns:
//   - ModelConfig: A configured ModelConfig for DETR.
func GetDETRConfig(shorterSide int) ModelConfig {
	return ModelConfig{
		Name:              "detr",
		Resize:            ResizeShorterSide,
		ShorterSide:       shorterSide,
		InputChannels:     3,
		NormalizationType: NormalizeStandardize,
		MeanValues:        []float32{123.675, 116.28, 103.53},
		StdValues:         []float32{58.395, 57.12, 57.375},
		ChannelOrder:      ChannelOrderCHW,
		ColorMode:         ColorModeRGB,
	}
}

// GetYOLOv4Config returns the standard configuration for YOLOv4 models exported
// from TensorFlow: a square stretch resize, [0, 1] pixels and NHWC layout.
//
// Arguments:
//   - inputSize: The input size (typically 416, 512, or 608).
//
// Returns:
//   - ModelConfig: A configured ModelConfig for YOLOv4.
func GetYOLOv4Config(inputSize int) ModelConfig {
	return ModelConfig{
		Name:              "yolov4",
		Resize:            ResizeStretch,
		InputWidth:        inputSize,
		InputHeight:       inputSize,
		InputChannels:     3,
		NormalizationType: NormalizeZeroToOne,
		ChannelOrder:      ChannelOrderHWC,
		ColorMode:         ColorModeRGB,
	}
}
