// Package images - Image definition and decoding.
package images

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"

	"github.com/nvr-ai/inference-lambda/fault"
)

// Image represents an encoded image with a format, data, width, and height.
type Image struct {
	// The format of the image.
	Format ImageFormat `json:"format" yaml:"format"`
	// The data of the image.
	Data []byte `json:"data" yaml:"data"`
	// The width of the image.
	Width int `json:"width" yaml:"width"`
	// The height of the image.
	Height int `json:"height" yaml:"height"`
}

// ImageFormat represents supported image formats
type ImageFormat string

// ImageFormat constants
const (
	// FormatJPEG is the JPEG image format.
	FormatJPEG ImageFormat = "jpeg"
	// FormatWebP is the WebP image format.
	FormatWebP ImageFormat = "webp"
	// FormatPNG is the PNG image format.
	FormatPNG ImageFormat = "png"
	// FormatGIF is the GIF image format.
	FormatGIF ImageFormat = "gif"
)

// MaxPixels bounds the decoded size of an image (width*height).
const MaxPixels = 64 << 20

// SniffFormat detects the image format from the leading bytes of data.
//
// Arguments:
//   - data: The encoded image bytes.
//
// Returns:
//   - ImageFormat: The detected format.
//   - error: A decode error when data is not a supported image.
func SniffFormat(data []byte) (ImageFormat, error) {
	mtype := mimetype.Detect(data)
	switch {
	case mtype.Is("image/jpeg"):
		return FormatJPEG, nil
	case mtype.Is("image/png"):
		return FormatPNG, nil
	case mtype.Is("image/gif"):
		return FormatGIF, nil
	case mtype.Is("image/webp"):
		return FormatWebP, nil
	default:
		return "", fault.Errorf(fault.KindDecode, "images.SniffFormat", "unsupported content type %q", mtype.String())
	}
}

// NewImage validates encoded bytes and reads the image header.
//
// The pixel data is not decoded; only the format and dimensions are extracted so
// that non-image or oversized content is rejected before any preprocessing.
//
// Arguments:
//   - data: The encoded image bytes.
//
// Returns:
//   - *Image: The image with format and dimensions populated.
//   - error: A decode error if data is empty, unsupported, corrupt or too large.
func NewImage(data []byte) (*Image, error) {
	const op = "images.NewImage"
	if len(data) == 0 {
		return nil, fault.Errorf(fault.KindDecode, op, "image data is empty")
	}

	format, err := SniffFormat(data)
	if err != nil {
		return nil, err
	}

	var cfg image.Config
	if format == FormatWebP {
		cfg, err = webp.DecodeConfig(bytes.NewReader(data))
	} else {
		cfg, _, err = image.DecodeConfig(bytes.NewReader(data))
	}
	if err != nil {
		return nil, fault.New(fault.KindDecode, op, errors.Wrapf(err, "read %s header", format))
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fault.Errorf(fault.KindDecode, op, "invalid image dimensions: %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Width*cfg.Height > MaxPixels {
		return nil, fault.Errorf(fault.KindDecode, op, "image too large: %dx%d", cfg.Width, cfg.Height)
	}

	return &Image{
		Format: format,
		Data:   data,
		Width:  cfg.Width,
		Height: cfg.Height,
	}, nil
}

// Decode decodes the image pixels.
//
// Arguments:
//   - img: The image to decode.
//
// Returns:
//   - image.Image: The decoded image.
//   - error: A decode error if the payload is corrupt.
func Decode(img *Image) (image.Image, error) {
	const op = "images.Decode"
	if img == nil || len(img.Data) == 0 {
		return nil, fault.Errorf(fault.KindDecode, op, "image data is empty")
	}

	var (
		decoded image.Image
		err     error
	)
	if img.Format == FormatWebP {
		decoded, err = webp.Decode(bytes.NewReader(img.Data))
	} else {
		decoded, _, err = image.Decode(bytes.NewReader(img.Data))
	}
	if err != nil {
		return nil, fault.New(fault.KindDecode, op, errors.Wrapf(err, "decode %s", img.Format))
	}
	return decoded, nil
}

// ToNRGBA flattens any decoded image (paletted, gray, CMYK, RGBA ...) into a
// non-premultiplied RGBA image whose Pix slice can be read directly.
func ToNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Rect.Min == (image.Point{}) {
		return nrgba
	}
	return imaging.Clone(img)
}
