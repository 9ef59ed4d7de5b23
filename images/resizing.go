package images

import (
	"image"

	"github.com/nfnt/resize"
)

// ShorterSideSize computes the output size for resizing the shorter side of a
// width x height image to target while keeping the aspect ratio.
//
// The longer side is truncated, not rounded: 1000x600 with target 800 becomes
// 1333x800.
//
// Arguments:
//   - width: The source width.
//   - height: The source height.
//   - target: The desired length of the shorter side.
//
// Returns:
//   - int: The output width.
//   - int: The output height.
func ShorterSideSize(width, height, target int) (int, int) {
	if width <= 0 || height <= 0 || target <= 0 {
		return 0, 0
	}
	if width <= height {
		return target, int(float64(target) * float64(height) / float64(width))
	}
	return int(float64(target) * float64(width) / float64(height)), target
}

// ResizeShorterSide resizes img so that its shorter side equals target using
// bilinear interpolation.
//
// Arguments:
//   - img: The image to resize.
//   - target: The desired length of the shorter side.
//
// Returns:
//   - image.Image: The resized image, or img itself if it already has the size.
func ResizeShorterSide(img image.Image, target int) image.Image {
	b := img.Bounds()
	w, h := ShorterSideSize(b.Dx(), b.Dy(), target)
	if w == b.Dx() && h == b.Dy() {
		return img
	}
	return resize.Resize(uint(w), uint(h), img, resize.Bilinear)
}
