package postprocess

import "github.com/nvr-ai/inference-lambda/images"

// CXCYWHToXYXY converts a center-x, center-y, width, height box into corner form:
//
//	x1 = cx - w/2, y1 = cy - h/2, x2 = cx + w/2, y2 = cy + h/2
func CXCYWHToXYXY(box [4]float32) images.Rect {
	cx, cy, w, h := box[0], box[1], box[2], box[3]
	return images.Rect{
		X1: cx - 0.5*w,
		Y1: cy - 0.5*h,
		X2: cx + 0.5*w,
		Y2: cy + 0.5*h,
	}
}

// XYXYToCXCYWH converts a corner-form box back into center-x, center-y, width,
// height. It is the inverse of CXCYWHToXYXY.
func XYXYToCXCYWH(r images.Rect) [4]float32 {
	return [4]float32{
		(r.X1 + r.X2) / 2,
		(r.Y1 + r.Y2) / 2,
		r.X2 - r.X1,
		r.Y2 - r.Y1,
	}
}

// ScaleRect scales a box with normalized [0, 1] coordinates to pixel
// coordinates of a width x height image.
func ScaleRect(r images.Rect, width, height int) images.Rect {
	w, h := float32(width), float32(height)
	return images.Rect{X1: r.X1 * w, Y1: r.Y1 * h, X2: r.X2 * w, Y2: r.Y2 * h}
}

// ClipRect clamps every corner of r into [0, maxX] x [0, maxY].
func ClipRect(r images.Rect, maxX, maxY float32) images.Rect {
	return images.Rect{
		X1: clamp(r.X1, 0, maxX),
		Y1: clamp(r.Y1, 0, maxY),
		X2: clamp(r.X2, 0, maxX),
		Y2: clamp(r.Y2, 0, maxY),
	}
}

func clamp(v, lo, hi float32) float32 {
	return min(max(v, lo), hi)
}
