// Package images - Image acquisition, decoding and geometry utilities.
package images

// Rect is an axis-aligned box in corner form.
type Rect struct {
	// X1,Y1 is the top-left corner, X2,Y2 the bottom-right corner.
	X1, Y1, X2, Y2 float32
}

// Width returns the horizontal extent of r, or 0 for a degenerate box.
func (r Rect) Width() float32 {
	return max(r.X2-r.X1, 0)
}

// Height returns the vertical extent of r, or 0 for a degenerate box.
func (r Rect) Height() float32 {
	return max(r.Y2-r.Y1, 0)
}

// Area returns the area of r.
func (r Rect) Area() float32 {
	return r.Width() * r.Height()
}

// Canon returns r with its corners ordered so that X1 <= X2 and Y1 <= Y2.
func (r Rect) Canon() Rect {
	if r.X1 > r.X2 {
		r.X1, r.X2 = r.X2, r.X1
	}
	if r.Y1 > r.Y2 {
		r.Y1, r.Y2 = r.Y2, r.Y1
	}
	return r
}

// Array returns the corners as [x1, y1, x2, y2].
func (r Rect) Array() [4]float32 {
	return [4]float32{r.X1, r.Y1, r.X2, r.Y2}
}

// CalculateIoU measures the overlap of two boxes as
//
//	IoU = Area of Intersection / Area of Union
//
// 1.0 means the boxes are identical, 0.0 that they do not overlap.
//
// The corners of both boxes are canonicalized first, so a box emitted with
// swapped corners by a detector head compares the same as its ordered form.
// Two empty boxes have an IoU of 0.
//
// Arguments:
//   - r: The first box.
//   - o: The box to compare against.
//
// Returns:
//   - float32: A value between 0.0 and 1.0.
//
// Example Usage:
// ```go
//
//	rect1 := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
//	rect2 := Rect{X1: 5, Y1: 5, X2: 15, Y2: 15}
//	iou := CalculateIoU(rect1, rect2) // 25 / 175 = 0.142857
//
// ```
func CalculateIoU(r, o Rect) float32 {
	r, o = r.Canon(), o.Canon()

	ix1 := max(r.X1, o.X1)
	iy1 := max(r.Y1, o.Y1)
	ix2 := min(r.X2, o.X2)
	iy2 := min(r.Y2, o.Y2)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0.0
	}
	interArea := interW * interH

	unionArea := r.Area() + o.Area() - interArea
	if unionArea <= 0 {
		return 0.0
	}
	return interArea / unionArea
}
