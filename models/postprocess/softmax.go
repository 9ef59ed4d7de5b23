package postprocess

import "github.com/chewxy/math32"

// Softmax converts logits into a probability distribution.
//
// The maximum logit is subtracted before exponentiation so that large logits do
// not overflow float32.
//
// Arguments:
//   - logits: The raw class scores. Not modified.
//
// Returns:
//   - []float32: A new slice of the same length summing to 1, or nil for empty input.
func Softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}

	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}

	out := make([]float32, len(logits))
	var sum float32
	for i, v := range logits {
		out[i] = math32.Exp(v - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Argmax returns the index and value of the largest element. Ties resolve to the
// lowest index. An empty slice yields (-1, 0).
func Argmax(values []float32) (int, float32) {
	if len(values) == 0 {
		return -1, 0
	}
	best := 0
	for i, v := range values[1:] {
		if v > values[best] {
			best = i + 1
		}
	}
	return best, values[best]
}
