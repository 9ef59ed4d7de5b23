package postprocess

import (
	"math/rand"
	"testing"
)

// candidates builds a YOLOv4-416 sized output: 10647 boxes over 80 classes
// with sparse confident scores.
func candidates(n, classes int) ([][4]float32, [][]float32) {
	rng := rand.New(rand.NewSource(7))
	boxes := make([][4]float32, n)
	scores := make([][]float32, n)
	for i := range boxes {
		y, x := rng.Float32()*0.8, rng.Float32()*0.8
		boxes[i] = [4]float32{y, x, y + 0.05 + rng.Float32()*0.15, x + 0.05 + rng.Float32()*0.15}
		scores[i] = make([]float32, classes)
		if rng.Intn(50) == 0 {
			scores[i][rng.Intn(classes)] = 0.25 + rng.Float32()*0.75
		}
	}
	return boxes, scores
}

func BenchmarkCombinedNMS(b *testing.B) {
	boxes, scores := candidates(10647, 80)
	config := DefaultNMSConfig()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := CombinedNMS(boxes, scores, config); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSoftmax(b *testing.B) {
	logits := make([]float32, 92)
	for i := range logits {
		logits[i] = float32(i%7) - 3
	}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = Softmax(logits)
	}
}
