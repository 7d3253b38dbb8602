package embedding

import "math"

// CosineSimilarity returns the cosine of the angle between a and b.
// Mismatched lengths, zero vectors and NaN/Inf components all score 0,
// so degenerate input merely fails any threshold instead of panicking.
// Floating-point drift above 1.0 is clamped.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(sim) || math.IsInf(sim, 0) {
		return 0
	}
	if sim > 1 {
		return 1
	}
	if sim < -1 {
		return -1
	}
	return sim
}
