package vector

// SquaredL2 returns the squared Euclidean distance between a and b.
// The caller guarantees equal lengths.
func SquaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// Similarity maps a distance to (0, 1]: 1 / (1 + distance). Zero distance is 1;
// the transform is strictly decreasing, so ranking by similarity descending equals
// ranking by distance ascending.
func Similarity(distance float64) float64 {
	return 1 / (1 + distance)
}
