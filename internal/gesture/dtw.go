package gesture

import (
	"math"

	"github.com/ayusman/mudra/internal/features"
)

// DTWDistance calculates Dynamic Time Warping distance between two sequences.
// Returns infinity if either sequence is empty.
// The distance is normalized by the longer sequence length.
func DTWDistance(a, b []features.Vector) float64 {
	n := len(a)
	m := len(b)

	if n == 0 || m == 0 {
		return math.Inf(1)
	}

	// Two rolling rows of the (n+1) x (m+1) cost matrix.
	prev := make([]float64, m+1)
	cur := make([]float64, m+1)
	for j := range prev {
		prev[j] = math.Inf(1)
	}
	prev[0] = 0

	for i := 1; i <= n; i++ {
		cur[0] = math.Inf(1)
		for j := 1; j <= m; j++ {
			cost := vectorDistance(a[i-1], b[j-1])
			cur[j] = cost + min(prev[j], cur[j-1], prev[j-1])
		}
		prev, cur = cur, prev
	}

	return prev[m] / float64(max(n, m))
}

// vectorDistance is the Euclidean distance over the shared prefix of a and b.
func vectorDistance(a, b features.Vector) float64 {
	n := min(len(a), len(b))
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
