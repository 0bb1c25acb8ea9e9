package formulas

import (
	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the standard deviation of a slice of float64 values
func StdDev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// MaxShare returns the largest value's share of the total, in [0,1].
// Used to flag how concentrated a realized outcome is in a single token.
func MaxShare(data []float64) float64 {
	total := 0.0
	max := 0.0
	for _, v := range data {
		total += v
		if v > max {
			max = v
		}
	}
	if total <= 0 {
		return 0
	}
	return max / total
}
