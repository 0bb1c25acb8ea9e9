package formulas

import "math"

// CAGR returns the compound annual growth rate needed to move from start
// to end over the given number of years, as a fraction (0.25 = 25%/year).
// Degenerate inputs (non-positive start, end or years) return 0.
func CAGR(start, end, years float64) float64 {
	if start <= 0 || end <= 0 || years <= 0 {
		return 0
	}
	return math.Pow(end/start, 1/years) - 1
}
