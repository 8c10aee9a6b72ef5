package indicators

import "math"

// ATRFromCloses is a close-to-close volatility proxy: the mean of
// |close[i]-close[i-1]| over the trailing period observations.
func ATRFromCloses(series []float64, period int) (float64, bool) {
	n := len(series)
	if period <= 0 || n < period+1 {
		return 0, false
	}

	sum := 0.0
	for i := n - period; i < n; i++ {
		sum += math.Abs(series[i] - series[i-1])
	}
	return sum / float64(period), true
}
