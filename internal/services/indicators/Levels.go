package indicators

// RecentHighLow returns max/min over series[n-1-lookback : n-1], i.e. the
// lookback bars before the current one.
func RecentHighLow(series []float64, lookback int) (high, low float64, ok bool) {
	n := len(series)
	if lookback <= 0 || n < lookback+1 {
		return 0, 0, false
	}

	window := series[n-1-lookback : n-1]
	high, low = window[0], window[0]
	for _, v := range window[1:] {
		if v > high {
			high = v
		}
		if v < low {
			low = v
		}
	}
	return high, low, true
}

// PctChange is (last - series[n-1-lookback]) / series[n-1-lookback].
func PctChange(series []float64, lookback int) (float64, bool) {
	n := len(series)
	if lookback <= 0 || n < lookback+1 {
		return 0, false
	}
	prev := series[n-1-lookback]
	if prev == 0 {
		return 0, false
	}
	return (series[n-1] - prev) / prev, true
}

// Slope is the percentage change of an indicator line over lookback bars.
func Slope(line []float64, lookback int) (float64, bool) {
	return PctChange(line, lookback)
}
