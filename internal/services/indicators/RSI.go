package indicators

import "math"

// RSI computes Wilder's RSI. The first period entries of the result are
// NaN (not ready). Returns nil when len(series) < period+1.
func RSI(series []float64, period int) []float64 {
	n := len(series)
	if period <= 0 || n < period+1 {
		return nil
	}

	rsi := make([]float64, n)
	for i := 0; i < period; i++ {
		rsi[i] = math.NaN()
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		gain, loss := splitChange(series[i] - series[i-1])
		avgGain += gain
		avgLoss += loss
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	rsi[period] = rsiValue(avgGain, avgLoss)

	p := float64(period)
	for i := period + 1; i < n; i++ {
		gain, loss := splitChange(series[i] - series[i-1])
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
		rsi[i] = rsiValue(avgGain, avgLoss)
	}

	return rsi
}

// LastRSI returns the latest RSI value, ok=false when there is not enough data.
func LastRSI(series []float64, period int) (float64, bool) {
	rsi := RSI(series, period)
	if len(rsi) == 0 {
		return 0, false
	}
	return rsi[len(rsi)-1], true
}

func splitChange(change float64) (gain, loss float64) {
	if change > 0 {
		return change, 0
	}
	return 0, -change
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}
