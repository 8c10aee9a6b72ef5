package indicators

import "math"

// CrossSignal represents EMA crossover status
type CrossSignal struct {
	Crossed   bool    // Whether cross occurred
	Direction int     // 1 (bullish), -1 (bearish)
	Strength  float64 // Relative gap after the cross
}

// EMA computes the exponential moving average with alpha = 2/(period+1),
// seeded with the first element. The result has the same length as the
// input; nil means the input was unusable.
func EMA(series []float64, period int) []float64 {
	if len(series) == 0 || period <= 0 {
		return nil
	}

	multiplier := getMultiplier(period)
	ema := make([]float64, len(series))
	ema[0] = series[0]
	for i := 1; i < len(series); i++ {
		ema[i] = calculatePoint(series[i], ema[i-1], multiplier)
	}
	return ema
}

// LastEMA returns the final EMA value.
func LastEMA(series []float64, period int) (float64, bool) {
	ema := EMA(series, period)
	if len(ema) == 0 {
		return 0, false
	}
	return ema[len(ema)-1], true
}

// CheckCrossover detects a cross between the last two points of two EMA lines
func CheckCrossover(fastEMA, slowEMA []float64) *CrossSignal {
	if len(fastEMA) < 2 || len(slowEMA) < 2 {
		return &CrossSignal{Crossed: false}
	}

	currFast := fastEMA[len(fastEMA)-1]
	prevFast := fastEMA[len(fastEMA)-2]
	currSlow := slowEMA[len(slowEMA)-1]
	prevSlow := slowEMA[len(slowEMA)-2]

	bullishCross := prevFast <= prevSlow && currFast > currSlow
	bearishCross := prevFast >= prevSlow && currFast < currSlow

	if !bullishCross && !bearishCross {
		return &CrossSignal{Crossed: false}
	}

	direction := 1
	if bearishCross {
		direction = -1
	}

	strength := 0.0
	if currSlow != 0 {
		strength = math.Abs((currFast - currSlow) / currSlow)
	}

	return &CrossSignal{
		Crossed:   true,
		Direction: direction,
		Strength:  strength,
	}
}

func getMultiplier(period int) float64 {
	return 2.0 / float64(period+1)
}

func calculatePoint(price, prevEMA, multiplier float64) float64 {
	return (price-prevEMA)*multiplier + prevEMA
}
