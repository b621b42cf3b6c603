package strategy

// Indicator math operates on float64. Monetary amounts stay decimal
// everywhere else; signals only need relative comparisons, so float
// precision is sufficient here.

// sma returns the simple moving average of the last period values ending at
// index end (inclusive). Returns false when not enough data.
func sma(values []float64, period, end int) (float64, bool) {
	if period <= 0 || end-period+1 < 0 || end >= len(values) {
		return 0, false
	}
	sum := 0.0
	for i := end - period + 1; i <= end; i++ {
		sum += values[i]
	}
	return sum / float64(period), true
}

// emaSeries returns the exponential moving average series for the given
// period, seeded with an SMA over the first period values.
func emaSeries(values []float64, period int) ([]float64, bool) {
	if period <= 0 || len(values) < period {
		return nil, false
	}
	out := make([]float64, len(values))
	seed, _ := sma(values, period, period-1)
	out[period-1] = seed
	k := 2.0 / (float64(period) + 1)
	for i := period; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out, true
}

// rsi returns the Wilder relative strength index over the given period for
// the last value in the series.
func rsi(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period+1 {
		return 0, false
	}
	var gain, loss float64
	for i := 1; i <= period; i++ {
		delta := values[i] - values[i-1]
		if delta > 0 {
			gain += delta
		} else {
			loss -= delta
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)

	for i := period + 1; i < len(values); i++ {
		delta := values[i] - values[i-1]
		g, l := 0.0, 0.0
		if delta > 0 {
			g = delta
		} else {
			l = -delta
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
	}

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}
