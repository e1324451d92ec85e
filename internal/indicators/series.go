package indicators

import "math"

// wilderATR computes the period-N Average True Range with Wilder's
// smoothing and returns the latest value, or nil when the window is too
// short.
func wilderATR(highs, lows, closes []float64, period int) *float64 {
	n := len(closes)
	if n <= period {
		return nil
	}

	trs := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		trs = append(trs, math.Max(hl, math.Max(hc, lc)))
	}
	if len(trs) < period {
		return nil
	}

	// Seed with the simple mean of the first period, then smooth.
	var atr float64
	for i := 0; i < period; i++ {
		atr += trs[i]
	}
	atr /= float64(period)
	for i := period; i < len(trs); i++ {
		atr = (atr*float64(period-1) + trs[i]) / float64(period)
	}
	return &atr
}

// stdDev computes the population standard deviation of the last period
// closes, or nil when the window is too short.
func stdDev(values []float64, period int) *float64 {
	if len(values) < period {
		return nil
	}
	window := values[len(values)-period:]

	var mean float64
	for _, v := range window {
		mean += v
	}
	mean /= float64(period)

	var variance float64
	for _, v := range window {
		d := v - mean
		variance += d * d
	}
	variance /= float64(period)

	sd := math.Sqrt(variance)
	return &sd
}

// historicalVolatility annualizes the stdev of log returns over the last
// period bars, as a percentage.
func historicalVolatility(closes []float64, period int) *float64 {
	if len(closes) < period+1 {
		return nil
	}
	window := closes[len(closes)-period-1:]

	returns := make([]float64, 0, period)
	for i := 1; i < len(window); i++ {
		if window[i-1] <= 0 || window[i] <= 0 {
			return nil
		}
		returns = append(returns, math.Log(window[i]/window[i-1]))
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))

	// 252 trading days per year.
	vol := math.Sqrt(variance) * math.Sqrt(252) * 100
	return &vol
}

// onBalanceVolume computes the cumulative OBV series endpoint
func onBalanceVolume(closes, volumes []float64) *float64 {
	if len(closes) < 2 {
		return nil
	}
	var obv float64
	for i := 1; i < len(closes); i++ {
		switch {
		case closes[i] > closes[i-1]:
			obv += volumes[i]
		case closes[i] < closes[i-1]:
			obv -= volumes[i]
		}
	}
	return &obv
}

// supportResistance derives swing levels from the last period bars,
// excluding the current one: support is the lowest low, resistance the
// highest high.
func supportResistance(highs, lows []float64, period int) (support, resistance *float64) {
	n := len(highs)
	if n < period+1 {
		return nil, nil
	}
	hWindow := highs[n-period-1 : n-1]
	lWindow := lows[n-period-1 : n-1]

	lo := lWindow[0]
	hi := hWindow[0]
	for i := 1; i < period; i++ {
		if lWindow[i] < lo {
			lo = lWindow[i]
		}
		if hWindow[i] > hi {
			hi = hWindow[i]
		}
	}
	return &lo, &hi
}
