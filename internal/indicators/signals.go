package indicators

// deriveSignals maps the numeric snapshot onto the enumerated labels the
// prompt layer renders next to every raw value.
func deriveSignals(s *Snapshot) Signals {
	sig := NeutralSignals()

	if s.RSI14 != nil {
		switch {
		case *s.RSI14 >= 70:
			sig.Momentum = SignalOverbought
		case *s.RSI14 <= 30:
			sig.Momentum = SignalOversold
		}
	}

	if s.MACDHist != nil && s.SMA20 != nil {
		switch {
		case *s.MACDHist > 0 && s.Close > *s.SMA20:
			sig.Trend = SignalBullish
		case *s.MACDHist < 0 && s.Close < *s.SMA20:
			sig.Trend = SignalBearish
		}
	}

	if s.BollingerUpper != nil && s.BollingerLower != nil {
		band := *s.BollingerUpper - *s.BollingerLower
		if band > 0 {
			pos := (s.Close - *s.BollingerLower) / band
			switch {
			case pos >= 0.8:
				sig.Bollinger = SignalNearUpper
			case pos <= 0.2:
				sig.Bollinger = SignalNearLower
			}
		}
	}

	sig.Composite = compositeVote(s, sig)
	return sig
}

// compositeVote tallies bullish vs bearish evidence across trend, momentum,
// band position, and volume confirmation.
func compositeVote(s *Snapshot, sig Signals) string {
	var bull, bear int

	switch sig.Trend {
	case SignalBullish:
		bull++
	case SignalBearish:
		bear++
	}

	// RSI as a mean-reversion vote: oversold leans bullish.
	switch sig.Momentum {
	case SignalOversold:
		bull++
	case SignalOverbought:
		bear++
	}

	if s.SMA20 != nil && s.SMA50 != nil {
		if *s.SMA20 > *s.SMA50 {
			bull++
		} else if *s.SMA20 < *s.SMA50 {
			bear++
		}
	}

	if s.MACDHist != nil {
		if *s.MACDHist > 0 {
			bull++
		} else if *s.MACDHist < 0 {
			bear++
		}
	}

	// Above-average volume amplifies the direction of the day's move.
	if s.VolumeRatio != nil && *s.VolumeRatio > 1.5 && s.SMA20 != nil {
		if s.Close > *s.SMA20 {
			bull++
		} else {
			bear++
		}
	}

	switch {
	case bull >= bear+2:
		return SignalBullish
	case bear >= bull+2:
		return SignalBearish
	default:
		return SignalNeutral
	}
}
