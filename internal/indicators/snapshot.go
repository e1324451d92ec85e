package indicators

// Signal labels emitted alongside raw values so downstream prompt rendering
// never shows the model a number without an interpretation.
const (
	SignalOverbought = "OVERBOUGHT"
	SignalOversold   = "OVERSOLD"
	SignalBullish    = "BULLISH"
	SignalBearish    = "BEARISH"
	SignalNeutral    = "NEUTRAL"
	SignalNearUpper  = "NEAR_UPPER"
	SignalNearLower  = "NEAR_LOWER"
	SignalMiddle     = "MIDDLE"
)

// Signals summarizes the snapshot into enumerated labels
type Signals struct {
	Momentum  string `json:"momentum"`  // OVERBOUGHT | OVERSOLD | NEUTRAL
	Trend     string `json:"trend"`     // BULLISH | BEARISH | NEUTRAL
	Bollinger string `json:"bollinger"` // NEAR_UPPER | NEAR_LOWER | MIDDLE
	Composite string `json:"composite"` // BULLISH | BEARISH | NEUTRAL
}

// NeutralSignals is what an insufficient-data snapshot carries
func NeutralSignals() Signals {
	return Signals{
		Momentum:  SignalNeutral,
		Trend:     SignalNeutral,
		Bollinger: SignalMiddle,
		Composite: SignalNeutral,
	}
}

// Snapshot is the derived numeric state of one symbol over an OHLCV window.
// Windowed fields are nil (absent) when the window is too short for them;
// NaN never crosses this boundary.
type Snapshot struct {
	Symbol string `json:"symbol"`

	// Price block (latest bar)
	Close float64 `json:"close"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`

	// Trend
	SMA20      *float64 `json:"sma_20,omitempty"`
	SMA50      *float64 `json:"sma_50,omitempty"`
	EMA12      *float64 `json:"ema_12,omitempty"`
	EMA26      *float64 `json:"ema_26,omitempty"`
	MACD       *float64 `json:"macd,omitempty"`
	MACDSignal *float64 `json:"macd_signal,omitempty"`
	MACDHist   *float64 `json:"macd_hist,omitempty"`

	// Momentum
	RSI14 *float64 `json:"rsi_14,omitempty"`

	// Volatility
	BollingerUpper  *float64 `json:"bollinger_upper,omitempty"`
	BollingerMiddle *float64 `json:"bollinger_middle,omitempty"`
	BollingerLower  *float64 `json:"bollinger_lower,omitempty"`
	ATR14           *float64 `json:"atr_14,omitempty"`
	StdDev20        *float64 `json:"stddev_20,omitempty"`
	HistoricalVol   *float64 `json:"historical_vol,omitempty"` // annualized, percent

	// Volume
	VolumeSMA20 *float64 `json:"volume_sma_20,omitempty"`
	VolumeRatio *float64 `json:"volume_ratio,omitempty"`
	OBV         *float64 `json:"obv,omitempty"`

	// Derived levels
	Support    *float64 `json:"support,omitempty"`
	Resistance *float64 `json:"resistance,omitempty"`

	Signals Signals `json:"signals"`
}
