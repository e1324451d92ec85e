package indicators

import (
	"errors"
	"math"

	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
	"github.com/rs/zerolog"

	"github.com/akindell/marketmind/internal/broker"
)

// MinBars is the window below which derived signals stay neutral and
// volatility fields are absent.
const MinBars = 50

// ErrInsufficientData flags a window shorter than MinBars. A partial
// snapshot with neutral signals is still returned alongside it.
var ErrInsufficientData = errors.New("insufficient data: need at least 50 bars")

// Engine computes a Snapshot over a fixed-length OHLCV window
type Engine struct {
	logger zerolog.Logger
}

// NewEngine creates a new indicator engine
func NewEngine(logger zerolog.Logger) *Engine {
	return &Engine{logger: logger}
}

// Compute derives the full indicator snapshot for one symbol. Bars must be
// in ascending time order.
func (e *Engine) Compute(symbol string, bars []broker.Bar) (*Snapshot, error) {
	if len(bars) == 0 {
		return nil, errors.New("no bars provided")
	}

	last := bars[len(bars)-1]
	snap := &Snapshot{
		Symbol:  symbol,
		Close:   last.Close,
		High:    last.High,
		Low:     last.Low,
		Signals: NeutralSignals(),
	}

	closes := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	volumes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
		volumes[i] = b.Volume
	}

	if len(bars) < MinBars {
		e.logger.Debug().
			Str("symbol", symbol).
			Int("bars", len(bars)).
			Msg("Window too short, emitting neutral snapshot")
		return snap, ErrInsufficientData
	}

	snap.SMA20 = lastOf(computeSMA(closes, 20))
	snap.SMA50 = lastOf(computeSMA(closes, 50))
	snap.EMA12 = lastOf(computeEMA(closes, 12))
	snap.EMA26 = lastOf(computeEMA(closes, 26))

	macd, signal := computeMACD(closes, 12, 26, 9)
	snap.MACD = lastOf(macd)
	snap.MACDSignal = lastOf(signal)
	if snap.MACD != nil && snap.MACDSignal != nil {
		hist := *snap.MACD - *snap.MACDSignal
		snap.MACDHist = &hist
	}

	snap.RSI14 = lastOf(computeRSI(closes, 14))

	lower, middle, upper := computeBollinger(closes, 20)
	snap.BollingerLower = lastOf(lower)
	snap.BollingerMiddle = lastOf(middle)
	snap.BollingerUpper = lastOf(upper)

	snap.ATR14 = wilderATR(highs, lows, closes, 14)
	snap.StdDev20 = stdDev(closes, 20)
	snap.HistoricalVol = historicalVolatility(closes, 20)

	snap.VolumeSMA20 = lastOf(computeSMA(volumes, 20))
	if snap.VolumeSMA20 != nil && *snap.VolumeSMA20 > 0 {
		ratio := volumes[len(volumes)-1] / *snap.VolumeSMA20
		snap.VolumeRatio = &ratio
	}
	snap.OBV = onBalanceVolume(closes, volumes)

	snap.Support, snap.Resistance = supportResistance(highs, lows, 20)
	snap.Signals = deriveSignals(snap)

	return snap, nil
}

// sliceToChan feeds a slice into a closed channel for cinar pipelines
func sliceToChan(values []float64) chan float64 {
	ch := make(chan float64, len(values))
	for _, v := range values {
		ch <- v
	}
	close(ch)
	return ch
}

// collect drains an indicator output channel
func collect(ch <-chan float64) []float64 {
	var out []float64
	for v := range ch {
		out = append(out, v)
	}
	return out
}

// lastOf returns a pointer to the final finite value of a series, or nil
func lastOf(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	v := values[len(values)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func computeSMA(values []float64, period int) []float64 {
	if len(values) < period {
		return nil
	}
	sma := trend.NewSmaWithPeriod[float64](period)
	return collect(sma.Compute(sliceToChan(values)))
}

func computeEMA(values []float64, period int) []float64 {
	if len(values) < period {
		return nil
	}
	ema := trend.NewEmaWithPeriod[float64](period)
	return collect(ema.Compute(sliceToChan(values)))
}

func computeRSI(values []float64, period int) []float64 {
	if len(values) <= period {
		return nil
	}
	rsi := momentum.NewRsiWithPeriod[float64](period)
	return collect(rsi.Compute(sliceToChan(values)))
}

func computeMACD(values []float64, fast, slow, signalPeriod int) (macd, signal []float64) {
	if len(values) < slow+signalPeriod {
		return nil, nil
	}
	ind := trend.NewMacdWithPeriod[float64](fast, slow, signalPeriod)
	macdChan, signalChan := ind.Compute(sliceToChan(values))
	for {
		m, mok := <-macdChan
		s, sok := <-signalChan
		if !mok || !sok {
			break
		}
		macd = append(macd, m)
		signal = append(signal, s)
	}
	return macd, signal
}

func computeBollinger(values []float64, period int) (lower, middle, upper []float64) {
	if len(values) < period {
		return nil, nil, nil
	}
	bb := volatility.NewBollingerBands[float64]()
	bb.Period = period
	lowerChan, middleChan, upperChan := bb.Compute(sliceToChan(values))
	for {
		l, lok := <-lowerChan
		m, mok := <-middleChan
		u, uok := <-upperChan
		if !lok || !mok || !uok {
			break
		}
		lower = append(lower, l)
		middle = append(middle, m)
		upper = append(upper, u)
	}
	return lower, middle, upper
}
