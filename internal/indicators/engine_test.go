package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akindell/marketmind/internal/broker"
)

// makeBars builds an ascending daily bar series from closing prices with a
// fixed 1% high/low spread and constant volume.
func makeBars(closes []float64, volume float64) []broker.Bar {
	bars := make([]broker.Bar, len(closes))
	ts := time.Date(2025, time.January, 2, 16, 0, 0, 0, time.UTC)
	for i, c := range closes {
		bars[i] = broker.Bar{
			Symbol:    "TEST",
			Timestamp: ts.AddDate(0, 0, i),
			Open:      c * 0.995,
			High:      c * 1.01,
			Low:       c * 0.99,
			Close:     c,
			Volume:    volume,
		}
	}
	return bars
}

func trendingCloses(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestComputeInsufficientData(t *testing.T) {
	e := NewEngine(zerolog.Nop())
	bars := makeBars(trendingCloses(30, 100, 1), 1e6)

	snap, err := e.Compute("TEST", bars)
	require.ErrorIs(t, err, ErrInsufficientData)
	require.NotNil(t, snap)

	assert.Equal(t, NeutralSignals(), snap.Signals)
	assert.Nil(t, snap.ATR14)
	assert.Nil(t, snap.StdDev20)
	assert.Nil(t, snap.HistoricalVol)
	assert.Nil(t, snap.BollingerUpper)
	// Price block is still populated from the last bar.
	assert.Equal(t, 129.0, snap.Close)
}

func TestComputeEmptyWindow(t *testing.T) {
	e := NewEngine(zerolog.Nop())
	_, err := e.Compute("TEST", nil)
	require.Error(t, err)
}

func TestComputeUptrend(t *testing.T) {
	e := NewEngine(zerolog.Nop())
	bars := makeBars(trendingCloses(80, 100, 0.5), 1e6)

	snap, err := e.Compute("TEST", bars)
	require.NoError(t, err)

	require.NotNil(t, snap.SMA20)
	require.NotNil(t, snap.SMA50)
	require.NotNil(t, snap.RSI14)
	require.NotNil(t, snap.MACDHist)
	require.NotNil(t, snap.ATR14)

	// In a steady uptrend the short average leads the long one and the
	// MACD histogram is positive.
	assert.Greater(t, *snap.SMA20, *snap.SMA50)
	assert.Greater(t, *snap.MACDHist, 0.0)
	// Monotone rise pins Wilder RSI at the ceiling.
	assert.Greater(t, *snap.RSI14, 70.0)

	assert.Equal(t, SignalOverbought, snap.Signals.Momentum)
	assert.Equal(t, SignalBullish, snap.Signals.Trend)

	// Uptrend closes sit in the upper band region.
	assert.Equal(t, SignalNearUpper, snap.Signals.Bollinger)
}

func TestComputeDowntrendComposite(t *testing.T) {
	e := NewEngine(zerolog.Nop())
	bars := makeBars(trendingCloses(80, 200, -0.8), 1e6)

	snap, err := e.Compute("TEST", bars)
	require.NoError(t, err)

	assert.Equal(t, SignalBearish, snap.Signals.Trend)
	assert.Equal(t, SignalBearish, snap.Signals.Composite)
}

func TestVolumeRatio(t *testing.T) {
	e := NewEngine(zerolog.Nop())
	bars := makeBars(trendingCloses(60, 100, 0.2), 1e6)
	// Spike the final bar's volume to 3x.
	bars[len(bars)-1].Volume = 3e6

	snap, err := e.Compute("TEST", bars)
	require.NoError(t, err)
	require.NotNil(t, snap.VolumeRatio)

	// SMA20 includes the spike bar, so the ratio lands just under 3.
	assert.InDelta(t, 2.73, *snap.VolumeRatio, 0.05)
}

func TestSupportResistance(t *testing.T) {
	e := NewEngine(zerolog.Nop())
	closes := trendingCloses(60, 100, 0.5)
	bars := makeBars(closes, 1e6)

	snap, err := e.Compute("TEST", bars)
	require.NoError(t, err)
	require.NotNil(t, snap.Support)
	require.NotNil(t, snap.Resistance)

	// Levels come from the 20 bars preceding the latest one.
	assert.Less(t, *snap.Support, snap.Close)
	assert.Less(t, *snap.Resistance, snap.Close*1.01+1e-9)
	assert.Greater(t, *snap.Resistance, *snap.Support)
}

func TestNoNaNLeaks(t *testing.T) {
	e := NewEngine(zerolog.Nop())
	// Flat series: zero variance exercises division-adjacent paths.
	bars := makeBars(trendingCloses(60, 100, 0), 1e6)

	snap, err := e.Compute("TEST", bars)
	require.NoError(t, err)

	for name, v := range map[string]*float64{
		"sma20": snap.SMA20, "sma50": snap.SMA50,
		"ema12": snap.EMA12, "ema26": snap.EMA26,
		"macd": snap.MACD, "macd_signal": snap.MACDSignal, "macd_hist": snap.MACDHist,
		"rsi": snap.RSI14, "atr": snap.ATR14,
		"bb_upper": snap.BollingerUpper, "bb_mid": snap.BollingerMiddle, "bb_lower": snap.BollingerLower,
		"stddev": snap.StdDev20, "hist_vol": snap.HistoricalVol,
		"vol_sma": snap.VolumeSMA20, "vol_ratio": snap.VolumeRatio, "obv": snap.OBV,
		"support": snap.Support, "resistance": snap.Resistance,
	} {
		if v != nil {
			assert.False(t, math.IsNaN(*v), "%s is NaN", name)
			assert.False(t, math.IsInf(*v, 0), "%s is Inf", name)
		}
	}
}

func TestWilderATRKnownValue(t *testing.T) {
	// Constant 2-point true range must produce ATR == 2.
	highs := make([]float64, 30)
	lows := make([]float64, 30)
	closes := make([]float64, 30)
	for i := range highs {
		closes[i] = 100
		highs[i] = 101
		lows[i] = 99
	}
	atr := wilderATR(highs, lows, closes, 14)
	require.NotNil(t, atr)
	assert.InDelta(t, 2.0, *atr, 1e-9)
}

func TestStdDevKnownValue(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	sd := stdDev(values, 8)
	require.NotNil(t, sd)
	assert.InDelta(t, 2.0, *sd, 1e-9)
}
