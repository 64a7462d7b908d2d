package signals

import (
	"errors"
	"fmt"
	"math"

	"trade-guard/config"
)

// ErrInsufficientData is returned when too few candles are supplied
var ErrInsufficientData = errors.New("insufficient market data")

const (
	macdSignalPeriod = 9
	bollingerPeriod  = 20
	bollingerStdDev  = 2.0
	volumePeriod     = 20
)

// Analyzer derives indicator features from candles. It holds no state
// between calls.
type Analyzer struct {
	cfg config.SignalConfig
}

// NewAnalyzer creates an analyzer with the configured periods
func NewAnalyzer(cfg config.SignalConfig) *Analyzer {
	return &Analyzer{cfg: cfg}
}

// Analyze computes Features from candles ordered oldest first
func (a *Analyzer) Analyze(candles []Candle) (Features, error) {
	need := max(a.cfg.MinCandles, a.cfg.SlowPeriod+macdSignalPeriod)
	if len(candles) < need {
		return Features{}, fmt.Errorf("%w: have %d candles, need %d", ErrInsufficientData, len(candles), need)
	}

	last := candles[len(candles)-1]
	if last.Close <= 0 {
		return Features{}, fmt.Errorf("%w: last close %v", ErrInsufficientData, last.Close)
	}

	f := Features{
		Close:         last.Close,
		SMAFast:       SMA(candles, a.cfg.FastPeriod),
		SMASlow:       SMA(candles, a.cfg.SlowPeriod),
		EMA:           EMA(candles, a.cfg.FastPeriod),
		RSI:           RSI(candles, a.cfg.RSIPeriod),
		MACDHistogram: MACD(candles, a.cfg.FastPeriod, a.cfg.SlowPeriod, macdSignalPeriod).Histogram,
		BollingerPctB: Bollinger(candles, min(bollingerPeriod, len(candles)), bollingerStdDev).PercentB(last.Close),
		VolumeRatio:   VolumeRatio(candles, min(volumePeriod, len(candles)-1)),
		Candles:       len(candles),
	}
	f.ATRPercent = ATR(candles, a.cfg.ATRPeriod) / last.Close * 100

	past := candles[len(candles)-1-a.cfg.SlowPeriod].Close
	if past > 0 {
		f.Momentum = (last.Close - past) / past * 100
	}

	f.TrendScore = trendScore(f)
	f.MomentumScore = momentumScore(f)
	f.VolumeScore = volumeScore(f)
	return f, nil
}

// trendScore: fast/slow SMA spread (2% is a full score) blended with price
// position against the EMA
func trendScore(f Features) float64 {
	if f.SMASlow == 0 {
		return 0
	}
	spread := clamp((f.SMAFast-f.SMASlow)/f.SMASlow*50, -1, 1)
	side := 0.0
	switch {
	case f.Close > f.EMA:
		side = 1
	case f.Close < f.EMA:
		side = -1
	}
	return clamp(0.7*spread+0.3*side, -1, 1)
}

// momentumScore averages RSI distance from 50, the MACD histogram relative to
// price (0.1% is a full score) and rate of change (5% is a full score)
func momentumScore(f Features) float64 {
	rsi := clamp((f.RSI-50)/50, -1, 1)
	macd := clamp(f.MACDHistogram/f.Close*1000, -1, 1)
	roc := clamp(f.Momentum/5, -1, 1)
	return (rsi + macd + roc) / 3
}

// volumeScore confirms the prevailing direction when volume is above average
func volumeScore(f Features) float64 {
	bias := f.TrendScore + f.MomentumScore
	if bias == 0 {
		return 0
	}
	return math.Copysign(clamp(f.VolumeRatio-1, 0, 1), bias)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, v))
}
