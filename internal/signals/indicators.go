package signals

import "math"

// ============================================================================
// MOVING AVERAGES
// ============================================================================

// SMA returns the simple moving average of the last period closes
func SMA(candles []Candle, period int) float64 {
	if period <= 0 || len(candles) < period {
		return 0
	}

	sum := 0.0
	for _, c := range candles[len(candles)-period:] {
		sum += c.Close
	}
	return sum / float64(period)
}

// EMA returns the exponential moving average seeded with the first
// period-long SMA
func EMA(candles []Candle, period int) float64 {
	series := emaSeries(closes(candles), period)
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

func closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// emaSeries returns one EMA value per input from index period-1 on
func emaSeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}

	seed := 0.0
	for _, v := range values[:period] {
		seed += v
	}
	ema := seed / float64(period)
	multiplier := 2.0 / float64(period+1)

	out := make([]float64, 0, len(values)-period+1)
	out = append(out, ema)
	for _, v := range values[period:] {
		ema = v*multiplier + ema*(1-multiplier)
		out = append(out, ema)
	}
	return out
}

// ============================================================================
// RSI (Relative Strength Index)
// ============================================================================

// RSI returns the relative strength index over the last period changes;
// 50 when there is not enough data
func RSI(candles []Candle, period int) float64 {
	if period <= 0 || len(candles) < period+1 {
		return 50.0
	}

	gains, losses := 0.0, 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		change := candles[i].Close - candles[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}

	if losses == 0 {
		if gains == 0 {
			return 50.0
		}
		return 100.0
	}
	rs := gains / losses
	return 100 - 100/(1+rs)
}

// ============================================================================
// MACD
// ============================================================================

// MACDResult holds MACD indicator values
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// MACD computes the MACD line, its signal EMA and the histogram
func MACD(candles []Candle, fastPeriod, slowPeriod, signalPeriod int) MACDResult {
	if fastPeriod <= 0 || fastPeriod >= slowPeriod || len(candles) < slowPeriod+signalPeriod {
		return MACDResult{}
	}

	values := closes(candles)
	fast := emaSeries(values, fastPeriod)
	slow := emaSeries(values, slowPeriod)

	// align both series on the slow EMA's first index
	offset := slowPeriod - fastPeriod
	line := make([]float64, len(slow))
	for i := range slow {
		line[i] = fast[i+offset] - slow[i]
	}

	signal := emaSeries(line, signalPeriod)
	if len(signal) == 0 {
		return MACDResult{}
	}
	res := MACDResult{MACD: line[len(line)-1], Signal: signal[len(signal)-1]}
	res.Histogram = res.MACD - res.Signal
	return res
}

// ============================================================================
// BOLLINGER BANDS
// ============================================================================

// BollingerBands holds band values
type BollingerBands struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// Bollinger computes bands of stdDevMultiplier standard deviations around
// the period SMA
func Bollinger(candles []Candle, period int, stdDevMultiplier float64) BollingerBands {
	if period <= 0 || len(candles) < period {
		return BollingerBands{}
	}

	middle := SMA(candles, period)
	variance := 0.0
	for _, c := range candles[len(candles)-period:] {
		diff := c.Close - middle
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / float64(period))

	return BollingerBands{
		Upper:  middle + stdDev*stdDevMultiplier,
		Middle: middle,
		Lower:  middle - stdDev*stdDevMultiplier,
	}
}

// PercentB locates price within the bands: 0 at the lower band, 1 at the
// upper band, 0.5 when the bands are flat
func (b BollingerBands) PercentB(price float64) float64 {
	width := b.Upper - b.Lower
	if width == 0 {
		return 0.5
	}
	return (price - b.Lower) / width
}

// ============================================================================
// ATR (Average True Range)
// ============================================================================

// ATR returns the average true range over the last period bars
func ATR(candles []Candle, period int) float64 {
	if period <= 0 || len(candles) < period+1 {
		return 0
	}

	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		high, low, prevClose := candles[i].High, candles[i].Low, candles[i-1].Close
		sum += math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
	}
	return sum / float64(period)
}

// ============================================================================
// VOLUME
// ============================================================================

// VolumeRatio compares the last bar's volume to the average of the period
// bars before it; 1 when there is no history
func VolumeRatio(candles []Candle, period int) float64 {
	if period <= 0 || len(candles) < period+1 {
		return 1
	}

	sum := 0.0
	for _, c := range candles[len(candles)-period-1 : len(candles)-1] {
		sum += c.Volume
	}
	avg := sum / float64(period)
	if avg == 0 {
		return 1
	}
	return candles[len(candles)-1].Volume / avg
}
