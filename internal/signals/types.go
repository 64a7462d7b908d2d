// Package signals turns candles and an optional AI opinion into trade
// signals: analyzer -> confidence engine -> generator -> validator.
package signals

import (
	"time"
)

// Direction is the side a signal proposes
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionFlat  Direction = "flat"
)

// Valid reports whether d is one of the known directions
func (d Direction) Valid() bool {
	switch d {
	case DirectionLong, DirectionShort, DirectionFlat:
		return true
	}
	return false
}

// Mode records which inputs contributed to the confidence score
type Mode string

const (
	ModeCombined      Mode = "combined"
	ModeTechnicalOnly Mode = "technical_only"
)

// Candle is one OHLCV bar
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Features is the indicator snapshot derived from recent candles. Scores are
// in [-1, 1], positive meaning bullish.
type Features struct {
	Close         float64 `json:"close"`
	SMAFast       float64 `json:"sma_fast"`
	SMASlow       float64 `json:"sma_slow"`
	EMA           float64 `json:"ema"`
	RSI           float64 `json:"rsi"`
	MACDHistogram float64 `json:"macd_histogram"`
	ATRPercent    float64 `json:"atr_percent"`
	BollingerPctB float64 `json:"bollinger_pct_b"`
	Momentum      float64 `json:"momentum"` // rate of change over the slow period, percent
	VolumeRatio   float64 `json:"volume_ratio"`
	TrendScore    float64 `json:"trend_score"`
	MomentumScore float64 `json:"momentum_score"`
	VolumeScore   float64 `json:"volume_score"`
	Candles       int     `json:"candles"`
}

// Opinion is the AI analysis record consumed as an opaque input
type Opinion struct {
	Score     float64   `json:"score"` // [-1, 1], positive bullish
	Direction Direction `json:"direction"`
	Rationale string    `json:"rationale"`
	Timestamp time.Time `json:"timestamp"`
}

// Evaluation is the confidence engine output
type Evaluation struct {
	Symbol         string
	Direction      Direction
	Strength       float64
	Confidence     float64
	TechnicalScore float64
	AIScore        float64
	Mode           Mode
	Rationale      string
	Features       Features
}

// Signal is a candidate trade. Treat it as a value; it is not mutated after
// the generator builds it.
type Signal struct {
	Symbol      string    `json:"symbol"`
	Direction   Direction `json:"direction"`
	Strength    float64   `json:"strength"`
	Confidence  float64   `json:"confidence"`
	GeneratedAt time.Time `json:"generated_at"`
	Features    *Features `json:"features,omitempty"`
	Mode        Mode      `json:"mode"`
	Rationale   string    `json:"rationale,omitempty"`
}
