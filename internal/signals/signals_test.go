package signals

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-guard/config"
	"trade-guard/internal/guarderr"
)

var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func testConfig() config.SignalConfig {
	return config.Default().Signals
}

// risingCandles returns n bars climbing one unit per bar with a volume spike
// on the last one
func risingCandles(n int) []Candle {
	out := make([]Candle, n)
	for i := range out {
		c := 100 + float64(i)
		out[i] = Candle{
			OpenTime: now.Add(time.Duration(i-n) * time.Minute),
			Open:     c - 0.5,
			High:     c + 1,
			Low:      c - 1,
			Close:    c,
			Volume:   100,
		}
	}
	out[n-1].Volume = 200
	return out
}

type stubSource struct {
	op  *Opinion
	err error
}

func (s *stubSource) Opinion(ctx context.Context, symbol string) (*Opinion, error) {
	return s.op, s.err
}

func TestIndicators(t *testing.T) {
	flat := make([]Candle, 30)
	for i := range flat {
		flat[i] = Candle{Close: 50, High: 50, Low: 50, Volume: 10}
	}

	assert.InDelta(t, 4.0, SMA([]Candle{{Close: 1}, {Close: 2}, {Close: 3}, {Close: 4}, {Close: 5}}, 3), 1e-9)
	assert.InDelta(t, 50.0, EMA(flat, 12), 1e-9)
	assert.InDelta(t, 50.0, RSI(flat, 14), 1e-9)
	assert.Zero(t, ATR(flat, 14))
	assert.InDelta(t, 0.5, Bollinger(flat, 20, 2).PercentB(50), 1e-9)
	assert.InDelta(t, 1.0, VolumeRatio(flat, 20), 1e-9)
	assert.Equal(t, MACDResult{}, MACD(flat[:10], 12, 26, 9))
	assert.InDelta(t, 100.0, RSI(risingCandles(20), 14), 1e-9)
}

func TestAnalyzerNeedsEnoughCandles(t *testing.T) {
	a := NewAnalyzer(testConfig())

	_, err := a.Analyze(risingCandles(20))
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestAnalyzerRisingMarketIsBullish(t *testing.T) {
	a := NewAnalyzer(testConfig())
	candles := risingCandles(40)

	f, err := a.Analyze(candles)
	require.NoError(t, err)

	assert.Equal(t, 139.0, f.Close)
	assert.Greater(t, f.SMAFast, f.SMASlow)
	assert.InDelta(t, 1.0, f.TrendScore, 1e-9)
	assert.Greater(t, f.MomentumScore, 0.0)
	assert.InDelta(t, 1.0, f.VolumeScore, 1e-9)
	assert.Greater(t, f.ATRPercent, 0.0)
	assert.Equal(t, 40, f.Candles)

	again, err := a.Analyze(candles)
	require.NoError(t, err)
	assert.Equal(t, f, again, "analysis must be deterministic")
}

func scoringFeatures() Features {
	return Features{Close: 100, TrendScore: 0.8, MomentumScore: 0.6}
}

func TestTechnicalOnlyAppliesPenalty(t *testing.T) {
	e := NewConfidenceEngine(testConfig(), nil)
	e.SetClock(func() time.Time { return now })

	ev := e.Evaluate(context.Background(), "BTCUSDT", scoringFeatures())

	assert.Equal(t, ModeTechnicalOnly, ev.Mode)
	assert.Equal(t, DirectionLong, ev.Direction)
	assert.InDelta(t, 0.58, ev.Strength, 1e-9)
	assert.InDelta(t, 0.29+0.5-0.15, ev.Confidence, 1e-9)
	assert.Contains(t, ev.Rationale, "technical-only")
}

func TestFailingSourceDegrades(t *testing.T) {
	e := NewConfidenceEngine(testConfig(), &stubSource{err: errors.New("rate limited")})

	ev := e.Evaluate(context.Background(), "BTCUSDT", scoringFeatures())

	assert.Equal(t, ModeTechnicalOnly, ev.Mode)
	assert.InDelta(t, 0.64, ev.Confidence, 1e-9)
}

func TestStaleOpinionIgnored(t *testing.T) {
	op := &Opinion{Score: 0.9, Timestamp: now.Add(-time.Hour)}
	e := NewConfidenceEngine(testConfig(), &stubSource{op: op})
	e.SetClock(func() time.Time { return now })

	ev := e.Evaluate(context.Background(), "BTCUSDT", scoringFeatures())

	assert.Equal(t, ModeTechnicalOnly, ev.Mode)
	assert.Contains(t, ev.Rationale, "older than")
}

func TestCombinedWeighting(t *testing.T) {
	op := &Opinion{Score: 0.9, Rationale: "breakout confirmed", Timestamp: now.Add(-time.Minute)}
	e := NewConfidenceEngine(testConfig(), &stubSource{op: op})
	e.SetClock(func() time.Time { return now })

	ev := e.Evaluate(context.Background(), "BTCUSDT", scoringFeatures())

	assert.Equal(t, ModeCombined, ev.Mode)
	assert.InDelta(t, 0.6*0.58+0.4*0.9, ev.Strength, 1e-9)
	assert.InDelta(t, 0.5*(0.6*0.58+0.4*0.9)+0.5, ev.Confidence, 1e-9)
	assert.Contains(t, ev.Rationale, "breakout confirmed")
}

func TestWeightsComeFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.AIWeight = 0
	op := &Opinion{Score: -1, Timestamp: now}
	e := NewConfidenceEngine(cfg, nil)
	e.SetClock(func() time.Time { return now })

	ev := e.Score("BTCUSDT", scoringFeatures(), op)

	assert.Equal(t, ModeCombined, ev.Mode)
	assert.InDelta(t, 0.58, ev.Strength, 1e-9)
	assert.Equal(t, DirectionLong, ev.Direction)
}

func TestConfidenceAlwaysClamped(t *testing.T) {
	e := NewConfidenceEngine(testConfig(), nil)
	e.SetClock(func() time.Time { return now })
	inputs := []Features{
		{TrendScore: 1, MomentumScore: 1, VolumeScore: 1},
		{TrendScore: -1, MomentumScore: -1, VolumeScore: -1},
		{TrendScore: 5, MomentumScore: 5},
		{TrendScore: math.NaN()},
		{},
	}
	ops := []*Opinion{nil, {Score: 3, Timestamp: now}, {Score: math.Inf(1), Timestamp: now}}

	for _, f := range inputs {
		for _, op := range ops {
			ev := e.Score("BTCUSDT", f, op)
			assert.GreaterOrEqual(t, ev.Confidence, 0.0)
			assert.LessOrEqual(t, ev.Confidence, 1.0)
			assert.GreaterOrEqual(t, ev.Strength, 0.0)
			assert.LessOrEqual(t, ev.Strength, 1.0)
		}
	}
}

func TestGeneratorThreshold(t *testing.T) {
	g := NewGenerator(0.6, nil)
	g.SetClock(func() time.Time { return now })

	assert.Nil(t, g.Generate(Evaluation{Symbol: "BTCUSDT", Direction: DirectionLong, Confidence: 0.6}))
	assert.Nil(t, g.Generate(Evaluation{Symbol: "BTCUSDT", Direction: DirectionFlat, Confidence: 0.9}))

	sig := g.Generate(Evaluation{Symbol: "BTCUSDT", Direction: DirectionShort, Strength: 0.7, Confidence: 0.61})
	require.NotNil(t, sig)
	assert.Equal(t, DirectionShort, sig.Direction)
	assert.Equal(t, now, sig.GeneratedAt)
	assert.NotNil(t, sig.Features)
}

func TestSignalValidator(t *testing.T) {
	v := NewValidator()
	good := Signal{Symbol: "BTCUSDT", Direction: DirectionLong, Strength: 0.5, Confidence: 0.7, GeneratedAt: now, Features: &Features{}}
	assert.NoError(t, v.Validate(good))

	bad := Signal{Direction: "sideways", Strength: math.NaN(), Confidence: 1.2}
	err := v.Validate(bad)
	assert.ErrorIs(t, err, guarderr.ErrValidationFailed)
	assert.Len(t, v.Problems(bad), 6)
}

func TestPipelineProducesValidatedSignal(t *testing.T) {
	p := NewPipeline(testConfig(), nil, nil)

	sig, err := p.Run(context.Background(), "BTCUSDT", risingCandles(40))
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, DirectionLong, sig.Direction)
	assert.Equal(t, ModeTechnicalOnly, sig.Mode)
	assert.Greater(t, sig.Confidence, 0.6)
}

func TestPipelineQuietMarketHasNoSignal(t *testing.T) {
	flat := make([]Candle, 40)
	for i := range flat {
		flat[i] = Candle{Open: 50, Close: 50, High: 50.5, Low: 49.5, Volume: 10}
	}
	p := NewPipeline(testConfig(), nil, nil)

	sig, err := p.Run(context.Background(), "BTCUSDT", flat)
	require.NoError(t, err)
	assert.Nil(t, sig)
}
