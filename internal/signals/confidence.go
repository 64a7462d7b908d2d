package signals

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"trade-guard/config"
	"trade-guard/internal/logging"
)

// flatBand is the |score| below which the engine calls direction flat
const flatBand = 0.05

// OpinionSource supplies the external AI opinion for a symbol
type OpinionSource interface {
	Opinion(ctx context.Context, symbol string) (*Opinion, error)
}

// ConfidenceEngine blends technical features with an AI opinion
type ConfidenceEngine struct {
	cfg    config.SignalConfig
	source OpinionSource
	now    func() time.Time
	log    *logging.Logger
}

// NewConfidenceEngine creates an engine; source may be nil for
// technical-only operation
func NewConfidenceEngine(cfg config.SignalConfig, source OpinionSource) *ConfidenceEngine {
	return &ConfidenceEngine{
		cfg:    cfg,
		source: source,
		now:    time.Now,
		log:    logging.WithComponent("confidence"),
	}
}

// SetClock replaces the time source used for opinion staleness
func (e *ConfidenceEngine) SetClock(now func() time.Time) {
	e.now = now
}

// Evaluate fetches the opinion for symbol and scores it with f. A failing
// source degrades to technical-only mode; it is never an error.
func (e *ConfidenceEngine) Evaluate(ctx context.Context, symbol string, f Features) Evaluation {
	var (
		op  *Opinion
		err error
	)
	if e.source != nil {
		op, err = e.source.Opinion(ctx, symbol)
		if err != nil {
			logging.FromContext(ctx).WithComponent("confidence").Warn("ai opinion unavailable, using technical-only mode",
				"symbol", symbol, "error", err)
			op = nil
		}
	}
	return e.Score(symbol, f, op)
}

// TechnicalScore is the weighted blend of trend, momentum and volume scores
func (e *ConfidenceEngine) TechnicalScore(f Features) float64 {
	total := e.cfg.TrendWeight + e.cfg.MomentumWeight + e.cfg.VolumeWeight
	if total <= 0 {
		return 0
	}
	s := e.cfg.TrendWeight*f.TrendScore + e.cfg.MomentumWeight*f.MomentumScore + e.cfg.VolumeWeight*f.VolumeScore
	return clamp(s/total, -1, 1)
}

// usable reports why op cannot be used, or "" when it can
func (e *ConfidenceEngine) usable(op *Opinion) string {
	switch {
	case op == nil:
		return "no ai opinion"
	case math.IsNaN(op.Score) || math.IsInf(op.Score, 0):
		return "ai opinion score is not a number"
	case e.cfg.MaxOpinionAge > 0 && (op.Timestamp.IsZero() || e.now().Sub(op.Timestamp) > e.cfg.MaxOpinionAge):
		return fmt.Sprintf("ai opinion older than %s", e.cfg.MaxOpinionAge)
	}
	return ""
}

// Score is the pure scoring rule. Strength is the magnitude of the blended
// score, confidence mixes that magnitude with how many inputs agree on the
// direction, less the technical-only penalty when the opinion is unusable.
func (e *ConfidenceEngine) Score(symbol string, f Features, op *Opinion) Evaluation {
	technical := e.TechnicalScore(f)
	ev := Evaluation{
		Symbol:         symbol,
		TechnicalScore: technical,
		Features:       f,
		Mode:           ModeTechnicalOnly,
	}

	combined := technical
	votes := []float64{f.TrendScore, f.MomentumScore}
	if f.VolumeScore != 0 {
		votes = append(votes, f.VolumeScore)
	}

	var rationale []string
	rationale = append(rationale, fmt.Sprintf("technical %.2f (trend %.2f, momentum %.2f, volume %.2f)",
		technical, f.TrendScore, f.MomentumScore, f.VolumeScore))

	if why := e.usable(op); why == "" {
		ai := clamp(op.Score, -1, 1)
		ev.AIScore = ai
		ev.Mode = ModeCombined
		if total := e.cfg.TechnicalWeight + e.cfg.AIWeight; total > 0 {
			combined = (e.cfg.TechnicalWeight*technical + e.cfg.AIWeight*ai) / total
		}
		votes = append(votes, ai)
		r := fmt.Sprintf("ai %.2f", ai)
		if op.Rationale != "" {
			r += ": " + op.Rationale
		}
		rationale = append(rationale, r)
	} else {
		rationale = append(rationale, "technical-only: "+why)
	}

	combined = clamp(combined, -1, 1)
	switch {
	case combined >= flatBand:
		ev.Direction = DirectionLong
	case combined <= -flatBand:
		ev.Direction = DirectionShort
	default:
		ev.Direction = DirectionFlat
	}
	ev.Strength = clamp(math.Abs(combined), 0, 1)

	if ev.Direction != DirectionFlat {
		agree := 0
		for _, v := range votes {
			if (v > 0) == (combined > 0) && v != 0 {
				agree++
			}
		}
		ev.Confidence = 0.5*ev.Strength + 0.5*float64(agree)/float64(len(votes))
	}
	if ev.Mode == ModeTechnicalOnly {
		ev.Confidence -= e.cfg.TechnicalOnlyPenalty
	}
	ev.Confidence = clamp(ev.Confidence, 0, 1)
	ev.Rationale = strings.Join(rationale, "; ")

	e.log.Debug("signal scored",
		"symbol", symbol,
		"mode", string(ev.Mode),
		"direction", string(ev.Direction),
		"strength", ev.Strength,
		"confidence", ev.Confidence)
	return ev
}
