package signals

import (
	"context"
	"fmt"
	"time"

	"trade-guard/config"
	"trade-guard/internal/events"
	"trade-guard/internal/logging"
)

// Generator turns an evaluation into a candidate signal
type Generator struct {
	threshold float64
	bus       *events.EventBus
	now       func() time.Time
}

// NewGenerator creates a generator with the configured actionability
// threshold
func NewGenerator(threshold float64, bus *events.EventBus) *Generator {
	return &Generator{threshold: threshold, bus: bus, now: time.Now}
}

// SetClock replaces the time source
func (g *Generator) SetClock(now func() time.Time) {
	g.now = now
}

// Generate returns a signal when confidence exceeds the threshold and the
// evaluation has a direction; otherwise nil, which is not an error.
func (g *Generator) Generate(ev Evaluation) *Signal {
	if ev.Direction == DirectionFlat || ev.Confidence <= g.threshold {
		return nil
	}

	features := ev.Features
	sig := &Signal{
		Symbol:      ev.Symbol,
		Direction:   ev.Direction,
		Strength:    ev.Strength,
		Confidence:  ev.Confidence,
		GeneratedAt: g.now().UTC(),
		Features:    &features,
		Mode:        ev.Mode,
		Rationale:   ev.Rationale,
	}
	if g.bus != nil {
		g.bus.PublishSignal(sig.Symbol, string(sig.Direction), string(sig.Mode), sig.Strength, sig.Confidence)
	}
	return sig
}

// Pipeline runs analyzer -> confidence engine -> generator -> validator for
// one symbol
type Pipeline struct {
	Analyzer  *Analyzer
	Engine    *ConfidenceEngine
	Generator *Generator
	Validator *Validator
}

// NewPipeline wires the signal stages from configuration
func NewPipeline(cfg config.SignalConfig, source OpinionSource, bus *events.EventBus) *Pipeline {
	return &Pipeline{
		Analyzer:  NewAnalyzer(cfg),
		Engine:    NewConfidenceEngine(cfg, source),
		Generator: NewGenerator(cfg.ActionableThreshold, bus),
		Validator: NewValidator(),
	}
}

// Run returns the validated signal for symbol, or nil when there is nothing
// actionable. Validation failures are returned as errors.
func (p *Pipeline) Run(ctx context.Context, symbol string, candles []Candle) (*Signal, error) {
	f, err := p.Analyzer.Analyze(candles)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze %s: %w", symbol, err)
	}

	ev := p.Engine.Evaluate(ctx, symbol, f)
	sig := p.Generator.Generate(ev)
	if sig == nil {
		logging.SignalContext(symbol, string(ev.Direction), ev.Confidence).Debug("no actionable signal")
		return nil, nil
	}
	if err := p.Validator.Validate(*sig); err != nil {
		return nil, err
	}
	return sig, nil
}
