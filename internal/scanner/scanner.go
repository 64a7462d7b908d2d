// Package scanner runs the periodic guard sweep: one CheckAllGuards pass per
// interval so hard trips get their auto-recovery attempt and breaker state
// is surfaced even when no signals arrive.
package scanner

import (
	"context"
	"sync"
	"time"

	"trade-guard/internal/circuit"
	"trade-guard/internal/events"
	"trade-guard/internal/guard"
	"trade-guard/internal/logging"
)

// Checker is the orchestrator surface the sweep uses
type Checker interface {
	CheckAllGuards(ctx context.Context) (guard.Decision, error)
}

// BreakerStats reports the execution breaker
type BreakerStats interface {
	GetStats(ctx context.Context) (circuit.Stats, error)
}

// Config holds sweep settings
type Config struct {
	Enabled  bool
	Interval time.Duration
	Timeout  time.Duration // per sweep, defaults to the interval
}

// SweepResult is the outcome of the latest sweep
type SweepResult struct {
	At       time.Time      `json:"at"`
	Decision guard.Decision `json:"decision"`
	Breaker  *circuit.Stats `json:"breaker,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Scanner runs guard sweeps on a ticker
type Scanner struct {
	checker    Checker
	breaker    BreakerStats
	bus        *events.EventBus
	config     Config
	stopChan   chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	mu         sync.RWMutex
	lastResult *SweepResult
	log        *logging.Logger
}

// NewScanner creates a new scanner instance. breaker and bus may be nil.
func NewScanner(checker Checker, breaker BreakerStats, bus *events.EventBus, config Config) *Scanner {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.Timeout <= 0 {
		config.Timeout = config.Interval
	}
	return &Scanner{
		checker:  checker,
		breaker:  breaker,
		bus:      bus,
		config:   config,
		stopChan: make(chan struct{}),
		log:      logging.WithComponent("scanner"),
	}
}

// Start begins the background sweep loop
func (sc *Scanner) Start() {
	if !sc.config.Enabled {
		sc.log.Info("guard sweep is disabled")
		return
	}

	sc.wg.Add(1)
	go sc.runLoop()
	sc.log.Info("guard sweep started", "interval", sc.config.Interval.String())
}

func (sc *Scanner) runLoop() {
	defer sc.wg.Done()

	ticker := time.NewTicker(sc.config.Interval)
	defer ticker.Stop()

	sc.Sweep()

	for {
		select {
		case <-ticker.C:
			sc.Sweep()
		case <-sc.stopChan:
			sc.log.Info("guard sweep stopped")
			return
		}
	}
}

// Sweep executes a single sweep (public for manual triggering)
func (sc *Scanner) Sweep() SweepResult {
	ctx, cancel := context.WithTimeout(context.Background(), sc.config.Timeout)
	defer cancel()

	res := SweepResult{At: time.Now().UTC()}

	d, err := sc.checker.CheckAllGuards(ctx)
	if err != nil {
		res.Error = err.Error()
		sc.log.WithError(err).Error("guard sweep failed")
		if sc.bus != nil {
			sc.bus.PublishError("scanner", "guard sweep failed", err)
		}
	} else {
		res.Decision = d
		if d.Recovered {
			sc.log.Info("guard sweep recovered the system guard", "decision_id", d.ID)
		}
	}

	if sc.breaker != nil {
		if stats, err := sc.breaker.GetStats(ctx); err == nil {
			res.Breaker = &stats
		} else {
			sc.log.WithError(err).Warn("failed to read breaker stats")
		}
	}

	sc.mu.Lock()
	sc.lastResult = &res
	sc.mu.Unlock()
	return res
}

// LastResult returns the latest sweep, or nil before the first one
func (sc *Scanner) LastResult() *SweepResult {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	if sc.lastResult == nil {
		return nil
	}
	r := *sc.lastResult
	return &r
}

// Stop gracefully shuts down the scanner
func (sc *Scanner) Stop() {
	sc.stopOnce.Do(func() { close(sc.stopChan) })
	sc.wg.Wait()
}
