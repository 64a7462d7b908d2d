// Package app wires the guard components from configuration. The service
// binary and the operator CLI build the same graph so both act on the same
// persisted state.
package app

import (
	"context"
	"fmt"
	"time"

	"trade-guard/config"
	"trade-guard/internal/ai"
	"trade-guard/internal/broker"
	"trade-guard/internal/cache"
	"trade-guard/internal/circuit"
	"trade-guard/internal/dailylimit"
	"trade-guard/internal/database"
	"trade-guard/internal/events"
	"trade-guard/internal/exposure"
	"trade-guard/internal/guard"
	"trade-guard/internal/journal"
	"trade-guard/internal/logging"
	"trade-guard/internal/notification"
	"trade-guard/internal/retry"
	"trade-guard/internal/risk"
	"trade-guard/internal/signals"
	"trade-guard/internal/state"
	"trade-guard/internal/systemguard"
)

// App is the wired component graph
type App struct {
	Config    *config.Config
	Bus       *events.EventBus
	Store     state.Store
	Locker    state.Locker
	System    *systemguard.Guard
	Daily     *dailylimit.Tracker
	Breaker   *circuit.Breaker
	Exposure  *exposure.Tracker
	Risk      *risk.Group
	Guard     *guard.Orchestrator
	Pipeline  *signals.Pipeline
	DB        *database.DB         // nil unless the postgres store is used
	Repo      *database.Repository // nil unless the postgres store is used
	Cache     *cache.CacheService  // nil unless redis is enabled
	Journal   *journal.SQLite      // nil unless the journal is enabled
	Recorders guard.Recorders
	Alerts    *notification.Manager

	closers []func()
}

// Build connects the configured backends and wires every component
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logging.WithComponent("app")
	a := &App{Config: cfg, Bus: events.NewEventBus()}
	a.Alerts = notification.NewFromConfig(cfg.Account, cfg.Notification)
	a.Alerts.Attach(a.Bus)

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openLocker(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if cfg.Journal.Enabled {
		j, err := journal.NewSQLite(cfg.Journal.Path)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open decision journal: %w", err)
		}
		a.Journal = j
		a.Recorders = append(a.Recorders, j)
		a.closers = append(a.closers, func() { _ = j.Close() })
	}

	a.Daily = dailylimit.New(a.Store, cfg.Account, dailylimit.Limits{
		MaxTrades: cfg.Risk.MaxDailyTrades,
		MaxLoss:   cfg.Risk.MaxDailyLoss,
	})

	a.System = systemguard.New(a.Store, a.Bus)
	a.System.RegisterCondition(state.TriggerCatastrophicLoss, systemguard.LossBelow(a.Daily, cfg.SystemGuard.CatastrophicLoss))
	var probe systemguard.HealthProbe = broker.Unconfigured{}
	if cfg.Broker.HealthURL != "" {
		probe = broker.NewHTTPProbe(cfg.Broker.HealthURL, cfg.Broker.Timeout)
	}
	a.System.RegisterCondition(state.TriggerBrokerSession, systemguard.ProbeHealthy(probe))

	cb := cfg.CircuitBreaker
	a.Breaker = circuit.NewBreaker(a.Store, cb.Channel, circuit.Config{
		FailureThreshold:  cb.FailureThreshold,
		CoolDown:          cb.CoolDown,
		MaxCoolDown:       cb.MaxCoolDown,
		BackoffMultiplier: cb.BackoffMultiplier,
		Jitter:            cb.Jitter,
		TrialTimeout:      cb.TrialTimeout,
	}, a.Bus)

	a.Exposure = exposure.NewTracker(a.Store, cfg.Account, cfg.Risk)
	a.Risk = risk.NewGroup(cfg.Risk, a.Exposure)
	a.Pipeline = signals.NewPipeline(cfg.Signals, a.opinionSource(), a.Bus)

	var recorder guard.Recorder
	if len(a.Recorders) > 0 {
		recorder = a.Recorders
	}
	a.Guard = guard.New(guard.Config{
		Account:          cfg.Account,
		Limits:           cfg.Risk,
		CatastrophicLoss: cfg.SystemGuard.CatastrophicLoss,
		LargeTradeLoss:   cfg.SystemGuard.LargeTradeLoss,
		SoftCoolDown:     cfg.SystemGuard.SoftCoolDown,
		ReservationTTL:   cfg.SystemGuard.ReservationTTL,
	}, guard.Deps{
		Store:    a.Store,
		Locker:   a.Locker,
		System:   a.System,
		Daily:    a.Daily,
		Breaker:  a.Breaker,
		Risk:     a.Risk,
		Bus:      a.Bus,
		Recorder: recorder,
	})

	log.Info("guard components wired",
		"account", cfg.Account,
		"store", cfg.StoreBackend,
		"lock", cfg.LockBackend,
		"channel", cb.Channel,
		"recorders", len(a.Recorders),
		"alerts", a.Alerts.Enabled())
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	switch a.Config.StoreBackend {
	case "memory":
		a.Store = state.NewMemoryStore()
		return nil
	case "postgres":
	default:
		return fmt.Errorf("unknown store backend %q", a.Config.StoreBackend)
	}

	dbc := a.Config.Database
	policy := a.retryPolicy()
	var db *database.DB
	err := retry.Do(ctx, policy, "postgres connect", func() error {
		var err error
		db, err = database.NewDB(ctx, database.Config{
			Host:     dbc.Host,
			Port:     dbc.Port,
			User:     dbc.User,
			Password: dbc.Password,
			Database: dbc.Database,
			SSLMode:  dbc.SSLMode,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	a.closers = append(a.closers, db.Close)

	if err := db.RunMigrations(ctx); err != nil {
		return err
	}

	a.DB = db
	a.Repo = database.NewRepository(db)
	a.Store = a.Repo
	a.Recorders = append(a.Recorders, a.Repo)
	return nil
}

func (a *App) openLocker(ctx context.Context) error {
	switch a.Config.LockBackend {
	case "memory":
		a.Locker = state.NewMemoryLocker()
	case "postgres":
		if a.DB == nil {
			return fmt.Errorf("lock backend postgres needs the postgres store")
		}
		a.Locker = database.NewAdvisoryLocker(a.DB)
	case "redis":
		if err := a.openCache(ctx); err != nil {
			return err
		}
		a.Locker = cache.NewLocker(a.Cache)
	default:
		return fmt.Errorf("unknown lock backend %q", a.Config.LockBackend)
	}
	return nil
}

func (a *App) openCache(ctx context.Context) error {
	if a.Cache != nil {
		return nil
	}
	cs, err := cache.NewCacheService(ctx, a.Config.Redis)
	if err != nil {
		return fmt.Errorf("failed to create redis client: %w", err)
	}
	a.Cache = cs
	a.closers = append(a.closers, func() { _ = cs.Close() })
	return nil
}

// opinionSource is the AI engine client, cached in Redis when available.
// With AI disabled the confidence engine runs technical-only.
func (a *App) opinionSource() signals.OpinionSource {
	cfg := a.Config
	if !cfg.AI.Enabled {
		return nil
	}
	var src signals.OpinionSource = ai.NewClient(cfg.AI)
	if cfg.Redis.Enabled {
		if err := a.openCache(context.Background()); err != nil {
			logging.WithComponent("app").WithError(err).Warn("opinion cache unavailable, reading the engine directly")
			return src
		}
		ttl := cfg.Signals.MaxOpinionAge / 3
		if ttl <= 0 {
			ttl = time.Minute
		}
		src = cache.NewOpinionCache(a.Cache, src, ttl)
	}
	return src
}

func (a *App) retryPolicy() retry.Policy {
	r := a.Config.Retry
	return retry.Policy{
		InitialInterval: r.InitialInterval,
		MaxInterval:     r.MaxInterval,
		Multiplier:      r.Multiplier,
		Jitter:          r.Jitter,
		MaxRetries:      r.MaxRetries,
	}
}

// Decisions returns the best available decision history, preferring
// Postgres over the local journal
func (a *App) Decisions() DecisionSource {
	if a.Repo != nil {
		return a.Repo
	}
	if a.Journal != nil {
		return journalDecisions{a.Journal}
	}
	return nil
}

// DecisionSource lists recent decisions for an account
type DecisionSource interface {
	RecentDecisions(ctx context.Context, account string, limit int) ([]guard.Decision, error)
}

type journalDecisions struct {
	j *journal.SQLite
}

func (d journalDecisions) RecentDecisions(ctx context.Context, account string, limit int) ([]guard.Decision, error) {
	end := time.Now().UTC().Add(time.Second)
	list, err := d.j.ListBetween(ctx, account, end.Add(-7*24*time.Hour), end)
	if err != nil {
		return nil, err
	}
	// newest first
	out := make([]guard.Decision, 0, min(limit, len(list)))
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

// Close releases backends in reverse order of opening
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
