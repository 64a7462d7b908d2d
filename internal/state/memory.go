package state

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"trade-guard/internal/guarderr"
)

// MemoryStore is an in-process Store used for dry runs and tests
type MemoryStore struct {
	mu       sync.Mutex
	guard    *SystemGuardState
	daily    map[string]map[string]DailyLimitState // account -> date -> counters
	breakers map[string]CircuitBreakerState
	exposure map[string]ExposureState
	reserved map[string]map[string]Reservation // account -> id -> reservation

	// FailReads / FailWrites simulate an unavailable backend
	FailReads  bool
	FailWrites bool
}

// NewMemoryStore returns a store seeded with an ACTIVE system guard
func NewMemoryStore() *MemoryStore {
	g := ActiveGuardState()
	return &MemoryStore{
		guard:    &g,
		daily:    make(map[string]map[string]DailyLimitState),
		breakers: make(map[string]CircuitBreakerState),
		exposure: make(map[string]ExposureState),
		reserved: make(map[string]map[string]Reservation),
	}
}

// NewEmptyMemoryStore returns a store with no system guard row
func NewEmptyMemoryStore() *MemoryStore {
	s := NewMemoryStore()
	s.guard = nil
	return s
}

var errBackendDown = fmt.Errorf("memory store: backend unavailable")

func (m *MemoryStore) readErr(what string) error {
	if m.FailReads {
		return guarderr.StateRead(what, errBackendDown)
	}
	return nil
}

func (m *MemoryStore) writeErr(what string) error {
	if m.FailWrites {
		return guarderr.StateWrite(what, errBackendDown)
	}
	return nil
}

// SetSystemGuard overwrites the guard row, bumping the version
func (m *MemoryStore) SetSystemGuard(s SystemGuardState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.guard != nil {
		s.Version = m.guard.Version + 1
	}
	s = s.Normalize()
	m.guard = &s
}

func (m *MemoryStore) GetSystemGuard(ctx context.Context) (SystemGuardState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.readErr("system_guard"); err != nil {
		return SystemGuardState{}, err
	}
	if m.guard == nil {
		return SystemGuardState{}, guarderr.StateRead("system_guard", guarderr.ErrStateNotFound)
	}
	return *m.guard, nil
}

func (m *MemoryStore) SwapSystemGuard(ctx context.Context, expected int64, next SystemGuardState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeErr("system_guard"); err != nil {
		return false, err
	}
	if m.guard == nil {
		return false, guarderr.StateWrite("system_guard", guarderr.ErrStateNotFound)
	}
	if m.guard.Version != expected {
		return false, nil
	}
	next = next.Normalize()
	next.Version = expected + 1
	m.guard = &next
	return true, nil
}

func (m *MemoryStore) LatestDailyLimit(ctx context.Context, account string) (DailyLimitState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.readErr("daily_trade_counters"); err != nil {
		return DailyLimitState{}, err
	}
	latest := DailyLimitState{Account: account}
	for date, rec := range m.daily[account] {
		if date > latest.Date {
			latest = rec
		}
	}
	return latest, nil
}

// SetDailyLimit overwrites one counters row
func (m *MemoryStore) SetDailyLimit(rec DailyLimitState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.daily[rec.Account] == nil {
		m.daily[rec.Account] = make(map[string]DailyLimitState)
	}
	m.daily[rec.Account][rec.Date] = rec
}

func (m *MemoryStore) RecordTrade(ctx context.Context, account, date string, realizedLoss float64) (DailyLimitState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeErr("daily_trade_counters"); err != nil {
		return DailyLimitState{}, err
	}
	return m.recordTrade(account, date, realizedLoss), nil
}

func (m *MemoryStore) recordTrade(account, date string, realizedLoss float64) DailyLimitState {
	if m.daily[account] == nil {
		m.daily[account] = make(map[string]DailyLimitState)
	}
	rec, ok := m.daily[account][date]
	if !ok {
		rec = DailyLimitState{Account: account, Date: date}
	}
	rec.TradeCount++
	rec.RealizedLoss += math.Max(0, realizedLoss)
	m.daily[account][date] = rec
	return rec
}

func (m *MemoryStore) RecordFill(ctx context.Context, fill FillRecord) (DailyLimitState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeErr("fill"); err != nil {
		return DailyLimitState{}, err
	}
	m.addExposure(fill.Account, fill.Symbol, fill.Class, fill.ExposureDelta)
	if fill.ReservationID != "" {
		delete(m.reserved[fill.Account], fill.ReservationID)
	}
	return m.recordTrade(fill.Account, fill.Date, fill.RealizedLoss), nil
}

func (m *MemoryStore) GetCircuitBreaker(ctx context.Context, channel string) (CircuitBreakerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.readErr("circuit_breaker"); err != nil {
		return CircuitBreakerState{}, err
	}
	cb, ok := m.breakers[channel]
	if !ok {
		cb = ClosedBreaker(channel)
		m.breakers[channel] = cb
	}
	return cb, nil
}

func (m *MemoryStore) SwapCircuitBreaker(ctx context.Context, expected int64, next CircuitBreakerState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeErr("circuit_breaker"); err != nil {
		return false, err
	}
	cur, ok := m.breakers[next.Channel]
	if !ok {
		cur = ClosedBreaker(next.Channel)
	}
	if cur.Version != expected {
		return false, nil
	}
	next.Version = expected + 1
	m.breakers[next.Channel] = next
	return true, nil
}

func (m *MemoryStore) GetExposure(ctx context.Context, account string) (ExposureState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.readErr("exposure"); err != nil {
		return ExposureState{}, err
	}
	snap := NewExposureState(account)
	if cur, ok := m.exposure[account]; ok {
		for k, v := range cur.BySymbol {
			snap.BySymbol[k] = v
		}
		for k, v := range cur.ByClass {
			snap.ByClass[k] = v
		}
	}
	return snap, nil
}

func (m *MemoryStore) AddExposure(ctx context.Context, account, symbol, class string, delta float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeErr("exposure"); err != nil {
		return err
	}
	m.addExposure(account, symbol, class, delta)
	return nil
}

func (m *MemoryStore) addExposure(account, symbol, class string, delta float64) {
	cur, ok := m.exposure[account]
	if !ok {
		cur = NewExposureState(account)
		m.exposure[account] = cur
	}
	cur.BySymbol[symbol] = math.Max(0, cur.BySymbol[symbol]+delta)
	cur.ByClass[class] = math.Max(0, cur.ByClass[class]+delta)
}

func (m *MemoryStore) PutReservation(ctx context.Context, r Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeErr("reservation"); err != nil {
		return err
	}
	if m.reserved[r.Account] == nil {
		m.reserved[r.Account] = make(map[string]Reservation)
	}
	m.reserved[r.Account][r.ID] = r
	return nil
}

func (m *MemoryStore) ReleaseReservation(ctx context.Context, account, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeErr("reservation"); err != nil {
		return false, err
	}
	_, ok := m.reserved[account][id]
	delete(m.reserved[account], id)
	return ok, nil
}

func (m *MemoryStore) ActiveReservations(ctx context.Context, account string, now time.Time) ([]Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.readErr("reservation"); err != nil {
		return nil, err
	}
	var out []Reservation
	for id, r := range m.reserved[account] {
		if !r.ExpiresAt.After(now) {
			delete(m.reserved[account], id)
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// MemoryLocker hands out one lock per key within the process
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewMemoryLocker creates an in-process Locker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]chan struct{})}
}

func (l *MemoryLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	return ch
}

// Lock blocks until key is free or ctx is done
func (l *MemoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("lock %s: %w", key, ctx.Err())
	}
}
