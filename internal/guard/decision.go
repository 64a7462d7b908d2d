package guard

import (
	"context"
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"trade-guard/internal/signals"
)

// Decision is the orchestrator's verdict for one cycle. Reasons are in check
// order: system guard, daily limit, circuit breaker, risk group.
type Decision struct {
	ID               string     `json:"id"`
	Account          string     `json:"account"`
	Symbol           string     `json:"symbol,omitempty"`
	Allowed          bool       `json:"allowed"`
	Reasons          []string   `json:"reasons"`
	Adjustments      []string   `json:"adjustments,omitempty"`
	Recovered        bool       `json:"recovered"`
	RiskAdjustedSize *float64   `json:"risk_adjusted_size"`
	Trial            bool       `json:"trial,omitempty"` // this trade is the half-open breaker trial
	ReservedUntil    *time.Time `json:"reserved_until,omitempty"`
	EvaluatedAt      time.Time  `json:"evaluated_at"`
}

// Order is what an approved decision hands to the executor
type Order struct {
	DecisionID string
	Account    string
	Symbol     string
	Direction  signals.Direction
	Notional   float64
	Trial      bool
}

// Fill is the executor's report of a completed trade
type Fill struct {
	DecisionID  string  `json:"decision_id"` // releases the reservation taken by Reserve
	Symbol      string  `json:"symbol" binding:"required"`
	Channel     string  `json:"channel"`
	Notional    float64 `json:"notional"`     // signed exposure change
	RealizedPnL float64 `json:"realized_pnl"` // negative is a loss
}

// Executor places an approved order. Wrap guarderr.ErrBrokerSession when the
// broker session is gone.
type Executor interface {
	Execute(ctx context.Context, order Order) (Fill, error)
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, order Order) (Fill, error)

func (f ExecutorFunc) Execute(ctx context.Context, order Order) (Fill, error) {
	return f(ctx, order)
}

// Recorder keeps an audit trail of decisions
type Recorder interface {
	Record(ctx context.Context, d Decision) error
}

// Recorders fans a decision out to several recorders; every recorder is
// tried and the first error is returned
type Recorders []Recorder

func (rs Recorders) Record(ctx context.Context, d Decision) error {
	var first error
	for _, r := range rs {
		if err := r.Record(ctx, d); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var (
	idMu sync.Mutex
	mono io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// newID returns a time-sortable decision ID
func newID(at time.Time) string {
	idMu.Lock()
	defer idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), mono).String()
}
