package database

import (
	"context"
	"sync"
	"time"

	"trade-guard/internal/logging"
	"trade-guard/internal/state"
)

// AdvisoryLocker serializes guard cycles with PostgreSQL session advisory
// locks. Each held lock pins one pooled connection until unlock.
type AdvisoryLocker struct {
	db *DB
}

// NewAdvisoryLocker creates a locker on db
func NewAdvisoryLocker(db *DB) *AdvisoryLocker {
	return &AdvisoryLocker{db: db}
}

var _ state.Locker = (*AdvisoryLocker)(nil)

// Lock blocks until the advisory lock for key is held or ctx is done
func (l *AdvisoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	conn, err := l.db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtext($1))`, key); err != nil {
		conn.Release()
		return nil, err
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// the cycle's ctx may already be cancelled; the lock must still go
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := conn.Exec(releaseCtx, `SELECT pg_advisory_unlock(hashtext($1))`, key); err != nil {
				logging.DatabaseContext("unlock", "advisory").Warn("failed to release advisory lock, dropping connection",
					"key", key, "error", err)
				// closing the session releases every lock it holds
				_ = conn.Conn().Close(releaseCtx)
			}
			conn.Release()
		})
	}
	return unlock, nil
}
