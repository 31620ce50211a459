// Package lock provides the single-writer guard shared by every trigger of a
// sync pass.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
)

var ErrLocked = errors.New("lock is held by another pass")

// PassLock is a non-blocking mutual exclusion. TryLock returns an unlock
// function on success and ErrLocked when another holder is active.
type PassLock interface {
	TryLock(ctx context.Context) (unlock func(), err error)
}

// Local guards passes inside one process.
type Local struct {
	mu sync.Mutex
}

func NewLocal() *Local {
	return &Local{}
}

func (l *Local) TryLock(ctx context.Context) (func(), error) {
	if !l.mu.TryLock() {
		return nil, ErrLocked
	}
	var once sync.Once
	return func() { once.Do(l.mu.Unlock) }, nil
}

// advisoryKey identifies the pass lock among Postgres advisory locks.
const advisoryKey int64 = 0x7474_7261_636b // "ttrack"

// Postgres adds a session advisory lock on a dedicated connection so passes
// in different processes sharing one database exclude each other too.
type Postgres struct {
	local *Local
	db    *sqlx.DB
	key   int64
}

func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{local: NewLocal(), db: db, key: advisoryKey}
}

func (p *Postgres) TryLock(ctx context.Context) (func(), error) {
	unlockLocal, err := p.local.TryLock(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := p.db.Connx(ctx)
	if err != nil {
		unlockLocal()
		return nil, fmt.Errorf("failed to reserve lock connection: %w", err)
	}

	var acquired bool
	err = conn.GetContext(ctx, &acquired, `SELECT pg_try_advisory_lock($1)`, p.key)
	if err != nil {
		conn.Close()
		unlockLocal()
		return nil, fmt.Errorf("failed to take advisory lock: %w", err)
	}
	if !acquired {
		conn.Close()
		unlockLocal()
		return nil, ErrLocked
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// the session lock dies with the connection if this fails
			_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, p.key)
			conn.Close()
			unlockLocal()
		})
	}, nil
}

// ForDriver picks the strongest lock the database driver supports.
func ForDriver(driver string, db *sqlx.DB) PassLock {
	if driver == "pgx" && db != nil {
		return NewPostgres(db)
	}
	return NewLocal()
}
