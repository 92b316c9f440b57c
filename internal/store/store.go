// Package store provides the data access layer. All queries are hand-written
// SQL executed through *pgxpool.Pool; multi-statement operations (batch
// enqueue, terminal-failure audit) run inside pgx native transactions. A
// stdlib *sql.DB wrapper over the same pool is kept for golang-migrate and
// for raw row verification in tests.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// ClaimMode selects how ClaimNextJob transitions a pending job to processing.
type ClaimMode string

const (
	// ClaimSkipLocked claims in a single UPDATE with FOR UPDATE SKIP LOCKED.
	ClaimSkipLocked ClaimMode = "skip_locked"
	// ClaimOptimistic selects a candidate and then applies a conditional
	// update guarded by status='pending', retrying a bounded number of times
	// when it loses the race. For stores without SKIP LOCKED semantics.
	ClaimOptimistic ClaimMode = "optimistic"
)

// Store is the central data access object shared by the HTTP layer and the
// job runner. It is safe for concurrent use once configured; call the
// setters below before sharing it across goroutines.
type Store struct {
	pool *pgxpool.Pool
	db   *sql.DB

	claimMode          ClaimMode
	claimRetries       int
	defaultMaxAttempts int32
}

// New creates a Store backed by pool, claiming via SKIP LOCKED by default.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:               pool,
		db:                 stdlib.OpenDBFromPool(pool),
		claimMode:          ClaimSkipLocked,
		claimRetries:       3,
		defaultMaxAttempts: DefaultMaxAttempts,
	}
}

// UseOptimisticClaim switches ClaimNextJob to the select-then-conditional-
// update path with at most retries attempts per call.
func (s *Store) UseOptimisticClaim(retries int) {
	s.claimMode = ClaimOptimistic
	if retries > 0 {
		s.claimRetries = retries
	}
}

// SetDefaultMaxAttempts overrides the attempt budget applied when an enqueue
// does not specify one.
func (s *Store) SetDefaultMaxAttempts(n int32) {
	if n > 0 {
		s.defaultMaxAttempts = n
	}
}

// Pool returns the underlying pgxpool for callers that need pgx native
// operations.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// DB returns the stdlib-wrapped *sql.DB, used by migrations and tests.
func (s *Store) DB() *sql.DB { return s.db }

// withTx runs fn inside a pgx transaction. The transaction is committed if
// fn returns nil, rolled back otherwise.
func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on panic or fn error
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
