// Package idempotency records caller-supplied idempotency keys so a
// repeated tool execution returns the first result instead of acting
// twice.
package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrInProgress is returned when a key is claimed but its execution has
// not completed.
var ErrInProgress = errors.New("execution in progress for idempotency key")

const (
	statePending  = "pending"
	stateComplete = "complete"
)

// Record is a completed execution.
type Record struct {
	Scope     string
	Key       string
	Result    string
	UpdatedAt time.Time
}

// Store is a namespaced key store backed by SQLite. All public methods
// are safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a store, running migrations on first use.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate idempotency: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS idempotency_keys (
		scope      TEXT NOT NULL,
		key        TEXT NOT NULL,
		state      TEXT NOT NULL,
		result     TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL,
		PRIMARY KEY (scope, key)
	);
	`)
	return err
}

// Claim reserves key within scope. It returns (nil, nil) when the
// caller now owns the key and must call Complete or Release. If the
// key already completed, the stored record is returned. A pending key
// yields [ErrInProgress].
func (s *Store) Claim(ctx context.Context, scope, key string) (*Record, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO idempotency_keys (scope, key, state, updated_at)
		 VALUES (?, ?, ?, ?)`,
		scope, key, statePending, s.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("claim %s/%s: %w", scope, key, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil, nil
	}

	var state, result, updated string
	err = s.db.QueryRowContext(ctx,
		`SELECT state, result, updated_at FROM idempotency_keys WHERE scope = ? AND key = ?`,
		scope, key,
	).Scan(&state, &result, &updated)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", scope, key, err)
	}
	if state == statePending {
		return nil, ErrInProgress
	}
	ts, _ := time.Parse(time.RFC3339, updated)
	return &Record{Scope: scope, Key: key, Result: result, UpdatedAt: ts}, nil
}

// Complete stores the result for a claimed key.
func (s *Store) Complete(ctx context.Context, scope, key, result string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE idempotency_keys SET state = ?, result = ?, updated_at = ?
		 WHERE scope = ? AND key = ?`,
		stateComplete, result, s.now().UTC().Format(time.RFC3339), scope, key,
	)
	if err != nil {
		return fmt.Errorf("complete %s/%s: %w", scope, key, err)
	}
	return nil
}

// Release drops a pending claim so the caller may try again.
func (s *Store) Release(ctx context.Context, scope, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE scope = ? AND key = ? AND state = ?`,
		scope, key, statePending,
	)
	if err != nil {
		return fmt.Errorf("release %s/%s: %w", scope, key, err)
	}
	return nil
}

// Purge deletes completed keys last updated before cutoff and returns
// how many were removed.
func (s *Store) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE state = ? AND updated_at < ?`,
		stateComplete, cutoff.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	return res.RowsAffected()
}
