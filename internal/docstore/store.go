// Package docstore persists coaching documents (users, coaches,
// sessions, plans, check-ins, reviews) in a single SQLite table keyed
// by collection and id, indexed for owner, status and recency queries.
// Bodies are JSON; the typed accessors in records.go are the only way
// callers touch them.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// Collections.
const (
	Users    = "users"
	Coaches  = "coaches"
	Sessions = "sessions"
	Plans    = "plans"
	Checkins = "checkins"
	Reviews  = "reviews"
)

// tsLayout is fixed-width so text ordering matches time ordering.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// Store is a document store backed by SQLite. All public methods are
// safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a store, running migrations on first use.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate docstore: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id         TEXT NOT NULL,
			owner_id   TEXT NOT NULL DEFAULT '',
			status     TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			body       TEXT NOT NULL,
			PRIMARY KEY (collection, id)
		);
		CREATE INDEX IF NOT EXISTS idx_documents_owner
			ON documents (collection, owner_id, status, updated_at);
	`)
	return err
}

// meta is the indexed part of a document.
type meta struct {
	ID        string
	OwnerID   string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func formatTime(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(tsLayout, s)
	return t
}

// put upserts a document. created_at is preserved on update.
func (s *Store) put(ctx context.Context, q querier, collection string, m meta, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", collection, m.ID, err)
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO documents (collection, id, owner_id, status, created_at, updated_at, body)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (collection, id) DO UPDATE
		 SET owner_id = excluded.owner_id, status = excluded.status,
		     updated_at = excluded.updated_at, body = excluded.body`,
		collection, m.ID, m.OwnerID, m.Status,
		formatTime(m.CreatedAt), formatTime(m.UpdatedAt), string(data),
	)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, m.ID, err)
	}
	return nil
}

// get loads a document body into out and returns its metadata.
func (s *Store) get(ctx context.Context, q querier, collection, id string, out any) (meta, error) {
	var (
		m                meta
		created, updated string
		body             string
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, owner_id, status, created_at, updated_at, body
		 FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&m.ID, &m.OwnerID, &m.Status, &created, &updated, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return meta{}, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return meta{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return meta{}, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	m.CreatedAt = parseTime(created)
	m.UpdatedAt = parseTime(updated)
	return m, nil
}

// Query selects documents by owner and optionally status.
type Query struct {
	Collection string
	OwnerID    string
	Status     string // empty matches any status
	Limit      int    // 0 means no limit
	Oldest     bool   // oldest first; default newest first
}

// query returns matching bodies in updated_at order, decoding each
// through decode.
func (s *Store) query(ctx context.Context, q Query, decode func(m meta, body []byte) error) error {
	sqlText := `SELECT id, owner_id, status, created_at, updated_at, body
		FROM documents WHERE collection = ? AND owner_id = ?`
	args := []any{q.Collection, q.OwnerID}
	if q.Status != "" {
		sqlText += ` AND status = ?`
		args = append(args, q.Status)
	}
	if q.Oldest {
		sqlText += ` ORDER BY updated_at ASC, id ASC`
	} else {
		sqlText += ` ORDER BY updated_at DESC, id DESC`
	}
	if q.Limit > 0 {
		sqlText += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return fmt.Errorf("query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m                meta
			created, updated string
			body             string
		)
		if err := rows.Scan(&m.ID, &m.OwnerID, &m.Status, &created, &updated, &body); err != nil {
			return fmt.Errorf("scan %s: %w", q.Collection, err)
		}
		m.CreatedAt = parseTime(created)
		m.UpdatedAt = parseTime(updated)
		if err := decode(m, []byte(body)); err != nil {
			return fmt.Errorf("decode %s/%s: %w", q.Collection, m.ID, err)
		}
	}
	return rows.Err()
}

// Count returns how many documents match q, ignoring Limit.
func (s *Store) Count(ctx context.Context, q Query) (int, error) {
	sqlText := `SELECT COUNT(*) FROM documents WHERE collection = ? AND owner_id = ?`
	args := []any{q.Collection, q.OwnerID}
	if q.Status != "" {
		sqlText += ` AND status = ?`
		args = append(args, q.Status)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, sqlText, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", q.Collection, err)
	}
	return n, nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx runs fn in a transaction.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
