package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/coachd/internal/coach"
	"github.com/nugget/coachd/internal/protocol"
)

// Status values.
const (
	StatusActive   = "active"
	StatusDone     = "done"
	StatusArchived = "archived"
	StatusOpen     = "open"
)

// newID returns a time-ordered id.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// User is a coached person.
type User struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Timezone    string    `json:"timezone,omitempty"`
	Values      []string  `json:"values"`
	Goals       []string  `json:"goals"`
	Commitments []string  `json:"commitments"`
	Permissions []string  `json:"permissions"` // device permissions granted, e.g. calendar
	CreatedAt   time.Time `json:"-"`
	UpdatedAt   time.Time `json:"-"`
}

// GetUser loads a user.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	m, err := s.get(ctx, s.db, Users, id, &u)
	if err != nil {
		return nil, err
	}
	u.ID, u.CreatedAt, u.UpdatedAt = m.ID, m.CreatedAt, m.UpdatedAt
	return &u, nil
}

// PutUser creates or replaces a user.
func (s *Store) PutUser(ctx context.Context, u *User) error {
	return s.putUser(ctx, s.db, u)
}

func (s *Store) putUser(ctx context.Context, q querier, u *User) error {
	if u.ID == "" {
		u.ID = newID()
	}
	now := s.now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	return s.put(ctx, q, Users, meta{ID: u.ID, OwnerID: u.ID, Status: StatusActive, CreatedAt: u.CreatedAt, UpdatedAt: u.UpdatedAt}, u)
}

// AppendCommitments adds each commitment not already stored, compared
// by exact string. It returns how many were added.
func (s *Store) AppendCommitments(ctx context.Context, uid string, commitments []string) (int, error) {
	added := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var u User
		m, err := s.get(ctx, tx, Users, uid, &u)
		if err != nil {
			return err
		}
		u.ID, u.CreatedAt = m.ID, m.CreatedAt

		for _, c := range commitments {
			if c == "" || slices.Contains(u.Commitments, c) {
				continue
			}
			u.Commitments = append(u.Commitments, c)
			added++
		}
		if added == 0 {
			return nil
		}
		return s.putUser(ctx, tx, &u)
	})
	if err != nil {
		return 0, fmt.Errorf("append commitments for %s: %w", uid, err)
	}
	return added, nil
}

// RecentCommitments returns up to limit of the user's most recently
// added commitments, newest first.
func (s *Store) RecentCommitments(ctx context.Context, uid string, limit int) ([]string, error) {
	u, err := s.GetUser(ctx, uid)
	if err != nil {
		return nil, err
	}
	out := slices.Clone(u.Commitments)
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Coach is a coach record. Spec is nil for coaches created before
// structured specs; Legacy then holds the free-form definition.
type Coach struct {
	ID      string                  `json:"id"`
	Name    string                  `json:"name"`
	Spec    *coach.Spec             `json:"spec,omitempty"`
	Legacy  *coach.LegacyDefinition `json:"legacy,omitempty"`
	OwnerID string                  `json:"owner_id,omitempty"`
}

// GetCoach loads a coach.
func (s *Store) GetCoach(ctx context.Context, id string) (*Coach, error) {
	var c Coach
	m, err := s.get(ctx, s.db, Coaches, id, &c)
	if err != nil {
		return nil, err
	}
	c.ID = m.ID
	return &c, nil
}

// PutCoach creates or replaces a coach.
func (s *Store) PutCoach(ctx context.Context, c *Coach) error {
	if c.ID == "" {
		c.ID = newID()
	}
	now := s.now()
	created := now
	var existing Coach
	if m, err := s.get(ctx, s.db, Coaches, c.ID, &existing); err == nil {
		created = m.CreatedAt
	}
	return s.put(ctx, s.db, Coaches, meta{ID: c.ID, OwnerID: c.OwnerID, Status: StatusActive, CreatedAt: created, UpdatedAt: now}, c)
}

// Session is one chat session between a user and a coach.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CoachID   string    `json:"coach_id"`
	Summary   string    `json:"summary,omitempty"`
	Turns     int       `json:"turns"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// GetSession loads a session.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	m, err := s.get(ctx, s.db, Sessions, id, &sess)
	if err != nil {
		return nil, err
	}
	sess.ID, sess.CreatedAt, sess.UpdatedAt = m.ID, m.CreatedAt, m.UpdatedAt
	return &sess, nil
}

// TouchSession records a turn on a session, creating it if needed.
func (s *Store) TouchSession(ctx context.Context, id, uid, coachID string) error {
	return s.updateSession(ctx, id, uid, func(sess *Session) {
		if coachID != "" {
			sess.CoachID = coachID
		}
		sess.Turns++
	})
}

// UpsertSessionSummary stores the latest summary on a session, creating
// the session if needed.
func (s *Store) UpsertSessionSummary(ctx context.Context, id, uid, summary string) error {
	return s.updateSession(ctx, id, uid, func(sess *Session) {
		sess.Summary = summary
	})
}

func (s *Store) updateSession(ctx context.Context, id, uid string, mutate func(*Session)) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var sess Session
		now := s.now()
		created := now
		m, err := s.get(ctx, tx, Sessions, id, &sess)
		switch {
		case err == nil:
			created = m.CreatedAt
		case errors.Is(err, ErrNotFound):
			sess = Session{UserID: uid}
		default:
			return err
		}
		sess.ID = id
		mutate(&sess)
		return s.put(ctx, tx, Sessions, meta{ID: id, OwnerID: sess.UserID, Status: StatusOpen, CreatedAt: created, UpdatedAt: now}, &sess)
	})
}

// LatestSessionSummary returns the summary of the user's most recently
// updated session that has one, or "" if none does.
func (s *Store) LatestSessionSummary(ctx context.Context, uid string) (string, error) {
	var summary string
	err := s.query(ctx, Query{Collection: Sessions, OwnerID: uid, Limit: 20}, func(_ meta, body []byte) error {
		if summary != "" {
			return nil
		}
		var sess Session
		if err := json.Unmarshal(body, &sess); err != nil {
			return err
		}
		summary = sess.Summary
		return nil
	})
	return summary, err
}

// PlanRecord is a stored plan.
type PlanRecord struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	Status    string        `json:"status"`
	Plan      protocol.Plan `json:"plan"`
	CreatedAt time.Time     `json:"-"`
	UpdatedAt time.Time     `json:"-"`
}

// PutPlan creates or replaces a plan. New plans default to active.
func (s *Store) PutPlan(ctx context.Context, p *PlanRecord) error {
	if p.ID == "" {
		p.ID = newID()
	}
	if p.Status == "" {
		p.Status = StatusActive
	}
	p.Plan.ID = p.ID
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	return s.put(ctx, s.db, Plans, meta{ID: p.ID, OwnerID: p.UserID, Status: p.Status, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt}, p)
}

// GetPlan loads a plan.
func (s *Store) GetPlan(ctx context.Context, id string) (*PlanRecord, error) {
	var p PlanRecord
	m, err := s.get(ctx, s.db, Plans, id, &p)
	if err != nil {
		return nil, err
	}
	p.ID, p.CreatedAt, p.UpdatedAt = m.ID, m.CreatedAt, m.UpdatedAt
	return &p, nil
}

// ActivePlans returns the user's active plans, most recently updated first.
func (s *Store) ActivePlans(ctx context.Context, uid string) ([]PlanRecord, error) {
	var out []PlanRecord
	err := s.query(ctx, Query{Collection: Plans, OwnerID: uid, Status: StatusActive}, func(m meta, body []byte) error {
		var p PlanRecord
		if err := json.Unmarshal(body, &p); err != nil {
			return err
		}
		p.ID, p.CreatedAt, p.UpdatedAt = m.ID, m.CreatedAt, m.UpdatedAt
		out = append(out, p)
		return nil
	})
	return out, err
}

// Checkin is a short progress note.
type Checkin struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"-"`
}

// AddCheckin stores a check-in.
func (s *Store) AddCheckin(ctx context.Context, c *Checkin) error {
	if c.ID == "" {
		c.ID = newID()
	}
	c.CreatedAt = s.now()
	return s.put(ctx, s.db, Checkins, meta{ID: c.ID, OwnerID: c.UserID, Status: StatusDone, CreatedAt: c.CreatedAt, UpdatedAt: c.CreatedAt}, c)
}

// RecentCheckins returns up to limit check-ins, newest first.
func (s *Store) RecentCheckins(ctx context.Context, uid string, limit int) ([]Checkin, error) {
	var out []Checkin
	err := s.query(ctx, Query{Collection: Checkins, OwnerID: uid, Limit: limit}, func(m meta, body []byte) error {
		var c Checkin
		if err := json.Unmarshal(body, &c); err != nil {
			return err
		}
		c.ID, c.CreatedAt = m.ID, m.CreatedAt
		out = append(out, c)
		return nil
	})
	return out, err
}

// Review is a stored weekly review.
type Review struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"user_id"`
	WeekOfISO string                 `json:"week_of_iso"`
	Note      string                 `json:"note,omitempty"`
	Review    *protocol.WeeklyReview `json:"review,omitempty"`
	CreatedAt time.Time              `json:"-"`
}

// PutReview stores a weekly review.
func (s *Store) PutReview(ctx context.Context, r *Review) error {
	if r.ID == "" {
		r.ID = newID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	return s.put(ctx, s.db, Reviews, meta{ID: r.ID, OwnerID: r.UserID, Status: StatusDone, CreatedAt: r.CreatedAt, UpdatedAt: s.now()}, r)
}

// Reviews returns the user's reviews, newest first.
func (s *Store) Reviews(ctx context.Context, uid string, limit int) ([]Review, error) {
	var out []Review
	err := s.query(ctx, Query{Collection: Reviews, OwnerID: uid, Limit: limit}, func(m meta, body []byte) error {
		var r Review
		if err := json.Unmarshal(body, &r); err != nil {
			return err
		}
		r.ID, r.CreatedAt = m.ID, m.CreatedAt
		out = append(out, r)
		return nil
	})
	return out, err
}
