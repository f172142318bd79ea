package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// PenaltyKind distinguishes permanent bans from expiring timeouts.
type PenaltyKind string

const (
	PenaltyBan     PenaltyKind = "ban"
	PenaltyTimeout PenaltyKind = "timeout"
)

// Penalty is an active chat moderation record against a user.
type Penalty struct {
	ID        string
	UserID    string
	Kind      PenaltyKind
	Until     *time.Time // nil for permanent bans
	CreatedBy string
	CreatedAt time.Time
}

// Expired reports whether a timeout has run out at the given instant. Bans
// never expire; a timeout without an expiry is treated as already over.
func (p *Penalty) Expired(now time.Time) bool {
	if p.Kind != PenaltyTimeout {
		return false
	}
	return p.Until == nil || !p.Until.After(now)
}

// ReplacePenalty deletes every record for the penalty's subject and inserts
// the new one in a single transaction, so at most one record per user exists.
func (s *Store) ReplacePenalty(ctx context.Context, penalty Penalty) (err error) {
	if penalty.ID == "" {
		penalty.ID = uuid.NewString()
	}
	if penalty.CreatedAt.IsZero() {
		penalty.CreatedAt = time.Now()
	}
	var until sql.NullInt64
	if penalty.Until != nil {
		until = sql.NullInt64{Int64: penalty.Until.UnixMilli(), Valid: true}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `DELETE FROM chat_penalties WHERE user_id = ?`, penalty.UserID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO chat_penalties(id, user_id, kind, until, created_by, created_at) VALUES(?, ?, ?, ?, ?, ?)`,
		penalty.ID, penalty.UserID, string(penalty.Kind), until, penalty.CreatedBy, penalty.CreatedAt.UnixMilli()); err != nil {
		return err
	}
	return tx.Commit()
}

// ActivePenalty returns the record for a user, preferring a ban over a
// timeout, or nil when the user has none. Expired timeouts are returned as is;
// callers decide whether to collect them.
func (s *Store) ActivePenalty(ctx context.Context, userID string) (*Penalty, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, kind, until, created_by, created_at
		FROM chat_penalties
		WHERE user_id = ?
		ORDER BY CASE kind WHEN 'ban' THEN 0 ELSE 1 END, created_at DESC
		LIMIT 1
	`, userID)
	penalty, err := scanPenalty(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return penalty, err
}

// DeletePenalty removes a single record by id.
func (s *Store) DeletePenalty(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chat_penalties WHERE id = ?`, id)
	return err
}

// DeletePenalties removes every record for a user and reports how many were removed.
func (s *Store) DeletePenalties(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_penalties WHERE user_id = ?`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListPenalties returns all records, newest first.
func (s *Store) ListPenalties(ctx context.Context) ([]Penalty, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, kind, until, created_by, created_at
		FROM chat_penalties
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var penalties []Penalty
	for rows.Next() {
		penalty, err := scanPenalty(rows)
		if err != nil {
			return nil, err
		}
		penalties = append(penalties, *penalty)
	}
	return penalties, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPenalty(row rowScanner) (*Penalty, error) {
	var penalty Penalty
	var kind string
	var until sql.NullInt64
	var createdAt int64
	if err := row.Scan(&penalty.ID, &penalty.UserID, &kind, &until, &penalty.CreatedBy, &createdAt); err != nil {
		return nil, err
	}
	penalty.Kind = PenaltyKind(kind)
	if until.Valid {
		t := time.UnixMilli(until.Int64)
		penalty.Until = &t
	}
	penalty.CreatedAt = time.UnixMilli(createdAt)
	return &penalty, nil
}
