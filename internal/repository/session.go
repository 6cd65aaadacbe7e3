package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kobiri-app/kobiri-backend/internal/domain"
)

const sessionColumns = `id, tontine_id, seq, period_start, period_end, status,
	expected_total, opened_at, closed_at, version, created_at`

type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (
			id, tontine_id, seq, period_start, period_end, status,
			expected_total, version, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.TontineID, s.Seq, s.PeriodStart, s.PeriodEnd, s.Status,
		s.ExpectedTotal, s.Version, s.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("Create: %w", domain.ErrInvalidState)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id,
	)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return s, nil
}

// GetOpenByTontine returns the tontine's open session, ErrNotFound if none.
func (r *SessionRepository) GetOpenByTontine(ctx context.Context, tontineID uuid.UUID) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE tontine_id = $1 AND status = 'open'`,
		tontineID,
	)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetOpenByTontine: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetOpenByTontine: %w", err)
	}
	return s, nil
}

func (r *SessionRepository) HasUnfinished(ctx context.Context, tontineID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM sessions WHERE tontine_id = $1 AND status <> 'closed')`,
		tontineID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("HasUnfinished: %w", err)
	}
	return exists, nil
}

func (r *SessionRepository) NextSeq(ctx context.Context, tontineID uuid.UUID) (int, error) {
	var next int
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM sessions WHERE tontine_id = $1`,
		tontineID,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("NextSeq: %w", err)
	}
	return next, nil
}

// GetForUpdate locks the session row for the duration of tx. Payout fund
// checks take this lock so concurrent payouts against the same session
// serialize.
func (r *SessionRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Session, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1 FOR UPDATE`, id,
	)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return s, nil
}

// CASOpen transitions scheduled → open; false when the session was not
// scheduled anymore.
func (r *SessionRepository) CASOpen(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return r.casStatus(ctx, id,
		`UPDATE sessions SET status = 'open', opened_at = $1, version = version + 1
		WHERE id = $2 AND status = 'scheduled'`, at, id)
}

// CASClose transitions open → closed inside tx, alongside the penalty
// entries posted for the same close.
func (r *SessionRepository) CASClose(ctx context.Context, tx *sql.Tx, id uuid.UUID, at time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET status = 'closed', closed_at = $1, version = version + 1
		WHERE id = $2 AND status = 'open'`, at, id)
	if err != nil {
		return false, fmt.Errorf("CASClose: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("CASClose: rows affected: %w", err)
	}
	return rows == 1, nil
}

func (r *SessionRepository) casStatus(ctx context.Context, id uuid.UUID, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("casStatus: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("casStatus: rows affected: %w", err)
	}
	return rows == 1, nil
}

func scanSession(s scanner) (*domain.Session, error) {
	var sess domain.Session
	err := s.Scan(
		&sess.ID, &sess.TontineID, &sess.Seq, &sess.PeriodStart, &sess.PeriodEnd, &sess.Status,
		&sess.ExpectedTotal, &sess.OpenedAt, &sess.ClosedAt, &sess.Version, &sess.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}
