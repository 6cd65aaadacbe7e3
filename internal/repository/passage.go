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

const passageColumns = `id, tontine_id, member_id, rank, status, session_id,
	amount_paid, confirmed_at, version, created_at, updated_at`

type PassageRepository struct {
	db *sql.DB
}

func NewPassageRepository(db *sql.DB) *PassageRepository {
	return &PassageRepository{db: db}
}

// ReplaceOrder deletes the tontine's pending passages and inserts the new
// order in one transaction. Non-pending passages are never touched here;
// the service refuses regeneration while any exist.
func (r *PassageRepository) ReplaceOrder(ctx context.Context, tx *sql.Tx, tontineID uuid.UUID, passages []domain.Passage) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM passages WHERE tontine_id = $1 AND status = 'pending'`, tontineID,
	)
	if err != nil {
		return fmt.Errorf("ReplaceOrder: delete pending: %w", err)
	}

	for i := range passages {
		p := &passages[i]
		_, err := tx.ExecContext(ctx,
			`INSERT INTO passages (
				id, tontine_id, member_id, rank, status, session_id,
				amount_paid, version, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			p.ID, p.TontineID, p.MemberID, p.Rank, p.Status, p.SessionID,
			p.AmountPaid, p.Version, p.CreatedAt, p.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("ReplaceOrder: insert rank %d: %w", p.Rank, err)
		}
	}
	return nil
}

// ClearConfirmed removes a fully confirmed cycle's passages so a fresh
// order can take their ranks. Payout history stays in the ledger.
func (r *PassageRepository) ClearConfirmed(ctx context.Context, tx *sql.Tx, tontineID uuid.UUID) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM passages WHERE tontine_id = $1 AND status = 'confirmed'`, tontineID,
	)
	if err != nil {
		return fmt.Errorf("ClearConfirmed: %w", err)
	}
	return nil
}

func (r *PassageRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Passage, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+passageColumns+` FROM passages WHERE id = $1`, id,
	)
	p, err := scanPassage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return p, nil
}

func (r *PassageRepository) GetByTontine(ctx context.Context, tontineID uuid.UUID) ([]domain.Passage, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+passageColumns+` FROM passages WHERE tontine_id = $1 ORDER BY rank`,
		tontineID,
	)
	if err != nil {
		return nil, fmt.Errorf("GetByTontine: %w", err)
	}
	defer rows.Close()

	var passages []domain.Passage
	for rows.Next() {
		p, err := scanPassage(rows)
		if err != nil {
			return nil, fmt.Errorf("GetByTontine: scan: %w", err)
		}
		passages = append(passages, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetByTontine: rows: %w", err)
	}
	return passages, nil
}

// GetLowestPending is the FIFO head of the rotation order.
func (r *PassageRepository) GetLowestPending(ctx context.Context, tontineID uuid.UUID) (*domain.Passage, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+passageColumns+` FROM passages
		WHERE tontine_id = $1 AND status = 'pending' ORDER BY rank LIMIT 1`,
		tontineID,
	)
	p, err := scanPassage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetLowestPending: %w", domain.ErrNoPendingPassage)
		}
		return nil, fmt.Errorf("GetLowestPending: %w", err)
	}
	return p, nil
}

// CASActivate binds the passage to a session and moves pending → active.
// The partial unique index on active passages makes a second concurrent
// activation fail with a unique violation.
func (r *PassageRepository) CASActivate(ctx context.Context, id, sessionID uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE passages SET status = 'active', session_id = $1, version = version + 1, updated_at = now()
		WHERE id = $2 AND status = 'pending'`,
		sessionID, id,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return false, fmt.Errorf("CASActivate: %w", domain.ErrActivePassageExists)
		}
		return false, fmt.Errorf("CASActivate: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("CASActivate: rows affected: %w", err)
	}
	return rows == 1, nil
}

// CASPayOut moves active → paid_out inside the payout transaction.
func (r *PassageRepository) CASPayOut(ctx context.Context, tx *sql.Tx, id uuid.UUID, amountPaid int64) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE passages SET status = 'paid_out', amount_paid = $1, version = version + 1, updated_at = now()
		WHERE id = $2 AND status = 'active'`,
		amountPaid, id,
	)
	if err != nil {
		return false, fmt.Errorf("CASPayOut: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("CASPayOut: rows affected: %w", err)
	}
	return rows == 1, nil
}

// CASConfirm moves paid_out → confirmed.
func (r *PassageRepository) CASConfirm(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE passages SET status = 'confirmed', confirmed_at = $1, version = version + 1, updated_at = now()
		WHERE id = $2 AND status = 'paid_out'`,
		at, id,
	)
	if err != nil {
		return false, fmt.Errorf("CASConfirm: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("CASConfirm: rows affected: %w", err)
	}
	return rows == 1, nil
}

// CountByStatus returns total passages and how many are not yet confirmed.
func (r *PassageRepository) CountByStatus(ctx context.Context, tontineID uuid.UUID) (total, unconfirmed int, err error) {
	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE status <> 'confirmed')
		FROM passages WHERE tontine_id = $1`,
		tontineID,
	).Scan(&total, &unconfirmed)
	if err != nil {
		return 0, 0, fmt.Errorf("CountByStatus: %w", err)
	}
	return total, unconfirmed, nil
}

// HasNonPending reports whether any passage has left the pending state,
// which blocks order regeneration.
func (r *PassageRepository) HasNonPending(ctx context.Context, tontineID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM passages WHERE tontine_id = $1 AND status <> 'pending')`,
		tontineID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("HasNonPending: %w", err)
	}
	return exists, nil
}

// HasActive reports whether a member's turn is currently running.
func (r *PassageRepository) HasActive(ctx context.Context, tontineID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM passages WHERE tontine_id = $1 AND status = 'active')`,
		tontineID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("HasActive: %w", err)
	}
	return exists, nil
}

func (r *PassageRepository) HasAny(ctx context.Context, tontineID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM passages WHERE tontine_id = $1)`,
		tontineID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("HasAny: %w", err)
	}
	return exists, nil
}

func scanPassage(s scanner) (*domain.Passage, error) {
	var p domain.Passage
	err := s.Scan(
		&p.ID, &p.TontineID, &p.MemberID, &p.Rank, &p.Status, &p.SessionID,
		&p.AmountPaid, &p.ConfirmedAt, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
