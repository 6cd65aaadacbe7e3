package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kobiri-app/kobiri-backend/internal/domain"
)

const tontineColumns = `id, name, code, type, frequency, contribution_amount, currency,
	rotation_policy, penalty_mode, penalty_amount, penalty_percent, grace_days,
	payout_amount, status, created_by_id, version, created_at, updated_at`

type TontineRepository struct {
	db *sql.DB
}

func NewTontineRepository(db *sql.DB) *TontineRepository {
	return &TontineRepository{db: db}
}

func (r *TontineRepository) Create(ctx context.Context, t *domain.Tontine) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tontines (
			id, name, code, type, frequency, contribution_amount, currency,
			rotation_policy, penalty_mode, penalty_amount, penalty_percent, grace_days,
			payout_amount, status, created_by_id, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		t.ID, t.Name, t.Code, t.Type, t.Frequency, t.ContributionAmount, t.Currency,
		t.RotationPolicy, t.PenaltyMode, t.PenaltyAmount, t.PenaltyPercent, t.GraceDays,
		t.PayoutAmount, t.Status, t.CreatedByID, t.Version, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *TontineRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Tontine, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+tontineColumns+` FROM tontines WHERE id = $1`, id,
	)
	t, err := scanTontine(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return t, nil
}

func (r *TontineRepository) GetByCode(ctx context.Context, code string) (*domain.Tontine, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+tontineColumns+` FROM tontines WHERE code = $1`, code,
	)
	t, err := scanTontine(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByCode: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByCode: %w", err)
	}
	return t, nil
}

// CASStatus moves a tontine between statuses only if it still holds the
// expected one. Returns false when another writer won.
func (r *TontineRepository) CASStatus(ctx context.Context, id uuid.UUID, from, to domain.TontineStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tontines SET status = $1, version = version + 1, updated_at = now()
		WHERE id = $2 AND status = $3`,
		to, id, from,
	)
	if err != nil {
		return false, fmt.Errorf("CASStatus: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("CASStatus: rows affected: %w", err)
	}
	return rows == 1, nil
}

func scanTontine(s scanner) (*domain.Tontine, error) {
	var t domain.Tontine
	err := s.Scan(
		&t.ID, &t.Name, &t.Code, &t.Type, &t.Frequency, &t.ContributionAmount, &t.Currency,
		&t.RotationPolicy, &t.PenaltyMode, &t.PenaltyAmount, &t.PenaltyPercent, &t.GraceDays,
		&t.PayoutAmount, &t.Status, &t.CreatedByID, &t.Version, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
