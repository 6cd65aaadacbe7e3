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

const memberColumns = `id, tontine_id, user_id, display_name, status, joined_at, left_at`

type MemberRepository struct {
	db *sql.DB
}

func NewMemberRepository(db *sql.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

func (r *MemberRepository) Create(ctx context.Context, m *domain.Member) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO members (id, tontine_id, user_id, display_name, status, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.TontineID, m.UserID, m.DisplayName, m.Status, m.JoinedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("Create: %w", domain.ErrMemberExists)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *MemberRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Member, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE id = $1`, id,
	)
	m, err := scanMember(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return m, nil
}

func (r *MemberRepository) GetActiveByTontine(ctx context.Context, tontineID uuid.UUID) ([]domain.Member, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM members
		WHERE tontine_id = $1 AND status = 'active' ORDER BY joined_at, id`,
		tontineID,
	)
	if err != nil {
		return nil, fmt.Errorf("GetActiveByTontine: %w", err)
	}
	defer rows.Close()

	var members []domain.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("GetActiveByTontine: scan: %w", err)
		}
		members = append(members, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetActiveByTontine: rows: %w", err)
	}
	return members, nil
}

// MarkLeft transitions an active member to left or removed. Ledger entries
// the member produced are untouched.
func (r *MemberRepository) MarkLeft(ctx context.Context, id uuid.UUID, status domain.MemberStatus, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE members SET status = $1, left_at = $2 WHERE id = $3 AND status = 'active'`,
		status, at, id,
	)
	if err != nil {
		return false, fmt.Errorf("MarkLeft: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("MarkLeft: rows affected: %w", err)
	}
	return rows == 1, nil
}

func scanMember(s scanner) (*domain.Member, error) {
	var m domain.Member
	err := s.Scan(&m.ID, &m.TontineID, &m.UserID, &m.DisplayName, &m.Status, &m.JoinedAt, &m.LeftAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
