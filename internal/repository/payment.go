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

const paymentColumns = `id, session_id, member_id, tontine_id, amount, method, status,
	idempotency_key, external_ref, phone_number, proof_url, proof_description,
	validated_by_id, failure_reason, created_at, updated_at, resolved_at`

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, tx *sql.Tx, p *domain.Payment) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO payments (
			id, session_id, member_id, tontine_id, amount, method, status,
			idempotency_key, external_ref, phone_number, proof_url, proof_description,
			validated_by_id, failure_reason, created_at, updated_at, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		p.ID, p.SessionID, p.MemberID, p.TontineID, p.Amount, p.Method, p.Status,
		p.IdempotencyKey, p.ExternalRef, p.PhoneNumber, p.ProofURL, p.ProofDescription,
		p.ValidatedByID, p.FailureReason, p.CreatedAt, p.UpdatedAt, p.ResolvedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("Create: %w", domain.ErrDuplicateIdempotencyKey)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id,
	)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return p, nil
}

func (r *PaymentRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE idempotency_key = $1`, key,
	)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByIdempotencyKey: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByIdempotencyKey: %w", err)
	}
	return p, nil
}

// GetByProviderRef resolves a gateway callback to its payment.
func (r *PaymentRepository) GetByProviderRef(ctx context.Context, method domain.PaymentMethod, externalRef string) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE method = $1 AND external_ref = $2`,
		method, externalRef,
	)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByProviderRef: %w", domain.ErrUnknownReference)
		}
		return nil, fmt.Errorf("GetByProviderRef: %w", err)
	}
	return p, nil
}

// CommittedSumForMember is what a member has committed to a session:
// confirmed plus still-pending payments. Both count toward the
// over-collection cap so two in-flight attempts cannot reserve past it.
func (r *PaymentRepository) CommittedSumForMember(ctx context.Context, sessionID, memberID uuid.UUID) (int64, error) {
	var sum int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM payments
		WHERE session_id = $1 AND member_id = $2 AND status IN ('pending', 'confirmed')`,
		sessionID, memberID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("CommittedSumForMember: %w", err)
	}
	return sum, nil
}

// CASResolve moves a pending payment into a terminal status inside tx.
// Exactly one caller wins; everyone else sees false and must re-read.
func (r *PaymentRepository) CASResolve(ctx context.Context, tx *sql.Tx, id uuid.UUID, to domain.PaymentStatus, validatedBy *uuid.UUID, failureReason *string, at time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE payments SET status = $1, validated_by_id = $2, failure_reason = $3,
			resolved_at = $4, updated_at = now()
		WHERE id = $5 AND status = 'pending'`,
		to, validatedBy, failureReason, at, id,
	)
	if err != nil {
		return false, fmt.Errorf("CASResolve: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("CASResolve: rows affected: %w", err)
	}
	return rows == 1, nil
}

func scanPayment(s scanner) (*domain.Payment, error) {
	var p domain.Payment
	err := s.Scan(
		&p.ID, &p.SessionID, &p.MemberID, &p.TontineID, &p.Amount, &p.Method, &p.Status,
		&p.IdempotencyKey, &p.ExternalRef, &p.PhoneNumber, &p.ProofURL, &p.ProofDescription,
		&p.ValidatedByID, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt, &p.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
