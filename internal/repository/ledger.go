package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/kobiri-app/kobiri-backend/internal/domain"
)

const ledgerColumns = `id, tontine_id, session_id, kind, amount, payment_id, passage_id,
	member_id, created_at`

type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Create appends an entry inside tx. The partial unique index on payment_id
// rejects a second contribution entry for the same payment.
func (r *LedgerRepository) Create(ctx context.Context, tx *sql.Tx, e *domain.LedgerEntry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (
			id, tontine_id, session_id, kind, amount, payment_id, passage_id, member_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.TontineID, e.SessionID, e.Kind, e.Amount, e.PaymentID, e.PassageID, e.MemberID, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

// SessionBalance is the signed sum of all entries for a session:
// contributions and penalties in, payouts out.
func (r *LedgerRepository) SessionBalance(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	return sessionBalance(ctx, r.db, sessionID)
}

// SessionBalanceTx reads the balance inside tx, after the session row lock
// has been taken.
func (r *LedgerRepository) SessionBalanceTx(ctx context.Context, tx *sql.Tx, sessionID uuid.UUID) (int64, error) {
	return sessionBalance(ctx, tx, sessionID)
}

func sessionBalance(ctx context.Context, q querier, sessionID uuid.UUID) (int64, error) {
	var sum int64
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE session_id = $1`,
		sessionID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sessionBalance: %w", err)
	}
	return sum, nil
}

// MemberContributionsTx sums one member's posted contribution entries for a
// session inside tx, after the session row lock has been taken. The
// over-collection re-check at confirm time reads through this.
func (r *LedgerRepository) MemberContributionsTx(ctx context.Context, tx *sql.Tx, sessionID, memberID uuid.UUID) (int64, error) {
	var sum int64
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM ledger_entries
		WHERE session_id = $1 AND member_id = $2 AND kind = 'contribution'`,
		sessionID, memberID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("MemberContributionsTx: %w", err)
	}
	return sum, nil
}

// SessionContributions is the received total: confirmed contribution
// entries only, penalties and payouts excluded.
func (r *LedgerRepository) SessionContributions(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	var sum int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM ledger_entries
		WHERE session_id = $1 AND kind = 'contribution'`,
		sessionID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("SessionContributions: %w", err)
	}
	return sum, nil
}

// ContributionsByMember breaks a session's confirmed contributions down per
// member for obligation statistics.
func (r *LedgerRepository) ContributionsByMember(ctx context.Context, sessionID uuid.UUID) (map[uuid.UUID]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT member_id, COALESCE(SUM(amount), 0) FROM ledger_entries
		WHERE session_id = $1 AND kind = 'contribution' AND member_id IS NOT NULL
		GROUP BY member_id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("ContributionsByMember: %w", err)
	}
	defer rows.Close()

	sums := make(map[uuid.UUID]int64)
	for rows.Next() {
		var memberID uuid.UUID
		var sum int64
		if err := rows.Scan(&memberID, &sum); err != nil {
			return nil, fmt.Errorf("ContributionsByMember: scan: %w", err)
		}
		sums[memberID] = sum
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ContributionsByMember: rows: %w", err)
	}
	return sums, nil
}

func (r *LedgerRepository) GetBySession(ctx context.Context, sessionID uuid.UUID) ([]domain.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE session_id = $1 ORDER BY created_at`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("GetBySession: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("GetBySession: scan: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetBySession: rows: %w", err)
	}
	return entries, nil
}

func (r *LedgerRepository) GetByTontine(ctx context.Context, tontineID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_entries WHERE tontine_id = $1`, tontineID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("GetByTontine: count: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE tontine_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		tontineID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("GetByTontine: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("GetByTontine: scan: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("GetByTontine: rows: %w", err)
	}
	return entries, total, nil
}

func scanLedgerEntry(s scanner) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	err := s.Scan(
		&e.ID, &e.TontineID, &e.SessionID, &e.Kind, &e.Amount,
		&e.PaymentID, &e.PassageID, &e.MemberID, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
