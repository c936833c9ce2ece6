package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"video-orchestrator/core/models"
	"video-orchestrator/core/tuning"
)

// CreditRepository handles database operations for the credit ledger
type CreditRepository struct {
	db  *DB
	tun *tuning.Tuning
}

// NewCreditRepository creates a new credit repository
func NewCreditRepository(db *DB, tun *tuning.Tuning) *CreditRepository {
	return &CreditRepository{db: db, tun: tun}
}

// Balance returns the current balance for a user. Unknown users have
// balance zero.
func (r *CreditRepository) Balance(ctx context.Context, userID string) (int, error) {
	var balance int
	err := r.db.QueryRowContext(ctx,
		`SELECT balance FROM credit_accounts WHERE user_id = $1`, userID,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// CheckCredits is a pure read: whether the user can afford a video of the
// given duration, and by how much they fall short.
func (r *CreditRepository) CheckCredits(ctx context.Context, userID string, durationSeconds int) (models.CreditCheck, error) {
	required, err := r.tun.CostFor(durationSeconds)
	if err != nil {
		return models.CreditCheck{}, err
	}
	balance, err := r.Balance(ctx, userID)
	if err != nil {
		return models.CreditCheck{}, err
	}
	check := models.CreditCheck{
		Required: required,
		Balance:  balance,
	}
	if balance >= required {
		check.HasEnough = true
	} else {
		check.Shortfall = required - balance
	}
	return check, nil
}

// Deduct atomically decrements the balance. Fails closed with
// ErrInsufficientCredits when the balance would go negative.
func (r *CreditRepository) Deduct(ctx context.Context, userID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("deduct amount must be positive, got %d", amount)
	}
	var newBalance int
	err := r.db.QueryRowContext(ctx, `
		UPDATE credit_accounts
		SET balance = balance - $1, updated_at = NOW()
		WHERE user_id = $2 AND balance >= $1
		RETURNING balance
	`, amount, userID).Scan(&newBalance)
	if errors.Is(err, sql.ErrNoRows) {
		// Either no account row or not enough balance; both fail closed.
		return 0, models.ErrInsufficientCredits
	}
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

// Refund credits a failed or cancelled job back to the user, at most once
// per job id. The refund record insert and the balance increment happen in
// a single transaction; a concurrent refund for the same job loses the
// insert and observes Applied=false with the originally recorded amount.
func (r *CreditRepository) Refund(ctx context.Context, jobID, userID string, amount int, reason string) (models.RefundResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return models.RefundResult{}, err
	}
	defer tx.Rollback()

	var recordID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO refund_records (job_id, user_id, amount, reason)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_id) DO NOTHING
		RETURNING id
	`, jobID, userID, amount, reason).Scan(&recordID)
	if errors.Is(err, sql.ErrNoRows) {
		// Another path already claimed this job's refund.
		var recorded int
		if err := r.db.QueryRowContext(ctx,
			`SELECT amount FROM refund_records WHERE job_id = $1`, jobID,
		).Scan(&recorded); err != nil {
			return models.RefundResult{}, err
		}
		return models.RefundResult{Applied: false, Amount: recorded}, nil
	}
	if err != nil {
		return models.RefundResult{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_accounts (user_id, balance, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET balance = credit_accounts.balance + EXCLUDED.balance, updated_at = NOW()
	`, userID, amount); err != nil {
		return models.RefundResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.RefundResult{}, err
	}
	return models.RefundResult{Applied: true, Amount: amount}, nil
}

// Grant unconditionally adds credits (purchase top-ups).
func (r *CreditRepository) Grant(ctx context.Context, userID string, amount int) (int, error) {
	var newBalance int
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO credit_accounts (user_id, balance, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET balance = credit_accounts.balance + EXCLUDED.balance, updated_at = NOW()
		RETURNING balance
	`, userID, amount).Scan(&newBalance)
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

// RefundRecord returns the refund record for a job, or nil when none exists.
func (r *CreditRepository) RefundRecord(ctx context.Context, jobID string) (*models.RefundRecord, error) {
	var rec models.RefundRecord
	err := r.db.QueryRowContext(ctx, `
		SELECT id, job_id, user_id, amount, reason, created_at
		FROM refund_records WHERE job_id = $1
	`, jobID).Scan(&rec.ID, &rec.JobID, &rec.UserID, &rec.Amount, &rec.Reason, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
