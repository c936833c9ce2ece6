package repository

import (
	"context"
	"database/sql"
	"errors"

	"video-orchestrator/core/models"
)

// PaymentRepository handles payment-provider webhook deliveries with
// durable replay protection
type PaymentRepository struct {
	db *DB
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(db *DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// ApplyEvent grants the credits for one webhook delivery exactly once,
// keyed by the provider's event id. The idempotency-key insert and the
// balance grant share one transaction; a replayed event id returns the
// originally granted amount without re-crediting.
func (r *PaymentRepository) ApplyEvent(ctx context.Context, eventID, userID string, packQuantity, credits int) (granted int, applied bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback()

	var inserted string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO payment_events (event_id, user_id, pack_quantity, credits_granted)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING
		RETURNING event_id
	`, eventID, userID, packQuantity, credits).Scan(&inserted)
	if errors.Is(err, sql.ErrNoRows) {
		var recorded int
		if err := r.db.QueryRowContext(ctx,
			`SELECT credits_granted FROM payment_events WHERE event_id = $1`, eventID,
		).Scan(&recorded); err != nil {
			return 0, false, err
		}
		return recorded, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_accounts (user_id, balance, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET balance = credit_accounts.balance + EXCLUDED.balance, updated_at = NOW()
	`, userID, credits); err != nil {
		return 0, false, err
	}

	if err := tx.Commit(); err != nil {
		return 0, false, err
	}
	return credits, true, nil
}

// Event returns a processed webhook delivery, or nil when unknown.
func (r *PaymentRepository) Event(ctx context.Context, eventID string) (*models.PaymentEvent, error) {
	var ev models.PaymentEvent
	err := r.db.QueryRowContext(ctx, `
		SELECT event_id, user_id, pack_quantity, credits_granted, created_at
		FROM payment_events WHERE event_id = $1
	`, eventID).Scan(&ev.EventID, &ev.UserID, &ev.PackQuantity, &ev.CreditsGranted, &ev.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}
