package models

import "time"

// CreditAccount holds a user's spendable balance
type CreditAccount struct {
	UserID    string
	Balance   int
	UpdatedAt time.Time
}

// CreditCheck is the result of a pre-submission affordability check
type CreditCheck struct {
	HasEnough bool `json:"hasEnough"`
	Required  int  `json:"required"`
	Balance   int  `json:"balance"`
	Shortfall int  `json:"shortfall"`
}

// RefundRecord is the idempotency witness for a refund. At most one row
// exists per job id, enforced by a unique constraint.
type RefundRecord struct {
	ID        int64
	JobID     string
	UserID    string
	Amount    int
	Reason    string
	CreatedAt time.Time
}

// RefundResult reports whether a refund call actually mutated the balance.
// Applied is false when an earlier refund already claimed the job; Amount
// then carries the originally recorded amount.
type RefundResult struct {
	Applied bool `json:"applied"`
	Amount  int  `json:"amount"`
}

// PaymentEvent is one processed payment-provider webhook delivery,
// keyed by the provider's event id for replay protection.
type PaymentEvent struct {
	EventID        string
	UserID         string
	PackQuantity   int
	CreditsGranted int
	CreatedAt      time.Time
}
