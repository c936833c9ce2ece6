// Package payments consumes payment-provider webhooks and credits pack
// purchases to the ledger. Replay protection is durable: the idempotency
// key lives in the database, inserted in the same transaction as the
// grant. The in-memory set in front of it is a fast path only and may be
// lost on restart without affecting correctness.
package payments

import (
	"context"
	"sync"

	"video-orchestrator/core/models"
	"video-orchestrator/core/monitoring"
	"video-orchestrator/core/tuning"
)

// seenLimit bounds the fast-path replay set.
const seenLimit = 1000

// EventApplier is the durable side of webhook processing.
type EventApplier interface {
	ApplyEvent(ctx context.Context, eventID, userID string, packQuantity, credits int) (granted int, applied bool, err error)
}

// WebhookInput is one delivery from the payment provider
type WebhookInput struct {
	EventID      string `json:"eventId"`
	UserID       string `json:"userId"`
	PackQuantity int    `json:"packQuantity"`
}

// WebhookResult reports the grant outcome
type WebhookResult struct {
	CreditsGranted int  `json:"creditsGranted"`
	Applied        bool `json:"applied"`
}

// Service processes webhook deliveries idempotently by event id
type Service struct {
	repo EventApplier
	tun  *tuning.Tuning

	mu    sync.Mutex
	seen  map[string]int
	order []string
}

// NewService creates a webhook service.
func NewService(repo EventApplier, tun *tuning.Tuning) *Service {
	return &Service{
		repo: repo,
		tun:  tun,
		seen: make(map[string]int),
	}
}

// Process credits packQuantity × credits-per-pack exactly once per event
// id. A replayed delivery returns the originally granted amount with
// Applied=false.
func (s *Service) Process(ctx context.Context, in WebhookInput) (WebhookResult, error) {
	if in.EventID == "" {
		return WebhookResult{}, &models.ValidationError{Field: "eventId", Msg: "required"}
	}
	if in.UserID == "" {
		return WebhookResult{}, &models.ValidationError{Field: "userId", Msg: "required"}
	}
	if in.PackQuantity <= 0 {
		return WebhookResult{}, &models.ValidationError{Field: "packQuantity", Msg: "must be positive"}
	}

	if granted, ok := s.recall(in.EventID); ok {
		monitoring.WebhookReplays.Inc()
		return WebhookResult{CreditsGranted: granted, Applied: false}, nil
	}

	credits := in.PackQuantity * s.tun.Credits.CreditsPerPack
	granted, applied, err := s.repo.ApplyEvent(ctx, in.EventID, in.UserID, in.PackQuantity, credits)
	if err != nil {
		return WebhookResult{}, err
	}
	if !applied {
		monitoring.WebhookReplays.Inc()
	}
	s.remember(in.EventID, granted)
	return WebhookResult{CreditsGranted: granted, Applied: applied}, nil
}

func (s *Service) recall(eventID string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	granted, ok := s.seen[eventID]
	return granted, ok
}

func (s *Service) remember(eventID string, granted int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[eventID]; ok {
		return
	}
	s.seen[eventID] = granted
	s.order = append(s.order, eventID)
	if len(s.order) > seenLimit {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.seen, oldest)
	}
}
