package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"video-orchestrator/api/rest/middleware"
	"video-orchestrator/core/models"
	"video-orchestrator/core/tuning"
)

type stubCredits struct {
	balance   int
	lastCheck int
}

func (s *stubCredits) Balance(_ context.Context, _ string) (int, error) {
	return s.balance, nil
}

func (s *stubCredits) CheckCredits(_ context.Context, _ string, durationSeconds int) (models.CreditCheck, error) {
	s.lastCheck = durationSeconds
	return models.CreditCheck{Required: 10, Balance: s.balance, HasEnough: s.balance >= 10}, nil
}

func creditRequest(t *testing.T, h *CreditHandler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Authorization", "Bearer test")
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()
	middleware.Auth(http.HandlerFunc(h.GetCredits)).ServeHTTP(rec, req)
	return rec
}

func TestGetCreditsReturnsBalance(t *testing.T) {
	h := NewCreditHandler(&stubCredits{balance: 40}, nil, tuning.Default())

	rec := creditRequest(t, h, "/v1/credits")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["balance"] != float64(40) || body["userId"] != "u1" {
		t.Errorf("body = %v, want balance 40 for u1", body)
	}
}

func TestGetCreditsChecksAffordabilityByDuration(t *testing.T) {
	credits := &stubCredits{balance: 40}
	h := NewCreditHandler(credits, nil, tuning.Default())

	rec := creditRequest(t, h, "/v1/credits?duration=30")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if credits.lastCheck != 30 {
		t.Errorf("checked duration = %d, want 30", credits.lastCheck)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body["check"]; !ok {
		t.Errorf("body = %v, want an affordability check", body)
	}
}

func TestGetCreditsRejectsUnsupportedDuration(t *testing.T) {
	credits := &stubCredits{balance: 40}
	h := NewCreditHandler(credits, nil, tuning.Default())

	for _, target := range []string{"/v1/credits?duration=45", "/v1/credits?duration=abc"} {
		rec := creditRequest(t, h, target)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, rec.Code)
		}
	}
	if credits.lastCheck != 0 {
		t.Error("repository must not be queried for an invalid duration")
	}
}
