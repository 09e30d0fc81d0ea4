package provider

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/vendora/payments-service/internal/domain"
	"github.com/vendora/payments-service/pkg/meridianclient"
)

func TestMeridianStatusMapping(t *testing.T) {
	cases := []struct {
		raw  string
		want domain.TransactionStatus
	}{
		{"captured", domain.StatusCompleted},
		{"settled", domain.StatusCompleted},
		{"authorized", domain.StatusAuthorized},
		{"pending", domain.StatusPending},
		{"processing", domain.StatusPending},
		{"refunded", domain.StatusRefunded},
		{"declined", domain.StatusFailed},
		{"failed", domain.StatusFailed},
		{"expired", domain.StatusFailed},
		{"something_else", domain.StatusPending},
	}

	for _, tc := range cases {
		if got := meridianStatus(tc.raw); got != tc.want {
			t.Errorf("meridianStatus(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func meridianAPIError(status int, code, detail string) *meridianclient.ErrorResponse {
	e := &meridianclient.ErrorResponse{StatusCode: status}
	e.Errors = append(e.Errors, struct {
		Code   string `json:"code"`
		Detail string `json:"detail"`
	}{Code: code, Detail: detail})
	return e
}

func TestMeridianTranslateError(t *testing.T) {
	m := NewMeridianAdapter(nil)

	err := m.translateError(meridianclient.ErrTimeout)
	var transient *domain.ProviderTransientError
	if !errors.As(err, &transient) || !transient.Ambiguous {
		t.Fatalf("expected ambiguous transient error for a timeout, got %v", err)
	}

	err = m.translateError(meridianAPIError(http.StatusUnprocessableEntity, "card_expired", "card is expired"))
	var declined *domain.ProviderDeclinedError
	if !errors.As(err, &declined) {
		t.Fatalf("expected decline, got %T: %v", err, err)
	}
	if declined.Code != "card_expired" || declined.Reason != "card is expired" {
		t.Errorf("decline = (%q, %q), want (card_expired, card is expired)", declined.Code, declined.Reason)
	}

	err = m.translateError(meridianAPIError(http.StatusBadGateway, "gateway_error", "upstream unavailable"))
	transient = nil
	if !errors.As(err, &transient) {
		t.Fatalf("expected transient error for a 5xx, got %T: %v", err, err)
	}
	if transient.Ambiguous {
		t.Error("a structured 5xx means the charge was not applied, not an unknown outcome")
	}
}

func TestMeridianDecodeWebhook(t *testing.T) {
	m := NewMeridianAdapter(nil)
	payload := []byte(`{
		"id": "wh_001",
		"type": "payment.captured",
		"payment_id": "mp_42",
		"state": "captured",
		"occurred_at": "2026-04-01T09:00:00Z"
	}`)

	event, err := m.DecodeWebhook(payload)
	if err != nil {
		t.Fatalf("DecodeWebhook failed: %v", err)
	}
	if event.Provider != domain.ProviderMeridian {
		t.Errorf("provider = %q, want meridian", event.Provider)
	}
	if event.ProviderEventID != "wh_001" || event.ProviderPaymentID != "mp_42" {
		t.Errorf("ids = (%q, %q), want (wh_001, mp_42)", event.ProviderEventID, event.ProviderPaymentID)
	}
	if event.Status != domain.StatusCompleted {
		t.Errorf("status = %q, want completed", event.Status)
	}
}

func TestMeridianDecodeWebhook_Invalid(t *testing.T) {
	m := NewMeridianAdapter(nil)

	if _, err := m.DecodeWebhook([]byte("{broken")); err == nil {
		t.Error("expected an error for malformed json")
	}
	if _, err := m.DecodeWebhook([]byte(`{"type":"payment.captured","payment_id":"mp_42"}`)); err == nil {
		t.Error("expected an error when the event id is missing")
	}
}

func TestMeridianChargeMoto_RequiresSessionToken(t *testing.T) {
	m := NewMeridianAdapter(nil)

	_, err := m.ChargeMoto(context.Background(), "key-1", domain.CreatePaymentParams{
		Provider:    domain.ProviderMeridian,
		GrossAmount: 2500,
		Currency:    "EUR",
	})

	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %T: %v", err, err)
	}
}
