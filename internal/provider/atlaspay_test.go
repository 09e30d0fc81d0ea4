package provider

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/vendora/payments-service/internal/domain"
	"github.com/vendora/payments-service/pkg/atlasclient"
)

func TestAtlasStatusMapping(t *testing.T) {
	cases := []struct {
		raw  string
		want domain.TransactionStatus
	}{
		{"succeeded", domain.StatusCompleted},
		{"authorized", domain.StatusAuthorized},
		{"pending", domain.StatusPending},
		{"requires_action", domain.StatusPending},
		{"refunded", domain.StatusRefunded},
		{"declined", domain.StatusFailed},
		{"failed", domain.StatusFailed},
		{"some_new_state", domain.StatusPending},
	}

	for _, tc := range cases {
		if got := atlasStatus(tc.raw); got != tc.want {
			t.Errorf("atlasStatus(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestAtlasTranslateError_Timeout(t *testing.T) {
	a := NewAtlasAdapter(nil)

	err := a.translateError(atlasclient.ErrTimeout)

	var transient *domain.ProviderTransientError
	if !errors.As(err, &transient) {
		t.Fatalf("expected transient error, got %T: %v", err, err)
	}
	if !transient.Ambiguous {
		t.Error("a timed-out charge has an unknown outcome and must be marked ambiguous")
	}
	if transient.Provider != domain.ProviderAtlasPay {
		t.Errorf("provider = %q, want atlaspay", transient.Provider)
	}
}

func TestAtlasTranslateError_Decline(t *testing.T) {
	a := NewAtlasAdapter(nil)

	err := a.translateError(&atlasclient.APIError{
		StatusCode: http.StatusPaymentRequired,
		Code:       "insufficient_funds",
		Message:    "card has insufficient funds",
	})

	var declined *domain.ProviderDeclinedError
	if !errors.As(err, &declined) {
		t.Fatalf("expected decline, got %T: %v", err, err)
	}
	if declined.Code != "insufficient_funds" {
		t.Errorf("decline code = %q, want insufficient_funds", declined.Code)
	}
}

func TestAtlasTranslateError_ServerErrorIsTransientNotAmbiguous(t *testing.T) {
	a := NewAtlasAdapter(nil)

	err := a.translateError(&atlasclient.APIError{
		StatusCode: http.StatusInternalServerError,
		Code:       "internal",
		Message:    "upstream failure",
	})

	var transient *domain.ProviderTransientError
	if !errors.As(err, &transient) {
		t.Fatalf("expected transient error, got %T: %v", err, err)
	}
	if transient.Ambiguous {
		t.Error("a structured 5xx means the charge was not applied, not an unknown outcome")
	}
}

func TestAtlasDecodeWebhook(t *testing.T) {
	a := NewAtlasAdapter(nil)
	payload := []byte(`{
		"event_id": "evt_123",
		"event_type": "payment.succeeded",
		"data": {"payment_id": "pay_456", "status": "succeeded"},
		"created_at": "2026-03-10T14:30:00Z"
	}`)

	event, err := a.DecodeWebhook(payload)
	if err != nil {
		t.Fatalf("DecodeWebhook failed: %v", err)
	}

	if event.Provider != domain.ProviderAtlasPay {
		t.Errorf("provider = %q, want atlaspay", event.Provider)
	}
	if event.ProviderEventID != "evt_123" {
		t.Errorf("event id = %q, want evt_123", event.ProviderEventID)
	}
	if event.ProviderPaymentID != "pay_456" {
		t.Errorf("payment id = %q, want pay_456", event.ProviderPaymentID)
	}
	if event.Status != domain.StatusCompleted {
		t.Errorf("status = %q, want completed", event.Status)
	}
	want := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
	if !event.OccurredAt.Equal(want) {
		t.Errorf("occurred at = %v, want %v", event.OccurredAt, want)
	}
}

func TestAtlasDecodeWebhook_DeclineCarriesFailureFields(t *testing.T) {
	a := NewAtlasAdapter(nil)
	payload := []byte(`{
		"event_id": "evt_789",
		"event_type": "payment.failed",
		"data": {"payment_id": "pay_456", "status": "declined", "decline_code": "do_not_honor", "message": "issuer declined"},
		"created_at": "2026-03-10T14:31:00Z"
	}`)

	event, err := a.DecodeWebhook(payload)
	if err != nil {
		t.Fatalf("DecodeWebhook failed: %v", err)
	}
	if event.Status != domain.StatusFailed {
		t.Errorf("status = %q, want failed", event.Status)
	}
	if event.FailureCode != "do_not_honor" || event.FailureReason != "issuer declined" {
		t.Errorf("failure = (%q, %q), want (do_not_honor, issuer declined)", event.FailureCode, event.FailureReason)
	}
}

func TestAtlasDecodeWebhook_Invalid(t *testing.T) {
	a := NewAtlasAdapter(nil)

	if _, err := a.DecodeWebhook([]byte("not json")); err == nil {
		t.Error("expected an error for malformed json")
	}
	if _, err := a.DecodeWebhook([]byte(`{"event_type":"payment.succeeded"}`)); err == nil {
		t.Error("expected an error when event_id is missing")
	}
}

func TestAtlasCharge_RequiresCardToken(t *testing.T) {
	a := NewAtlasAdapter(nil)

	_, err := a.Charge(context.Background(), "key-1", domain.CreatePaymentParams{
		Provider:    domain.ProviderAtlasPay,
		GrossAmount: 1000,
		Currency:    "USD",
	})

	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %T: %v", err, err)
	}
}
