package domain

import "time"

// ProviderWebhookEvent is the normalized form of an asynchronous provider
// callback after signature verification and payload decoding. Each provider
// adapter produces this shape from its own wire format.
type ProviderWebhookEvent struct {
	Provider          Provider          `json:"provider"`
	ProviderEventID   string            `json:"provider_event_id"`
	ProviderPaymentID string            `json:"provider_payment_id"`
	EventType         string            `json:"event_type"`
	Status            TransactionStatus `json:"status"`
	FailureCode       string            `json:"failure_code,omitempty"`
	FailureReason     string            `json:"failure_reason,omitempty"`
	OccurredAt        time.Time         `json:"occurred_at"`
}

// WebhookAck is returned to the provider after ingestion. Providers retry on
// anything but success, so duplicates and unknown event types both ack.
type WebhookAck struct {
	Accepted  bool   `json:"accepted"`
	Duplicate bool   `json:"duplicate"`
	Message   string `json:"message,omitempty"`
}

// Internal event payloads published to the message broker for the
// notification collaborator.

// PaymentCompletedEvent is published when a transaction reaches completed.
type PaymentCompletedEvent struct {
	TenantID         string    `json:"tenant_id"`
	TransactionID    string    `json:"transaction_id"`
	GrossAmount      int64     `json:"gross_amount"`
	CommissionAmount int64     `json:"commission_amount"`
	NetAmount        int64     `json:"net_amount"`
	Currency         string    `json:"currency"`
	Timestamp        time.Time `json:"timestamp"`
}

// PaymentFailedEvent is published on terminal charge failure.
type PaymentFailedEvent struct {
	TenantID      string    `json:"tenant_id"`
	TransactionID string    `json:"transaction_id"`
	FailureCode   string    `json:"failure_code,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// ContractChargeFailedEvent is published when a scheduled contract charge
// fails terminally, for operator/customer follow-up.
type ContractChargeFailedEvent struct {
	TenantID   string    `json:"tenant_id"`
	ContractID string    `json:"contract_id"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
}
