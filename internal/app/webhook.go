/**
 * @description
 * Webhook ingestion: the asynchronous path by which provider callbacks settle
 * pending transactions. Deliveries arrive at-least-once and out of order, so
 * ingestion deduplicates on the provider's event id and validates every
 * transition against the state machine before applying it.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/vendora/payments-service/internal/domain"
	"github.com/vendora/payments-service/internal/store"
)

// A conditional status write can lose to a concurrent instance; the transition
// is re-validated against the fresh row and re-applied up to this many times.
const maxTransitionAttempts = 3

// WebhookIngestor applies verified provider webhook events to the ledger.
// Signature verification happens before this layer, in the API handler.
type WebhookIngestor struct {
	ledger *Service
}

// NewWebhookIngestor creates an ingestor bound to the ledger.
func NewWebhookIngestor(ledger *Service) *WebhookIngestor {
	return &WebhookIngestor{ledger: ledger}
}

// Ingest decodes and applies one webhook delivery. Duplicates, unknown
// payments, and illegal transitions all ack so the provider stops retrying;
// only infrastructure failures return an error.
func (w *WebhookIngestor) Ingest(ctx context.Context, providerName domain.Provider, payload []byte) (*domain.WebhookAck, error) {
	decoder, err := w.ledger.registry.WebhookDecoder(providerName)
	if err != nil {
		return nil, err
	}

	event, err := decoder.DecodeWebhook(payload)
	if err != nil {
		return nil, domain.NewValidationError("payload", "undecodable webhook payload: "+err.Error())
	}
	if event.ProviderEventID == "" {
		return nil, domain.NewValidationError("payload", "webhook event missing provider event id")
	}

	// Cheap pre-check; the insert below is the real atomic dedup gate.
	seen, err := w.ledger.repo.HasProviderEvent(ctx, event.Provider, event.ProviderEventID)
	if err != nil {
		return nil, err
	}
	if seen {
		return &domain.WebhookAck{Accepted: true, Duplicate: true}, nil
	}

	tx, err := w.ledger.repo.FindTransactionByProviderPaymentID(ctx, event.Provider, event.ProviderPaymentID)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			// Nothing to apply it to; ack so the provider stops retrying and
			// leave a trail in the logs for reconciliation.
			log.Printf("level=warn component=webhook msg=\"event references unknown payment\" provider=%s provider_event_id=%s provider_payment_id=%s",
				event.Provider, event.ProviderEventID, event.ProviderPaymentID)
			return &domain.WebhookAck{Accepted: true, Message: "unknown payment"}, nil
		}
		return nil, err
	}

	if event.Status == tx.Status {
		// Re-delivery of a state we already hold. Record the event id so the
		// next retry short-circuits, apply nothing.
		if _, err := w.recordEvent(ctx, tx, event, event.EventType); err != nil {
			return nil, err
		}
		return &domain.WebhookAck{Accepted: true, Duplicate: true}, nil
	}

	if !domain.CanTransition(tx.Status, event.Status) {
		// Out-of-order or contradictory delivery. Never applied silently: it
		// is logged loudly and kept on the audit trail as rejected.
		log.Printf("level=error component=webhook msg=\"illegal transition rejected\" transaction_id=%s from=%s to=%s provider_event_id=%s",
			tx.ID, tx.Status, event.Status, event.ProviderEventID)
		if _, err := w.recordEvent(ctx, tx, event, domain.EventTypeWebhookRejected); err != nil {
			return nil, err
		}
		return &domain.WebhookAck{Accepted: true, Message: "illegal transition rejected"}, nil
	}

	// Record first: the unique (provider, provider_event_id) constraint makes
	// this the serialization point for concurrent deliveries of the same
	// event across instances.
	inserted, err := w.recordEvent(ctx, tx, event, event.EventType)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return &domain.WebhookAck{Accepted: true, Duplicate: true}, nil
	}

	if err := w.applyTransition(ctx, tx, event); err != nil {
		return nil, err
	}
	return &domain.WebhookAck{Accepted: true}, nil
}

func (w *WebhookIngestor) recordEvent(ctx context.Context, tx *domain.PaymentTransaction, event *domain.ProviderWebhookEvent, eventType string) (bool, error) {
	eventID := event.ProviderEventID
	record := &domain.PaymentEvent{
		TransactionID:   tx.ID,
		EventType:       eventType,
		Status:          event.Status,
		Provider:        event.Provider,
		ProviderEventID: &eventID,
	}
	if event.FailureCode != "" || event.FailureReason != "" {
		record.Metadata = map[string]string{}
		if event.FailureCode != "" {
			record.Metadata["failure_code"] = event.FailureCode
		}
		if event.FailureReason != "" {
			record.Metadata["failure_reason"] = event.FailureReason
		}
	}
	return w.ledger.repo.RecordProviderEvent(ctx, record)
}

func (w *WebhookIngestor) applyTransition(ctx context.Context, tx *domain.PaymentTransaction, event *domain.ProviderWebhookEvent) error {
	params := store.UpdateTransactionStatusParams{Status: event.Status}
	switch event.Status {
	case domain.StatusCompleted:
		at := event.OccurredAt.UTC()
		params.CompletedAt = &at
	case domain.StatusFailed:
		if event.FailureCode != "" {
			code := event.FailureCode
			params.FailureCode = &code
		}
		if event.FailureReason != "" {
			reason := event.FailureReason
			params.FailureReason = &reason
		}
	}

	// The event row is already recorded, so losing the conditional write to a
	// concurrent instance must not silently drop a legal transition: any
	// redelivery would short-circuit as a duplicate. Re-read the fresh state,
	// re-validate, and re-apply.
	expected := tx.Status
	for attempt := 1; ; attempt++ {
		err := w.ledger.repo.UpdateTransactionStatus(ctx, tx.ID, expected, params)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrStaleTransactionState) {
			return err
		}
		if attempt >= maxTransitionAttempts {
			log.Printf("CRITICAL: transition to %s for transaction %s lost to concurrent writers after %d attempts; event %s recorded but not applied", event.Status, tx.ID, attempt, event.ProviderEventID)
			return fmt.Errorf("transaction %s: transition to %s not applied: %w", tx.ID, event.Status, domain.ErrPersistenceFailure)
		}
		fresh, ferr := w.ledger.repo.FindTransactionByID(ctx, tx.TenantID, tx.ID)
		if ferr != nil {
			return ferr
		}
		if fresh.Status == event.Status {
			// A concurrent delivery already applied this state.
			tx.Status = fresh.Status
			return nil
		}
		if !domain.CanTransition(fresh.Status, event.Status) {
			log.Printf("level=error component=webhook msg=\"transition illegal after concurrent move\" transaction_id=%s from=%s to=%s provider_event_id=%s",
				tx.ID, fresh.Status, event.Status, event.ProviderEventID)
			return nil
		}
		expected = fresh.Status
	}

	tx.Status = event.Status
	switch event.Status {
	case domain.StatusCompleted:
		tx.CompletedAt = params.CompletedAt
		return w.ledger.finalizeCompletion(ctx, tx)
	case domain.StatusFailed:
		tx.FailureCode = params.FailureCode
		tx.FailureReason = params.FailureReason
		w.ledger.publishPaymentFailed(ctx, tx)
	}
	return nil
}
