/**
 * @description
 * This file contains the HTTP handlers for the payments-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application services, and writing the HTTP response. They act as
 * the bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/vendora/payments-service/internal/app"
	"github.com/vendora/payments-service/internal/domain"
	"github.com/vendora/payments-service/internal/store"
)

// PaymentHandlers holds the application services that handlers will use.
type PaymentHandlers struct {
	ledger    *app.Service
	contracts *app.ContractManager
	ingestor  *app.WebhookIngestor
	// Per-provider webhook signing secrets, keyed by provider name.
	webhookSecrets map[domain.Provider]string
}

// NewPaymentHandlers creates a new instance of PaymentHandlers.
func NewPaymentHandlers(ledger *app.Service, contracts *app.ContractManager, ingestor *app.WebhookIngestor, webhookSecrets map[domain.Provider]string) *PaymentHandlers {
	return &PaymentHandlers{
		ledger:         ledger,
		contracts:      contracts,
		ingestor:       ingestor,
		webhookSecrets: webhookSecrets,
	}
}

// createPaymentRequest is the JSON body accepted by the charge endpoints. The
// idempotency key may come from the Idempotency-Key header instead.
type createPaymentRequest struct {
	OrderID        *uuid.UUID `json:"order_id,omitempty"`
	Provider       string     `json:"provider"`
	GrossAmount    int64      `json:"gross_amount"`
	Currency       string     `json:"currency,omitempty"`
	CustomerID     *uuid.UUID `json:"customer_id,omitempty"`
	CardToken      *string    `json:"card_token,omitempty"`
	Description    string     `json:"description,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
}

type refundRequest struct {
	Amount *int64 `json:"amount,omitempty"`
}

type chargeContractRequest struct {
	GrossAmount    int64      `json:"gross_amount"`
	Currency       string     `json:"currency,omitempty"`
	OrderID        *uuid.UUID `json:"order_id,omitempty"`
	Description    string     `json:"description,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
}

// CreatePaymentHandler handles one-click charges against a vaulted token.
func (h *PaymentHandlers) CreatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	h.createPayment(w, r, false)
}

// CreateMotoPaymentHandler handles manual-entry (MOTO) charges.
func (h *PaymentHandlers) CreateMotoPaymentHandler(w http.ResponseWriter, r *http.Request) {
	h.createPayment(w, r, true)
}

func (h *PaymentHandlers) createPayment(w http.ResponseWriter, r *http.Request, moto bool) {
	tenantID, ok := GetTenantID(r.Context())
	if !ok {
		http.Error(w, "Could not get tenant ID from context", http.StatusInternalServerError)
		return
	}

	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=create_payment outcome=reject reason=invalid_json err=%v", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	idempotencyKey := resolveIdempotencyKey(r, req.IdempotencyKey)
	params := domain.CreatePaymentParams{
		OrderID:     req.OrderID,
		Provider:    domain.Provider(strings.ToLower(strings.TrimSpace(req.Provider))),
		GrossAmount: req.GrossAmount,
		Currency:    strings.ToUpper(strings.TrimSpace(req.Currency)),
		CustomerID:  req.CustomerID,
		CardToken:   req.CardToken,
		Description: req.Description,
	}

	var (
		result *domain.PaymentResult
		err    error
	)
	if moto {
		result, err = h.ledger.CreateMotoPayment(r.Context(), tenantID, params, idempotencyKey)
	} else {
		result, err = h.ledger.CreatePayment(r.Context(), tenantID, params, idempotencyKey)
	}
	if err != nil {
		h.handleServiceError(w, "create_payment", err)
		return
	}

	// An idempotency hit returns the prior result, not a second charge.
	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	h.writeJSON(w, status, result)
}

// GetPaymentHandler returns a transaction together with its audit trail.
func (h *PaymentHandlers) GetPaymentHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := GetTenantID(r.Context())
	if !ok {
		http.Error(w, "Could not get tenant ID from context", http.StatusInternalServerError)
		return
	}
	transactionID, err := uuid.Parse(chi.URLParam(r, "transactionID"))
	if err != nil {
		http.Error(w, "Invalid transaction ID", http.StatusBadRequest)
		return
	}

	tx, events, err := h.ledger.GetTransaction(r.Context(), tenantID, transactionID)
	if err != nil {
		h.handleServiceError(w, "get_payment", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"transaction": tx,
		"events":      events,
	})
}

// RefundPaymentHandler reverses a completed charge, fully or partially.
func (h *PaymentHandlers) RefundPaymentHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := GetTenantID(r.Context())
	if !ok {
		http.Error(w, "Could not get tenant ID from context", http.StatusInternalServerError)
		return
	}
	transactionID, err := uuid.Parse(chi.URLParam(r, "transactionID"))
	if err != nil {
		http.Error(w, "Invalid transaction ID", http.StatusBadRequest)
		return
	}

	var req refundRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	result, err := h.ledger.RefundTransaction(r.Context(), tenantID, transactionID, req.Amount)
	if err != nil {
		h.handleServiceError(w, "refund_payment", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

// VoidPaymentHandler cancels a transaction before settlement.
func (h *PaymentHandlers) VoidPaymentHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := GetTenantID(r.Context())
	if !ok {
		http.Error(w, "Could not get tenant ID from context", http.StatusInternalServerError)
		return
	}
	transactionID, err := uuid.Parse(chi.URLParam(r, "transactionID"))
	if err != nil {
		http.Error(w, "Invalid transaction ID", http.StatusBadRequest)
		return
	}

	tx, err := h.ledger.VoidTransaction(r.Context(), tenantID, transactionID)
	if err != nil {
		h.handleServiceError(w, "void_payment", err)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

// EstablishContractHandler creates a recurring contract from a vaulted token.
func (h *PaymentHandlers) EstablishContractHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := GetTenantID(r.Context())
	if !ok {
		http.Error(w, "Could not get tenant ID from context", http.StatusInternalServerError)
		return
	}

	var params domain.ContractParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	params.Provider = domain.Provider(strings.ToLower(strings.TrimSpace(string(params.Provider))))

	result, err := h.contracts.EstablishContract(r.Context(), tenantID, params)
	if err != nil {
		h.handleServiceError(w, "establish_contract", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

// GetContractHandler returns a contract by id.
func (h *PaymentHandlers) GetContractHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, contractID, ok := h.contractScope(w, r)
	if !ok {
		return
	}
	contract, err := h.contracts.GetContract(r.Context(), tenantID, contractID)
	if err != nil {
		h.handleServiceError(w, "get_contract", err)
		return
	}
	h.writeJSON(w, http.StatusOK, contract)
}

// ChargeContractHandler executes a merchant-initiated charge on a contract.
func (h *PaymentHandlers) ChargeContractHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, contractID, ok := h.contractScope(w, r)
	if !ok {
		return
	}

	var req chargeContractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	params := domain.RecurringChargeParams{
		GrossAmount: req.GrossAmount,
		Currency:    strings.ToUpper(strings.TrimSpace(req.Currency)),
		OrderID:     req.OrderID,
		Description: req.Description,
	}
	result, err := h.contracts.ChargeContract(r.Context(), tenantID, contractID, params, resolveIdempotencyKey(r, req.IdempotencyKey))
	if err != nil {
		h.handleServiceError(w, "charge_contract", err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	h.writeJSON(w, status, result)
}

// CancelContractHandler permanently stops a contract. Idempotent.
func (h *PaymentHandlers) CancelContractHandler(w http.ResponseWriter, r *http.Request) {
	h.transitionContract(w, r, "cancel_contract", h.contracts.CancelContract)
}

// PauseContractHandler suspends a contract's charging. Idempotent.
func (h *PaymentHandlers) PauseContractHandler(w http.ResponseWriter, r *http.Request) {
	h.transitionContract(w, r, "pause_contract", h.contracts.PauseContract)
}

// ResumeContractHandler reactivates a paused contract. Idempotent.
func (h *PaymentHandlers) ResumeContractHandler(w http.ResponseWriter, r *http.Request) {
	h.transitionContract(w, r, "resume_contract", h.contracts.ResumeContract)
}

// CommissionSummaryHandler returns the tenant's aggregate commission totals.
func (h *PaymentHandlers) CommissionSummaryHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := GetTenantID(r.Context())
	if !ok {
		http.Error(w, "Could not get tenant ID from context", http.StatusInternalServerError)
		return
	}
	summary, err := h.ledger.GetCommissionSummary(r.Context(), tenantID)
	if err != nil {
		h.handleServiceError(w, "commission_summary", err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// CommissionRateHandler returns the tenant's currently configured rate.
func (h *PaymentHandlers) CommissionRateHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := GetTenantID(r.Context())
	if !ok {
		http.Error(w, "Could not get tenant ID from context", http.StatusInternalServerError)
		return
	}
	rate, err := h.ledger.GetCommissionRate(r.Context(), tenantID)
	if err != nil {
		h.handleServiceError(w, "commission_rate", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]float64{"commission_rate": rate})
}

// CommissionEntriesHandler lists individual commission records for a window.
func (h *PaymentHandlers) CommissionEntriesHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := GetTenantID(r.Context())
	if !ok {
		http.Error(w, "Could not get tenant ID from context", http.StatusInternalServerError)
		return
	}

	from, err := parseTimeParam(r, "from", time.Now().UTC().AddDate(0, -1, 0))
	if err != nil {
		http.Error(w, "Invalid 'from' parameter, expected RFC3339", http.StatusBadRequest)
		return
	}
	to, err := parseTimeParam(r, "to", time.Now().UTC())
	if err != nil {
		http.Error(w, "Invalid 'to' parameter, expected RFC3339", http.StatusBadRequest)
		return
	}

	entries, err := h.ledger.ListCommissionEntries(r.Context(), tenantID, from, to)
	if err != nil {
		h.handleServiceError(w, "commission_entries", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// ProviderFeesHandler quotes a provider's own fees for an amount.
func (h *PaymentHandlers) ProviderFeesHandler(w http.ResponseWriter, r *http.Request) {
	providerName := domain.Provider(strings.ToLower(chi.URLParam(r, "provider")))
	if !providerName.Valid() {
		http.Error(w, "Unknown provider", http.StatusNotFound)
		return
	}

	amount, err := strconv.ParseInt(r.URL.Query().Get("amount"), 10, 64)
	if err != nil || amount <= 0 {
		http.Error(w, "Invalid 'amount' parameter", http.StatusBadRequest)
		return
	}
	currency := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("currency")))

	fees, err := h.ledger.QuoteProviderFees(r.Context(), providerName, amount, currency)
	if err != nil {
		h.handleServiceError(w, "provider_fees", err)
		return
	}
	h.writeJSON(w, http.StatusOK, fees)
}

func (h *PaymentHandlers) contractScope(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	tenantID, ok := GetTenantID(r.Context())
	if !ok {
		http.Error(w, "Could not get tenant ID from context", http.StatusInternalServerError)
		return uuid.Nil, uuid.Nil, false
	}
	contractID, err := uuid.Parse(chi.URLParam(r, "contractID"))
	if err != nil {
		http.Error(w, "Invalid contract ID", http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, contractID, true
}

func (h *PaymentHandlers) transitionContract(
	w http.ResponseWriter,
	r *http.Request,
	endpoint string,
	transition func(ctx context.Context, tenantID, contractID uuid.UUID) (*domain.RecurringContract, error),
) {
	tenantID, contractID, ok := h.contractScope(w, r)
	if !ok {
		return
	}
	contract, err := transition(r.Context(), tenantID, contractID)
	if err != nil {
		h.handleServiceError(w, endpoint, err)
		return
	}
	h.writeJSON(w, http.StatusOK, contract)
}

// handleServiceError maps the service failure taxonomy onto HTTP statuses.
func (h *PaymentHandlers) handleServiceError(w http.ResponseWriter, endpoint string, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		log.Printf("level=warn component=api endpoint=%s outcome=reject reason=validation err=%v", endpoint, err)
		h.writeError(w, http.StatusBadRequest, validationErr.Error())
		return
	}

	var rateLimited *app.RateLimitedError
	if errors.As(err, &rateLimited) {
		w.Header().Set("Retry-After", strconv.Itoa(rateLimited.RetryAfterSeconds))
		h.writeError(w, http.StatusTooManyRequests, rateLimited.Error())
		return
	}

	if declined, ok := domain.IsProviderDeclined(err); ok {
		log.Printf("level=info component=api endpoint=%s outcome=declined code=%s", endpoint, declined.Code)
		h.writeError(w, http.StatusPaymentRequired, declined.Error())
		return
	}

	if transient, _ := domain.IsProviderTransient(err); transient {
		log.Printf("level=warn component=api endpoint=%s outcome=provider_unavailable err=%v", endpoint, err)
		h.writeError(w, http.StatusBadGateway, "Payment provider temporarily unavailable; retry with the same idempotency key")
		return
	}

	if errors.Is(err, domain.ErrInvalidStateTransition) {
		log.Printf("level=warn component=api endpoint=%s outcome=reject reason=invalid_state err=%v", endpoint, err)
		h.writeError(w, http.StatusConflict, err.Error())
		return
	}

	if errors.Is(err, store.ErrTransactionNotFound) || errors.Is(err, store.ErrContractNotFound) {
		h.writeError(w, http.StatusNotFound, "Not found")
		return
	}
	if errors.Is(err, store.ErrTenantConfigNotFound) {
		h.writeError(w, http.StatusUnprocessableEntity, "Tenant payment configuration missing")
		return
	}

	log.Printf("level=error component=api endpoint=%s outcome=error err=%v", endpoint, err)
	h.writeError(w, http.StatusInternalServerError, "Internal server error")
}

func resolveIdempotencyKey(r *http.Request, bodyKey string) string {
	if header := strings.TrimSpace(r.Header.Get("Idempotency-Key")); header != "" {
		return header
	}
	return strings.TrimSpace(bodyKey)
}

func parseTimeParam(r *http.Request, name string, fallback time.Time) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	return time.Parse(time.RFC3339, raw)
}

// writeJSON is a helper for writing JSON responses.
func (h *PaymentHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *PaymentHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
