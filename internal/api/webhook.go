/**
 * @description
 * HTTP handler for asynchronous provider webhooks. This is the sole entry
 * point for incoming provider callbacks.
 *
 * Key features:
 * - Security: Validates the HMAC signature of incoming webhooks to ensure authenticity.
 * - Delegation: Hands the verified raw payload to the webhook ingestor, which
 *   owns dedup and state-machine validation.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256, encoding/base64, encoding/hex: For webhook signature validation.
 * - io, log, net/http, strings: Standard Go libraries.
 */

package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/vendora/payments-service/internal/domain"
)

// Providers differ in where they put the signature.
var webhookSignatureHeaders = map[domain.Provider]string{
	domain.ProviderAtlasPay: "Atlas-Signature",
	domain.ProviderMeridian: "x-meridian-signature",
}

// ProviderWebhookHandler receives one webhook delivery, verifies its
// signature against the per-provider secret, and hands it to the ingestor.
// Anything accepted acks 200 so the provider stops retrying; a signature
// mismatch is 401 and is never applied.
func (h *PaymentHandlers) ProviderWebhookHandler(w http.ResponseWriter, r *http.Request) {
	providerName := domain.Provider(strings.ToLower(chi.URLParam(r, "provider")))
	if !providerName.Valid() {
		http.Error(w, "Unknown provider", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get(webhookSignatureHeaders[providerName])
	if !h.isValidWebhookSignature(providerName, signature, body) {
		log.Printf("level=warn component=webhook msg=\"signature verification failed\" provider=%s", providerName)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	ack, err := h.ingestor.Ingest(r.Context(), providerName, body)
	if err != nil {
		var validationErr *domain.ValidationError
		if errors.As(err, &validationErr) {
			log.Printf("level=warn component=webhook msg=\"rejecting malformed delivery\" provider=%s err=%v", providerName, err)
			h.writeError(w, http.StatusBadRequest, validationErr.Error())
			return
		}
		// Infrastructure failure: non-2xx so the provider redelivers later.
		log.Printf("level=error component=webhook msg=\"ingestion failed\" provider=%s err=%v", providerName, err)
		h.writeError(w, http.StatusInternalServerError, "Webhook processing failed")
		return
	}

	h.writeJSON(w, http.StatusOK, ack)
}

// isValidWebhookSignature validates the HMAC-SHA256 signature of the webhook.
// Accepts hex or base64 encoded signatures since providers differ.
func (h *PaymentHandlers) isValidWebhookSignature(providerName domain.Provider, signatureHeader string, body []byte) bool {
	secret := h.webhookSecrets[providerName]
	if secret == "" {
		log.Printf("level=warn component=webhook msg=\"no webhook secret configured; skipping signature validation\" provider=%s", providerName)
		return true
	}

	header := strings.TrimSpace(signatureHeader)
	if header == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	if decoded, err := hex.DecodeString(header); err == nil {
		if hmac.Equal(decoded, expected) {
			return true
		}
	}
	if decoded, err := base64.StdEncoding.DecodeString(header); err == nil {
		if hmac.Equal(decoded, expected) {
			return true
		}
	}
	return false
}
