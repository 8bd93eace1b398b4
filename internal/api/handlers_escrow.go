/**
 * @description
 * This file contains the HTTP handlers for escrow operations: claiming a held
 * transfer with a one-time code, and triggering a sweep of expired escrows.
 * The claim endpoint is public (code-gated) so that recipients without an
 * account can redeem funds sent to their email address.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/nilotic/wallet-service/internal/app"
	"github.com/nilotic/wallet-service/internal/domain"
	"github.com/nilotic/wallet-service/internal/store"
)

// ClaimEscrowHandler redeems a pending escrow with its one-time code.
func (h *WalletHandlers) ClaimEscrowHandler(w http.ResponseWriter, r *http.Request) {
	escrowID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid escrow ID format")
		return
	}

	var req domain.ClaimEscrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=claim_escrow outcome=reject reason=invalid_json err=%v", err)
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	result, err := h.service.ClaimEscrow(r.Context(), escrowID, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=claim_escrow outcome=failed escrow_id=%s err=%v", escrowID, err)
		switch {
		case errors.Is(err, app.ErrInvalidClaimFields):
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		case errors.Is(err, app.ErrClaimRateLimited):
			h.writeError(w, http.StatusTooManyRequests, "Too many claim attempts. Please wait and try again.")
			return
		case errors.Is(err, store.ErrEscrowNotFound):
			h.writeError(w, http.StatusNotFound, "Escrow not found")
			return
		case errors.Is(err, store.ErrEscrowCodeMismatch):
			h.writeError(w, http.StatusForbidden, "Claim code or email does not match")
			return
		case errors.Is(err, store.ErrEscrowExpired), errors.Is(err, store.ErrEscrowNotPending):
			h.writeError(w, http.StatusConflict, "Escrow is no longer claimable")
			return
		case isRemoteLedgerError(err):
			h.writeError(w, http.StatusBadGateway, "Chain node rejected the transfer")
			return
		default:
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
	}

	log.Printf("level=info component=api endpoint=claim_escrow outcome=claimed escrow_id=%s recipient=%s", escrowID, result.RecipientAddress)
	h.writeJSON(w, http.StatusOK, result)
}

// SweepEscrowsHandler expires and refunds every pending escrow past its
// deadline. The cron schedule runs the same sweep; this endpoint exists for
// operators to force one.
func (h *WalletHandlers) SweepEscrowsHandler(w http.ResponseWriter, r *http.Request) {
	expired, err := h.service.SweepExpiredEscrows(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=sweep_escrows outcome=failed err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Sweep failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]int{"expired": expired})
}
