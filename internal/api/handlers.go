/**
 * @description
 * This file contains the HTTP handlers for the wallet-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 * - pkg/ledgerclient: For translating remote ledger failures into gateway errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/nilotic/wallet-service/internal/app"
	"github.com/nilotic/wallet-service/internal/domain"
	"github.com/nilotic/wallet-service/internal/store"
	"github.com/nilotic/wallet-service/pkg/ledgerclient"
)

// WalletHandlers holds the application service that handlers will use.
type WalletHandlers struct {
	service *app.Service
}

// NewWalletHandlers creates a new instance of WalletHandlers.
func NewWalletHandlers(service *app.Service) *WalletHandlers {
	return &WalletHandlers{service: service}
}

// CreateWalletHandler handles requests to create a named wallet for a user.
func (h *WalletHandlers) CreateWalletHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=create_wallet outcome=reject reason=invalid_json err=%v", err)
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		h.writeError(w, http.StatusBadRequest, "Email is required")
		return
	}

	wallet, err := h.service.CreateWallet(r.Context(), req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=create_wallet outcome=failed email=%s err=%v", req.Email, err)
		switch {
		case errors.Is(err, store.ErrUserNotFound), errors.Is(err, app.ErrUserNotVerified):
			h.writeError(w, http.StatusBadRequest, "User not found or unverified")
			return
		case errors.Is(err, store.ErrWalletNameTaken):
			h.writeError(w, http.StatusConflict, "A wallet with this name already exists")
			return
		case isRemoteLedgerError(err):
			h.writeError(w, http.StatusBadGateway, "Chain node rejected the wallet registration")
			return
		default:
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
	}

	log.Printf("level=info component=api endpoint=create_wallet outcome=created address=%s", wallet.Address)
	h.writeJSON(w, http.StatusCreated, wallet)
}

// WalletBalanceHandler returns the reconciled balance for a wallet address.
func (h *WalletHandlers) WalletBalanceHandler(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if address == "" {
		h.writeError(w, http.StatusBadRequest, "Wallet address is required")
		return
	}

	wallet, err := h.service.WalletBalance(r.Context(), address)
	if err != nil {
		if errors.Is(err, store.ErrWalletNotFound) {
			h.writeError(w, http.StatusNotFound, "Wallet not found")
			return
		}
		log.Printf("level=error component=api endpoint=wallet_balance outcome=failed address=%s err=%v", address, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, wallet)
}

// SendHandler handles requests for peer transfers. Resident recipients get a
// direct chain transfer; unknown or unverified recipients get an escrow.
func (h *WalletHandlers) SendHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := GetAuthUserID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return
	}

	var req domain.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=send outcome=reject reason=invalid_json err=%v", err)
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	log.Printf("level=info component=api endpoint=send outcome=accepted caller_id=%s recipient=%s amount=%f", callerID, req.RecipientEmail, req.Amount)

	result, err := h.service.Send(r.Context(), callerID, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=send outcome=failed caller_id=%s err=%v", callerID, err)
		switch {
		case errors.Is(err, store.ErrInsufficientFunds):
			h.writeError(w, http.StatusPaymentRequired, err.Error())
			return
		case errors.Is(err, app.ErrNotWalletOwner):
			h.writeError(w, http.StatusForbidden, err.Error())
			return
		case errors.Is(err, app.ErrInvalidAmount), errors.Is(err, app.ErrSenderNotEligible):
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		case errors.Is(err, store.ErrUserNotFound), errors.Is(err, store.ErrWalletNotFound):
			h.writeError(w, http.StatusNotFound, "Sender account not found")
			return
		case isRemoteLedgerError(err):
			h.writeError(w, http.StatusBadGateway, "Chain node rejected the transfer")
			return
		default:
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
	}

	h.writeJSON(w, http.StatusCreated, result)
}

// MineHandler handles mining settlement requests for a wallet owned by the caller.
func (h *WalletHandlers) MineHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := GetAuthUserID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return
	}

	var req domain.MineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=mine outcome=reject reason=invalid_json err=%v", err)
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	result, err := h.service.Mine(r.Context(), callerID, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=mine outcome=failed caller_id=%s address=%s err=%v", callerID, req.WalletAddress, err)
		switch {
		case errors.Is(err, store.ErrInsufficientFunds):
			h.writeError(w, http.StatusPaymentRequired, err.Error())
			return
		case errors.Is(err, app.ErrInvalidAmount), errors.Is(err, app.ErrSenderNotEligible), errors.Is(err, app.ErrNoReward):
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		case errors.Is(err, store.ErrWalletNotFound), errors.Is(err, store.ErrUserNotFound):
			h.writeError(w, http.StatusNotFound, "Wallet not found")
			return
		case errors.Is(err, app.ErrMiningUnavailable):
			h.writeError(w, http.StatusServiceUnavailable, "Mining is temporarily unavailable")
			return
		default:
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
	}

	log.Printf("level=info component=api endpoint=mine outcome=settled address=%s reward=%f simulated=%t", result.WalletAddress, result.Reward, result.Simulated)
	h.writeJSON(w, http.StatusOK, result)
}

// isRemoteLedgerError reports whether err came from the chain node's API.
func isRemoteLedgerError(err error) bool {
	var remoteErr *ledgerclient.RemoteError
	return errors.As(err, &remoteErr)
}

// writeJSON is a helper for writing JSON responses.
func (h *WalletHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *WalletHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
