// Package http holds the thin HTTP handlers over the banking service.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"banklink/internal/domain/account"
	"banklink/internal/domain/banking"
	"banklink/internal/domain/connection"
	"banklink/internal/domain/lifecycle"
	"banklink/internal/domain/syncer"
	"banklink/internal/domain/transaction"
	"banklink/internal/shared/middleware"
)

// BankingService is the slice of the banking facade the handlers consume.
type BankingService interface {
	CreateLinkToken(ctx context.Context, userID string) (string, error)
	LinkBank(ctx context.Context, userID, publicToken string) (*banking.LinkResult, error)
	RefreshAccounts(ctx context.Context, userID string) (*account.RefreshResult, error)
	GetAccounts(ctx context.Context, userID string) (*account.Overview, error)
	RefreshTransactions(ctx context.Context, userID, connectionID string) (*syncer.Result, error)
	ForceRefreshTransactions(ctx context.Context, userID, connectionID string) (*syncer.Result, error)
	QueryTransactions(ctx context.Context, userID string, params transaction.PageParams, f transaction.Filter) (*transaction.Page, error)
	UnlinkBank(ctx context.Context, userID, connectionID string) (*banking.UnlinkResult, error)
	UnlinkAll(ctx context.Context, userID string) (*lifecycle.RevokeResult, error)
}

// BankHandler serves the bank-connection endpoints.
type BankHandler struct {
	service BankingService
}

// NewBankHandler creates a bank handler.
func NewBankHandler(service BankingService) *BankHandler {
	return &BankHandler{service: service}
}

func userIDFromContext(r *http.Request) (string, bool) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(string)
	return userID, ok && userID != ""
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// HandleCreateLinkToken starts a link flow for the user.
func (h *BankHandler) HandleCreateLinkToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := userIDFromContext(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	token, err := h.service.CreateLinkToken(r.Context(), userID)
	if err != nil {
		log.Printf("Error creating link token for user %s: %v", userID, err)
		http.Error(w, "Failed to create link token", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"linkToken": token})
}

type linkBankRequest struct {
	PublicToken string `json:"publicToken"`
}

// HandleLinkBank completes a link flow: exchanges the public token and
// creates the connection.
func (h *BankHandler) HandleLinkBank(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := userIDFromContext(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req linkBankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.PublicToken == "" {
		http.Error(w, "publicToken is required", http.StatusBadRequest)
		return
	}

	result, err := h.service.LinkBank(r.Context(), userID, req.PublicToken)
	if err != nil {
		if errors.Is(err, connection.ErrConflict) {
			http.Error(w, "Connection already exists", http.StatusConflict)
			return
		}
		log.Printf("Error linking bank for user %s: %v", userID, err)
		http.Error(w, "Failed to link bank", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// HandleListAccounts serves the cached account view.
func (h *BankHandler) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := userIDFromContext(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	overview, err := h.service.GetAccounts(r.Context(), userID)
	if err != nil {
		log.Printf("Error listing accounts for user %s: %v", userID, err)
		http.Error(w, "Failed to list accounts", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, overview)
}

// HandleRefreshAccounts refreshes balances across the user's connections.
// Partial failures still return 200 with the failure list.
func (h *BankHandler) HandleRefreshAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := userIDFromContext(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	result, err := h.service.RefreshAccounts(r.Context(), userID)
	if err != nil {
		log.Printf("Error refreshing accounts for user %s: %v", userID, err)
		http.Error(w, "Failed to refresh accounts", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleUnlinkBank removes one connection and its mirrored transactions.
func (h *BankHandler) HandleUnlinkBank(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := userIDFromContext(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	connectionID := r.PathValue("id")
	if connectionID == "" {
		http.Error(w, "Connection ID is required", http.StatusBadRequest)
		return
	}

	result, err := h.service.UnlinkBank(r.Context(), userID, connectionID)
	if err != nil {
		if errors.Is(err, connection.ErrNotFound) {
			http.Error(w, "Connection not found", http.StatusNotFound)
			return
		}
		log.Printf("Error unlinking connection %s for user %s: %v", connectionID, userID, err)
		http.Error(w, "Failed to unlink bank", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleUnlinkAll tears down every connection of the user.
func (h *BankHandler) HandleUnlinkAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := userIDFromContext(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	result, err := h.service.UnlinkAll(r.Context(), userID)
	if err != nil {
		log.Printf("Error unlinking all connections for user %s: %v", userID, err)
		http.Error(w, "Failed to unlink banks", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
