package http

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"banklink/internal/domain/connection"
	"banklink/internal/domain/syncer"
	"banklink/internal/domain/transaction"
)

// TransactionHandler serves the mirrored-transaction endpoints.
type TransactionHandler struct {
	service BankingService
}

// NewTransactionHandler creates a transaction handler.
func NewTransactionHandler(service BankingService) *TransactionHandler {
	return &TransactionHandler{service: service}
}

// HandleListTransactions answers a filtered, paginated query over the
// user's mirrored transactions.
func (h *TransactionHandler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := userIDFromContext(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	params, f, err := parseQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	page, err := h.service.QueryTransactions(r.Context(), userID, params, f)
	if err != nil {
		log.Printf("Error querying transactions for user %s: %v", userID, err)
		http.Error(w, "Failed to query transactions", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

// HandleSyncTransactions runs an incremental sync for the connection.
func (h *TransactionHandler) HandleSyncTransactions(w http.ResponseWriter, r *http.Request) {
	h.runSync(w, r, h.service.RefreshTransactions)
}

// HandleForceResync clears the connection's mirror and replays history.
func (h *TransactionHandler) HandleForceResync(w http.ResponseWriter, r *http.Request) {
	h.runSync(w, r, h.service.ForceRefreshTransactions)
}

func (h *TransactionHandler) runSync(w http.ResponseWriter, r *http.Request, sync func(ctx context.Context, userID, connectionID string) (*syncer.Result, error)) {
	if r.Method != http.MethodPost {
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

	result, err := sync(r.Context(), userID, connectionID)
	if err != nil {
		switch {
		case errors.Is(err, connection.ErrNotFound):
			http.Error(w, "Connection not found", http.StatusNotFound)
		case errors.Is(err, syncer.ErrSyncInProgress):
			http.Error(w, "A sync is already in progress for this connection", http.StatusConflict)
		case errors.Is(err, syncer.ErrConnectionNotSyncable):
			http.Error(w, "Connection is not in a syncable state", http.StatusConflict)
		default:
			log.Printf("Error syncing connection %s for user %s: %v", connectionID, userID, err)
			http.Error(w, "Sync failed", http.StatusBadGateway)
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// parseQuery reads pagination, sorting, and filter parameters. Unknown sort
// fields and malformed numbers or dates are rejected.
func parseQuery(r *http.Request) (transaction.PageParams, transaction.Filter, error) {
	q := r.URL.Query()

	params := transaction.PageParams{
		SortBy:    q.Get("sortBy"),
		SortOrder: q.Get("sortOrder"),
	}

	if v := q.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil {
			return params, transaction.Filter{}, errors.New("invalid page")
		}
		params.Page = page
	}
	if v := q.Get("pageSize"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return params, transaction.Filter{}, errors.New("invalid pageSize")
		}
		params.PageSize = size
	}

	if params.SortBy != "" && params.SortBy != transaction.SortByDate && params.SortBy != transaction.SortByAmount {
		return params, transaction.Filter{}, errors.New("sortBy must be date or amount")
	}
	if params.SortOrder != "" && params.SortOrder != transaction.SortAsc && params.SortOrder != transaction.SortDesc {
		return params, transaction.Filter{}, errors.New("sortOrder must be asc or desc")
	}

	f := transaction.Filter{
		AccountID:      q.Get("accountId"),
		ConnectionID:   q.Get("connectionId"),
		PaymentChannel: q.Get("channel"),
		Currency:       q.Get("currency"),
		Category:       q.Get("category"),
		Search:         q.Get("search"),
	}

	switch status := q.Get("status"); status {
	case "", string(transaction.StatusAny), string(transaction.StatusPosted),
		string(transaction.StatusPending), string(transaction.StatusRemoved):
		f.Status = transaction.StatusFilter(status)
	default:
		return params, f, errors.New("status must be any, posted, pending, or removed")
	}

	if v := q.Get("dateFrom"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return params, f, errors.New("invalid dateFrom (use YYYY-MM-DD)")
		}
		f.DateFrom = &t
	}
	if v := q.Get("dateTo"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return params, f, errors.New("invalid dateTo (use YYYY-MM-DD)")
		}
		f.DateTo = &t
	}

	if v := q.Get("amountMin"); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return params, f, errors.New("invalid amountMin")
		}
		f.AmountMin = &n
	}
	if v := q.Get("amountMax"); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return params, f, errors.New("invalid amountMax")
		}
		f.AmountMax = &n
	}

	return params, f, nil
}
