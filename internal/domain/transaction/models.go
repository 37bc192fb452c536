// Package transaction defines the mirrored transaction document and the
// store that answers filtered, paginated queries over it.
package transaction

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Meta carries sync bookkeeping for a transaction document.
type Meta struct {
	IsRemoved        bool      `bson:"isRemoved" json:"isRemoved"`
	UpdatedAt        time.Time `bson:"updatedAt" json:"updatedAt"`
	SourceSyncCursor string    `bson:"sourceSyncCursor,omitempty" json:"sourceSyncCursor,omitempty"`
}

// Transaction is one mirrored transaction document. DocumentID is derived
// deterministically from (userId, transactionId) so repeated syncs upsert
// instead of duplicating.
type Transaction struct {
	DocumentID     string    `bson:"_id" json:"documentId"`
	UserID         string    `bson:"userId" json:"userId"`
	ConnectionID   string    `bson:"connectionId" json:"connectionId"`
	TransactionID  string    `bson:"transactionId" json:"transactionId"`
	AccountID      string    `bson:"accountId" json:"accountId"`
	Amount         float64   `bson:"amount" json:"amount"`
	Currency       string    `bson:"currency,omitempty" json:"currency,omitempty"`
	Date           time.Time `bson:"date" json:"date"`
	Description    string    `bson:"description" json:"description"`
	Merchant       string    `bson:"merchant,omitempty" json:"merchant,omitempty"`
	Category       string    `bson:"category,omitempty" json:"category,omitempty"`
	IsPending      bool      `bson:"isPending" json:"isPending"`
	PaymentChannel string    `bson:"paymentChannel,omitempty" json:"paymentChannel,omitempty"`
	Meta           Meta      `bson:"meta" json:"meta"`
}

// DocumentID derives the deterministic document id for a user's transaction.
func DocumentID(userID, transactionID string) string {
	sum := sha256.Sum256([]byte(userID + ":" + transactionID))
	return hex.EncodeToString(sum[:])
}

// StatusFilter selects documents by posting/removal state.
type StatusFilter string

const (
	// StatusAny matches every document including soft-deleted ones.
	StatusAny StatusFilter = "any"
	// StatusPosted matches non-pending documents that are not soft-deleted.
	StatusPosted StatusFilter = "posted"
	// StatusPending matches pending documents that are not soft-deleted.
	StatusPending StatusFilter = "pending"
	// StatusRemoved matches soft-deleted documents only.
	StatusRemoved StatusFilter = "removed"
)

// Filter narrows a paginated query. Zero values mean "no constraint".
// The default (empty Status) excludes soft-deleted documents.
type Filter struct {
	AccountID      string
	ConnectionID   string
	Status         StatusFilter
	PaymentChannel string
	DateFrom       *time.Time
	DateTo         *time.Time
	AmountMin      *float64
	AmountMax      *float64
	Currency       string
	Category       string
	Search         string // free text over description and merchant
}

// Sort fields accepted by QueryPaginated.
const (
	SortByDate   = "date"
	SortByAmount = "amount"

	SortAsc  = "asc"
	SortDesc = "desc"
)

// PageParams describe a 1-indexed page request.
type PageParams struct {
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Page is one page of query results with pagination bookkeeping.
type Page struct {
	Items       []*Transaction `json:"items"`
	Page        int            `json:"page"`
	PageSize    int            `json:"pageSize"`
	TotalCount  int64          `json:"totalCount"`
	TotalPages  int            `json:"totalPages"`
	HasNext     bool           `json:"hasNext"`
	HasPrevious bool           `json:"hasPrevious"`
}

// BatchResult reports the per-document outcome of an upsert batch.
type BatchResult struct {
	Upserted  int
	FailedIDs []string
}

// Failed reports how many documents in the batch were not persisted.
func (r *BatchResult) Failed() int {
	return len(r.FailedIDs)
}
