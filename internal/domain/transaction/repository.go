package transaction

import "context"

// SortSpec is a validated sort order for repository queries.
type SortSpec struct {
	Field      string // SortByDate or SortByAmount
	Descending bool
}

// Repository defines the persistence operations for transaction documents.
// Implementations must scope every operation by userID.
type Repository interface {
	// UpsertBatch upserts each document independently by its deterministic
	// id. Individual failures are collected into the result, not raised;
	// only a total inability to reach the store returns an error.
	UpsertBatch(ctx context.Context, docs []*Transaction) (*BatchResult, error)

	// SoftDelete marks the listed transaction ids removed, stamping
	// meta.updatedAt and meta.sourceSyncCursor. Missing ids are no-ops.
	SoftDelete(ctx context.Context, userID string, transactionIDs []string, sourceCursor string) error

	// HardDeleteByConnection physically removes every document for the
	// connection and returns the removed count.
	HardDeleteByConnection(ctx context.Context, userID, connectionID string) (int64, error)

	// HardDeleteByUser physically removes every document for the user.
	HardDeleteByUser(ctx context.Context, userID string) (int64, error)

	// Query returns matching documents sorted per spec, with ties broken by
	// document id for determinism.
	Query(ctx context.Context, userID string, f Filter, sort SortSpec, skip, limit int64) ([]*Transaction, error)

	// Count returns the number of documents matching the filter.
	Count(ctx context.Context, userID string, f Filter) (int64, error)
}
