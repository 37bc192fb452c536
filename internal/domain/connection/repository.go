package connection

import "context"

// Repository defines the persistence operations for bank connections.
// Implementations must scope every operation by userID.
type Repository interface {
	// Insert stores a new connection. Returns ErrConflict if one already
	// exists for the same (userID, connectionID).
	Insert(ctx context.Context, conn *BankConnection) error

	// Get returns the connection or ErrNotFound.
	Get(ctx context.Context, userID, connectionID string) (*BankConnection, error)

	// ListByUser returns all of a user's connections regardless of status.
	ListByUser(ctx context.Context, userID string) ([]*BankConnection, error)

	// ListByStatus returns a user's connections with the given status.
	ListByStatus(ctx context.Context, userID string, status Status) ([]*BankConnection, error)

	// ListAll returns every connection across all users. Used by the
	// lifecycle manager's fleet-wide maintenance passes.
	ListAll(ctx context.Context) ([]*BankConnection, error)

	// ReplaceAccounts writes a merged account set and its recomputed summary.
	// When expectedVersion >= 0 the write is guarded by a version check and
	// returns ErrVersionConflict on a lost race; expectedVersion < 0 writes
	// unconditionally (last-writer-wins fallback).
	ReplaceAccounts(ctx context.Context, userID, connectionID string, accounts []AccountSnapshot, summary Summary, expectedVersion int64) error

	// UpdateStatus transitions the connection status and bumps updatedAt.
	UpdateStatus(ctx context.Context, userID, connectionID string, status Status) error

	// SetAccountSyncInfo replaces syncState.accounts.
	SetAccountSyncInfo(ctx context.Context, userID, connectionID string, info SyncInfo) error

	// SetTransactionSyncInfo replaces syncState.transactions.
	SetTransactionSyncInfo(ctx context.Context, userID, connectionID string, info TransactionSyncInfo) error

	// Touch bumps lastUsedAt.
	Touch(ctx context.Context, userID, connectionID string) error

	// Delete hard-deletes the connection record. Returns ErrNotFound if absent.
	Delete(ctx context.Context, userID, connectionID string) error
}
