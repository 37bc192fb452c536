package aggregator

import "context"

// Client defines the operations the engine needs from the financial-data
// aggregator. All methods may fail with *TransientError (retryable) or
// *AuthError (permanent, requires re-link).
type Client interface {
	// CreateLinkToken starts a link flow for the user.
	CreateLinkToken(ctx context.Context, userID string) (string, error)

	// ExchangePublicToken trades the front end's public token for a
	// long-lived access token and the item (connection) id.
	ExchangePublicToken(ctx context.Context, publicToken string) (*TokenExchange, error)

	// GetItem returns the item metadata for an access token.
	GetItem(ctx context.Context, accessToken string) (*Item, error)

	// GetInstitution resolves an institution id to its display metadata.
	GetInstitution(ctx context.Context, institutionID string) (*Institution, error)

	// GetBalances returns the current account and balance snapshots.
	GetBalances(ctx context.Context, accessToken string) ([]Account, error)

	// SyncTransactions returns one page of incremental changes from the
	// given cursor. An empty cursor starts from the beginning of history.
	SyncTransactions(ctx context.Context, accessToken, cursor string) (*SyncPage, error)

	// RemoveItem revokes the access token at the aggregator.
	RemoveItem(ctx context.Context, accessToken string) error
}
