package connection

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Store owns bank connection records and their status transitions.
type Store struct {
	repo Repository
}

// NewStore creates a connection store backed by the given repository.
func NewStore(repo Repository) *Store {
	return &Store{repo: repo}
}

// Create inserts a new active connection for the user. The access token must
// already be encrypted by the caller; the store never sees plaintext tokens.
func (s *Store) Create(ctx context.Context, userID, encryptedToken string, info InstitutionInfo) (*BankConnection, error) {
	if userID == "" || info.ConnectionID == "" {
		return nil, fmt.Errorf("userID and connectionID are required")
	}
	if encryptedToken == "" {
		return nil, fmt.Errorf("encrypted access token is required")
	}

	now := time.Now().UTC()
	conn := &BankConnection{
		ConnectionID:         info.ConnectionID,
		UserID:               userID,
		EncryptedAccessToken: encryptedToken,
		InstitutionID:        info.InstitutionID,
		InstitutionName:      info.InstitutionName,
		Status:               StatusActive,
		Environment:          info.Environment,
		CreatedAt:            now,
		UpdatedAt:            now,
		LastUsedAt:           now,
		Accounts:             []AccountSnapshot{},
		Summary:              Summary{},
		SyncState: SyncState{
			Accounts:     SyncInfo{Status: SyncPending},
			Transactions: TransactionSyncInfo{SyncInfo: SyncInfo{Status: SyncPending}},
		},
	}

	if err := s.repo.Insert(ctx, conn); err != nil {
		return nil, err
	}

	log.Printf("User %s: Created connection %s (%s)", userID, conn.ConnectionID, conn.InstitutionName)
	return conn, nil
}

// GetActive returns only the user's active connections.
func (s *Store) GetActive(ctx context.Context, userID string) ([]*BankConnection, error) {
	return s.repo.ListByStatus(ctx, userID, StatusActive)
}

// GetAll returns every connection of the user regardless of status.
func (s *Store) GetAll(ctx context.Context, userID string) ([]*BankConnection, error) {
	return s.repo.ListByUser(ctx, userID)
}

// GetByConnectionID returns the connection or ErrNotFound.
func (s *Store) GetByConnectionID(ctx context.Context, userID, connectionID string) (*BankConnection, error) {
	return s.repo.Get(ctx, userID, connectionID)
}

// UpdateAccounts merges newAccounts into the stored snapshot set by accountId
// and recomputes the summary. The merge is a read-modify-write guarded by the
// record version; on a lost race it re-reads and retries once, then falls
// back to last-writer-wins on the merged set.
func (s *Store) UpdateAccounts(ctx context.Context, userID, connectionID string, newAccounts []AccountSnapshot) (*BankConnection, error) {
	const retries = 1

	for attempt := 0; ; attempt++ {
		conn, err := s.repo.Get(ctx, userID, connectionID)
		if err != nil {
			return nil, err
		}

		merged := MergeAccounts(conn.Accounts, newAccounts)
		summary := ComputeSummary(merged)

		expected := conn.Version
		if attempt > retries {
			// Give up on optimistic checks; the merge itself still ran
			// against the freshest read.
			expected = -1
		}

		err = s.repo.ReplaceAccounts(ctx, userID, connectionID, merged, summary, expected)
		if err == ErrVersionConflict {
			log.Printf("User %s: Concurrent account update on connection %s, retrying merge", userID, connectionID)
			continue
		}
		if err != nil {
			return nil, err
		}

		conn.Accounts = merged
		conn.Summary = summary
		conn.UpdatedAt = time.Now().UTC()
		return conn, nil
	}
}

// MarkExpired transitions the connection to expired. Used when the aggregator
// reports a permanent auth failure and the user must re-link.
func (s *Store) MarkExpired(ctx context.Context, userID, connectionID string) error {
	return s.transition(ctx, userID, connectionID, StatusExpired)
}

// MarkRevoked transitions the connection to revoked. Revoked is terminal:
// no further sync may run against the connection.
func (s *Store) MarkRevoked(ctx context.Context, userID, connectionID string) error {
	return s.transition(ctx, userID, connectionID, StatusRevoked)
}

// MarkError transitions the connection to error.
func (s *Store) MarkError(ctx context.Context, userID, connectionID string) error {
	return s.transition(ctx, userID, connectionID, StatusError)
}

func (s *Store) transition(ctx context.Context, userID, connectionID string, to Status) error {
	conn, err := s.repo.Get(ctx, userID, connectionID)
	if err != nil {
		return err
	}

	if !canTransition(conn.Status, to) {
		if conn.Status == StatusRevoked {
			return ErrRevoked
		}
		return ErrInvalidTransition
	}

	if err := s.repo.UpdateStatus(ctx, userID, connectionID, to); err != nil {
		return err
	}

	log.Printf("User %s: Connection %s %s -> %s", userID, connectionID, conn.Status, to)
	return nil
}

// SetAccountSyncInfo records the account sync state for the connection.
func (s *Store) SetAccountSyncInfo(ctx context.Context, userID, connectionID string, info SyncInfo) error {
	return s.repo.SetAccountSyncInfo(ctx, userID, connectionID, info)
}

// SetTransactionSyncInfo records the transaction sync state for the connection.
func (s *Store) SetTransactionSyncInfo(ctx context.Context, userID, connectionID string, info TransactionSyncInfo) error {
	return s.repo.SetTransactionSyncInfo(ctx, userID, connectionID, info)
}

// Touch bumps the connection's lastUsedAt timestamp.
func (s *Store) Touch(ctx context.Context, userID, connectionID string) error {
	return s.repo.Touch(ctx, userID, connectionID)
}

// Delete hard-deletes the connection record. The caller is responsible for
// sweeping the connection's transaction documents.
func (s *Store) Delete(ctx context.Context, userID, connectionID string) error {
	return s.repo.Delete(ctx, userID, connectionID)
}
