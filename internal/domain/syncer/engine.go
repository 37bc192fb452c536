// Package syncer implements cursor-based incremental transaction sync
// against the aggregator, with idempotent writes into the local mirror.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"banklink/internal/domain/connection"
	"banklink/internal/domain/transaction"
	"banklink/internal/infrastructure/aggregator"
	"banklink/internal/infrastructure/vault"
)

const (
	// maxIterations bounds the sync loop against an aggregator that keeps
	// returning hasMore=true. Hitting it is a reported error, never a
	// silent truncation.
	maxIterations = 50

	defaultCallTimeout = 60 * time.Second
)

var (
	// ErrSyncInProgress is returned when a sync is already running for the
	// same (userId, connectionId). The caller may retry later.
	ErrSyncInProgress = errors.New("a sync is already in progress for this connection")

	// ErrSyncBoundExceeded is returned when the pagination loop guard trips.
	ErrSyncBoundExceeded = errors.New("sync iteration bound exceeded")

	// ErrConnectionNotSyncable is returned for expired or revoked connections.
	ErrConnectionNotSyncable = errors.New("connection is not in a syncable state")
)

// Result summarizes one completed sync run.
type Result struct {
	ConnectionID string `json:"connectionId"`
	Added        int    `json:"added"`
	Modified     int    `json:"modified"`
	Removed      int    `json:"removed"`
	Pages        int    `json:"pages"`
	NextCursor   string `json:"-"`
}

// Engine runs the per-connection sync state machine:
// idle -> syncing -> {completed -> idle | error -> idle}.
// Syncs for the same (userId, connectionId) are serialized; a second request
// while one is syncing is rejected with ErrSyncInProgress.
type Engine struct {
	client       aggregator.Client
	vault        *vault.Vault
	connections  *connection.Store
	transactions *transaction.Store
	callTimeout  time.Duration

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewEngine creates a sync engine.
func NewEngine(client aggregator.Client, v *vault.Vault, connections *connection.Store, transactions *transaction.Store) *Engine {
	return &Engine{
		client:       client,
		vault:        v,
		connections:  connections,
		transactions: transactions,
		callTimeout:  defaultCallTimeout,
		inFlight:     make(map[string]struct{}),
	}
}

// InitialSync performs the first full sync for a freshly linked connection.
// The cursor starts unset; accessToken may be supplied by the caller that
// just exchanged it, otherwise the stored token is decrypted.
func (e *Engine) InitialSync(ctx context.Context, userID, connectionID, accessToken string, initiator connection.InitiatorType) (*Result, error) {
	release, err := e.acquire(userID, connectionID)
	if err != nil {
		return nil, err
	}
	defer release()

	return e.run(ctx, userID, connectionID, accessToken, "", initiator)
}

// IncrementalRefresh resumes sync from the stored cursor. Used for
// user-triggered refreshes and scheduled polling.
func (e *Engine) IncrementalRefresh(ctx context.Context, userID, connectionID string, initiator connection.InitiatorType) (*Result, error) {
	release, err := e.acquire(userID, connectionID)
	if err != nil {
		return nil, err
	}
	defer release()

	conn, err := e.connections.GetByConnectionID(ctx, userID, connectionID)
	if err != nil {
		return nil, err
	}

	return e.run(ctx, userID, connectionID, "", conn.SyncState.Transactions.NextCursor, initiator)
}

// ForceResync hard-deletes the connection's mirrored transactions, clears the
// stored cursor, and replays history from the beginning. Recovery path for
// detected corruption.
func (e *Engine) ForceResync(ctx context.Context, userID, connectionID string, initiator connection.InitiatorType) (*Result, error) {
	release, err := e.acquire(userID, connectionID)
	if err != nil {
		return nil, err
	}
	defer release()

	deleted, err := e.transactions.HardDeleteByConnection(ctx, userID, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to clear mirrored transactions: %w", err)
	}
	log.Printf("User %s: Force resync cleared %d transactions for connection %s", userID, deleted, connectionID)

	if err := e.connections.SetTransactionSyncInfo(ctx, userID, connectionID, connection.TransactionSyncInfo{
		SyncInfo: connection.SyncInfo{Status: connection.SyncPending, InitiatorType: initiator},
	}); err != nil {
		return nil, fmt.Errorf("failed to clear sync cursor: %w", err)
	}

	return e.run(ctx, userID, connectionID, "", "", initiator)
}

// run executes the sync loop. The in-memory cursor advances only after the
// batch it came with has been fully persisted; on any failure the stored
// state keeps the last persisted cursor so a retry resumes safely.
func (e *Engine) run(ctx context.Context, userID, connectionID, accessToken, startCursor string, initiator connection.InitiatorType) (*Result, error) {
	conn, err := e.connections.GetByConnectionID(ctx, userID, connectionID)
	if err != nil {
		return nil, err
	}
	if !conn.CanSync() {
		return nil, fmt.Errorf("%w: status is %s", ErrConnectionNotSyncable, conn.Status)
	}

	started := time.Now().UTC()
	if err := e.connections.SetTransactionSyncInfo(ctx, userID, connectionID, connection.TransactionSyncInfo{
		SyncInfo: connection.SyncInfo{
			Status:        connection.SyncSyncing,
			InitiatorType: initiator,
			StartedAt:     &started,
		},
		NextCursor: startCursor,
	}); err != nil {
		return nil, fmt.Errorf("failed to record sync start: %w", err)
	}

	token := accessToken
	if token == "" {
		token, err = e.vault.DecryptToken(ctx, conn.EncryptedAccessToken)
		if err != nil {
			e.recordError(ctx, userID, connectionID, started, startCursor, initiator, err)
			return nil, err
		}
	}

	result := &Result{ConnectionID: connectionID}
	cursor := startCursor

	for i := 0; i < maxIterations; i++ {
		page, err := e.syncPage(ctx, token, cursor)
		if err != nil {
			if aggregator.IsAuthError(err) {
				log.Printf("User %s: Connection %s auth failure during sync, marking expired", userID, connectionID)
				if markErr := e.connections.MarkExpired(ctx, userID, connectionID); markErr != nil {
					log.Printf("User %s: Failed to mark connection %s expired: %v", userID, connectionID, markErr)
				}
			}
			e.recordError(ctx, userID, connectionID, started, cursor, initiator, err)
			return nil, fmt.Errorf("sync aborted on page %d: %w", i+1, err)
		}

		if err := e.persistPage(ctx, userID, connectionID, page); err != nil {
			e.recordError(ctx, userID, connectionID, started, cursor, initiator, err)
			return nil, fmt.Errorf("sync aborted persisting page %d: %w", i+1, err)
		}

		// The batch is durable; only now may the cursor move.
		cursor = page.NextCursor
		result.Added += len(page.Added)
		result.Modified += len(page.Modified)
		result.Removed += len(page.Removed)
		result.Pages++

		if !page.HasMore {
			result.NextCursor = cursor
			completed := time.Now().UTC()
			if err := e.connections.SetTransactionSyncInfo(ctx, userID, connectionID, connection.TransactionSyncInfo{
				SyncInfo: connection.SyncInfo{
					Status:        connection.SyncCompleted,
					InitiatorType: initiator,
					StartedAt:     &started,
					CompletedAt:   &completed,
				},
				NextCursor: cursor,
			}); err != nil {
				return nil, fmt.Errorf("failed to persist final cursor: %w", err)
			}

			if err := e.connections.Touch(ctx, userID, connectionID); err != nil {
				log.Printf("User %s: Failed to touch connection %s: %v", userID, connectionID, err)
			}

			log.Printf("User %s: Sync completed for connection %s: added=%d modified=%d removed=%d pages=%d",
				userID, connectionID, result.Added, result.Modified, result.Removed, result.Pages)
			return result, nil
		}
	}

	e.recordError(ctx, userID, connectionID, started, cursor, initiator, ErrSyncBoundExceeded)
	return nil, fmt.Errorf("%w after %d pages", ErrSyncBoundExceeded, maxIterations)
}

// syncPage fetches one page with a per-call timeout.
func (e *Engine) syncPage(ctx context.Context, token, cursor string) (*aggregator.SyncPage, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	return e.client.SyncTransactions(callCtx, token, cursor)
}

// persistPage upserts added+modified and soft-deletes removed. A minority of
// per-document failures is tolerated (they will be rewritten on the next
// sync); a majority failing fails the page so the cursor does not advance.
func (e *Engine) persistPage(ctx context.Context, userID, connectionID string, page *aggregator.SyncPage) error {
	docs := make([]*transaction.Transaction, 0, len(page.Added)+len(page.Modified))
	for _, tx := range page.Added {
		doc, err := toDocument(userID, connectionID, tx, page.NextCursor)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}
	for _, tx := range page.Modified {
		doc, err := toDocument(userID, connectionID, tx, page.NextCursor)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}

	if len(docs) > 0 {
		res, err := e.transactions.UpsertBatch(ctx, docs)
		if err != nil {
			return fmt.Errorf("failed to upsert batch: %w", err)
		}
		if res.Failed() > 0 {
			batchErr := &transaction.PartialBatchError{Attempted: len(docs), FailedIDs: res.FailedIDs}
			if batchErr.MajorityFailed() {
				return batchErr
			}
			log.Printf("User %s: Tolerating partial batch failure for connection %s: %v", userID, connectionID, batchErr)
		}
	}

	if len(page.Removed) > 0 {
		ids := make([]string, 0, len(page.Removed))
		for _, r := range page.Removed {
			ids = append(ids, r.TransactionID)
		}
		if err := e.transactions.SoftDelete(ctx, userID, ids, page.NextCursor); err != nil {
			return fmt.Errorf("failed to soft-delete removed transactions: %w", err)
		}
	}

	return nil
}

// recordError marks the sync attempt failed while retaining the last cursor
// whose batch was persisted.
func (e *Engine) recordError(ctx context.Context, userID, connectionID string, started time.Time, lastPersistedCursor string, initiator connection.InitiatorType, cause error) {
	completed := time.Now().UTC()
	info := connection.TransactionSyncInfo{
		SyncInfo: connection.SyncInfo{
			Status:        connection.SyncError,
			InitiatorType: initiator,
			StartedAt:     &started,
			CompletedAt:   &completed,
			ErrorMessage:  cause.Error(),
		},
		NextCursor: lastPersistedCursor,
	}
	if err := e.connections.SetTransactionSyncInfo(ctx, userID, connectionID, info); err != nil {
		log.Printf("User %s: Failed to record sync error for connection %s: %v", userID, connectionID, err)
	}
}

func (e *Engine) acquire(userID, connectionID string) (func(), error) {
	key := userID + "|" + connectionID

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inFlight[key]; busy {
		return nil, ErrSyncInProgress
	}
	e.inFlight[key] = struct{}{}

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.inFlight, key)
	}, nil
}

func toDocument(userID, connectionID string, tx aggregator.Transaction, sourceCursor string) (*transaction.Transaction, error) {
	date, err := tx.ParseDate()
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", tx.TransactionID, err)
	}

	return &transaction.Transaction{
		DocumentID:     transaction.DocumentID(userID, tx.TransactionID),
		UserID:         userID,
		ConnectionID:   connectionID,
		TransactionID:  tx.TransactionID,
		AccountID:      tx.AccountID,
		Amount:         tx.Amount,
		Currency:       tx.ISOCurrencyCode,
		Date:           date,
		Description:    tx.Name,
		Merchant:       tx.MerchantName,
		Category:       tx.Category,
		IsPending:      tx.Pending,
		PaymentChannel: tx.PaymentChannel,
		Meta: transaction.Meta{
			SourceSyncCursor: sourceCursor,
		},
	}, nil
}
