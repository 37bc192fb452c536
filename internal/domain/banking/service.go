// Package banking is the caller-facing surface of the bank-connection and
// synchronization engine, consumed by the thin HTTP handlers.
package banking

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"banklink/internal/domain/account"
	"banklink/internal/domain/connection"
	"banklink/internal/domain/lifecycle"
	"banklink/internal/domain/syncer"
	"banklink/internal/domain/transaction"
	"banklink/internal/infrastructure/aggregator"
	"banklink/internal/infrastructure/vault"
)

// TaskQueue decouples request handlers from background sync execution: the
// handler enqueues, a worker pool runs the job with per-connection
// serialization.
type TaskQueue interface {
	EnqueueInitialSync(userID, connectionID, accessToken string) error
}

// Service wires the engine's components behind the operations the front end
// needs. All dependencies are injected once at process start.
type Service struct {
	client       aggregator.Client
	vault        *vault.Vault
	connections  *connection.Store
	accounts     *account.Aggregator
	engine       *syncer.Engine
	transactions *transaction.Store
	lifecycle    *lifecycle.Manager
	queue        TaskQueue
	environment  string
}

// NewService creates the banking facade.
func NewService(
	client aggregator.Client,
	v *vault.Vault,
	connections *connection.Store,
	accounts *account.Aggregator,
	engine *syncer.Engine,
	transactions *transaction.Store,
	lifecycleManager *lifecycle.Manager,
	queue TaskQueue,
	environment string,
) *Service {
	return &Service{
		client:       client,
		vault:        v,
		connections:  connections,
		accounts:     accounts,
		engine:       engine,
		transactions: transactions,
		lifecycle:    lifecycleManager,
		queue:        queue,
		environment:  environment,
	}
}

// CreateLinkToken starts a link flow for the user.
func (s *Service) CreateLinkToken(ctx context.Context, userID string) (string, error) {
	return s.client.CreateLinkToken(ctx, userID)
}

// LinkResult reports a completed link operation.
type LinkResult struct {
	ConnectionID    string `json:"connectionId"`
	InstitutionID   string `json:"institutionId"`
	InstitutionName string `json:"institutionName"`
	AccountCount    int    `json:"accountCount"`
	SyncQueued      bool   `json:"syncQueued"`
	RequestID       string `json:"requestId"`
}

// LinkBank exchanges the public token, encrypts the access token, creates the
// connection record, refreshes balances, and defers the initial transaction
// sync to the background queue.
func (s *Service) LinkBank(ctx context.Context, userID, publicToken string) (*LinkResult, error) {
	exchange, err := s.client.ExchangePublicToken(ctx, publicToken)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange public token: %w", err)
	}

	info := connection.InstitutionInfo{
		ConnectionID: exchange.ItemID,
		Environment:  s.environment,
	}

	// Institution identity is display metadata; failures here degrade the
	// record, not the link.
	if item, err := s.client.GetItem(ctx, exchange.AccessToken); err != nil {
		log.Printf("User %s: Failed to fetch item metadata: %v", userID, err)
	} else {
		info.InstitutionID = item.InstitutionID
		if inst, err := s.client.GetInstitution(ctx, item.InstitutionID); err != nil {
			log.Printf("User %s: Failed to fetch institution %s: %v", userID, item.InstitutionID, err)
		} else {
			info.InstitutionName = inst.Name
			info.Logo = inst.Logo
		}
	}

	encrypted, err := s.vault.EncryptToken(ctx, exchange.AccessToken)
	if err != nil {
		// Never store plaintext: an encryption failure fails the link.
		return nil, err
	}

	conn, err := s.connections.Create(ctx, userID, encrypted, info)
	if err != nil {
		return nil, err
	}

	result := &LinkResult{
		ConnectionID:    conn.ConnectionID,
		InstitutionID:   conn.InstitutionID,
		InstitutionName: conn.InstitutionName,
		RequestID:       uuid.New().String(),
	}

	if snapshots, err := s.accounts.RefreshBalances(ctx, userID, conn.ConnectionID); err != nil {
		log.Printf("User %s: Initial balance refresh failed for connection %s: %v", userID, conn.ConnectionID, err)
	} else {
		result.AccountCount = len(snapshots)
	}

	if err := s.queue.EnqueueInitialSync(userID, conn.ConnectionID, exchange.AccessToken); err != nil {
		log.Printf("User %s: Failed to enqueue initial sync for connection %s: %v", userID, conn.ConnectionID, err)
	} else {
		result.SyncQueued = true
	}

	return result, nil
}

// RefreshAccounts refreshes balances for every active connection of the
// user, returning partial results on per-connection failures.
func (s *Service) RefreshAccounts(ctx context.Context, userID string) (*account.RefreshResult, error) {
	return s.accounts.RefreshAllBalances(ctx, userID)
}

// GetAccounts serves the cached account view; no aggregator call.
func (s *Service) GetAccounts(ctx context.Context, userID string) (*account.Overview, error) {
	return s.accounts.GetAccountsForUser(ctx, userID)
}

// RefreshTransactions runs an incremental sync from the stored cursor.
func (s *Service) RefreshTransactions(ctx context.Context, userID, connectionID string) (*syncer.Result, error) {
	return s.engine.IncrementalRefresh(ctx, userID, connectionID, connection.InitiatorUser)
}

// ForceRefreshTransactions clears the mirror for the connection and replays
// history from the beginning.
func (s *Service) ForceRefreshTransactions(ctx context.Context, userID, connectionID string) (*syncer.Result, error) {
	return s.engine.ForceResync(ctx, userID, connectionID, connection.InitiatorUser)
}

// QueryTransactions answers a filtered, paginated query over the mirror.
func (s *Service) QueryTransactions(ctx context.Context, userID string, params transaction.PageParams, f transaction.Filter) (*transaction.Page, error) {
	return s.transactions.QueryPaginated(ctx, userID, params, f)
}

// UnlinkResult reports a single-connection teardown.
type UnlinkResult struct {
	ConnectionID        string `json:"connectionId"`
	Removed             bool   `json:"removed"`
	TransactionsDeleted int64  `json:"transactionsDeleted"`
	AggregatorError     string `json:"aggregatorError,omitempty"`
}

// UnlinkBank revokes one connection: best-effort aggregator revocation, then
// authoritative local deletion of the connection and its transactions.
func (s *Service) UnlinkBank(ctx context.Context, userID, connectionID string) (*UnlinkResult, error) {
	conn, err := s.connections.GetByConnectionID(ctx, userID, connectionID)
	if err != nil {
		return nil, err
	}

	result := &UnlinkResult{ConnectionID: connectionID}

	if token, err := s.vault.DecryptToken(ctx, conn.EncryptedAccessToken); err != nil {
		result.AggregatorError = err.Error()
		log.Printf("User %s: Cannot decrypt token for connection %s: %v", userID, connectionID, err)
	} else if err := s.client.RemoveItem(ctx, token); err != nil {
		result.AggregatorError = err.Error()
		log.Printf("User %s: Aggregator revocation failed for connection %s: %v", userID, connectionID, err)
	}

	if conn.Status != connection.StatusRevoked {
		if err := s.connections.MarkRevoked(ctx, userID, connectionID); err != nil {
			log.Printf("User %s: Failed to mark connection %s revoked: %v", userID, connectionID, err)
		}
	}

	if err := s.connections.Delete(ctx, userID, connectionID); err != nil && err != connection.ErrNotFound {
		return result, fmt.Errorf("failed to delete connection: %w", err)
	}

	deleted, err := s.transactions.HardDeleteByConnection(ctx, userID, connectionID)
	if err != nil {
		return result, fmt.Errorf("failed to sweep transactions: %w", err)
	}

	result.Removed = true
	result.TransactionsDeleted = deleted
	return result, nil
}

// UnlinkAll tears down every connection and all mirrored transactions for
// the user. Local cleanup is authoritative even if the aggregator is down.
func (s *Service) UnlinkAll(ctx context.Context, userID string) (*lifecycle.RevokeResult, error) {
	return s.lifecycle.RevokeAll(ctx, userID)
}
