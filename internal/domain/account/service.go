// Package account aggregates per-connection account and balance snapshots.
package account

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"banklink/internal/domain/connection"
	"banklink/internal/infrastructure/aggregator"
	"banklink/internal/infrastructure/vault"
)

// Aggregator fetches balance snapshots from the upstream aggregator and
// serves the cached per-connection view without re-querying it.
type Aggregator struct {
	client      aggregator.Client
	vault       *vault.Vault
	connections *connection.Store
}

// NewAggregator creates the account aggregator.
func NewAggregator(client aggregator.Client, v *vault.Vault, connections *connection.Store) *Aggregator {
	return &Aggregator{
		client:      client,
		vault:       v,
		connections: connections,
	}
}

// ConnectionFailure records one connection that failed during a fan-out.
type ConnectionFailure struct {
	ConnectionID string `json:"connectionId"`
	Error        string `json:"error"`
}

// RefreshResult reports a multi-connection balance refresh; failures are
// collected per connection, never aborting the rest.
type RefreshResult struct {
	Refreshed int                 `json:"refreshed"`
	Failed    []ConnectionFailure `json:"failed"`
}

// Institution is one connection's account group in the user-facing view.
type Institution struct {
	ConnectionID    string                       `json:"connectionId"`
	InstitutionID   string                       `json:"institutionId"`
	InstitutionName string                       `json:"institutionName"`
	Logo            string                       `json:"logo,omitempty"`
	Accounts        []connection.AccountSnapshot `json:"accounts"`
	AccountCount    int                          `json:"accountCount"`
	TotalBalance    float64                      `json:"totalBalance"`
}

// Overview is the cached all-accounts view for a user.
type Overview struct {
	Institutions  []Institution `json:"institutions"`
	AccountsCount int           `json:"accountsCount"`
	BanksCount    int           `json:"banksCount"`
	TotalBalance  float64       `json:"totalBalance"`
}

// RefreshBalances fetches fresh balances for one connection and merges them
// into the stored snapshot set. On a permanent auth failure the connection is
// marked expired.
func (a *Aggregator) RefreshBalances(ctx context.Context, userID, connectionID string) ([]connection.AccountSnapshot, error) {
	conn, err := a.connections.GetByConnectionID(ctx, userID, connectionID)
	if err != nil {
		return nil, err
	}
	if conn.Status == connection.StatusRevoked {
		return nil, connection.ErrRevoked
	}

	token, err := a.vault.DecryptToken(ctx, conn.EncryptedAccessToken)
	if err != nil {
		return nil, err
	}

	started := now()
	a.setSyncInfo(ctx, userID, connectionID, connection.SyncInfo{
		Status:        connection.SyncSyncing,
		InitiatorType: connection.InitiatorUser,
		StartedAt:     &started,
	})

	accounts, err := a.client.GetBalances(ctx, token)
	if err != nil {
		if aggregator.IsAuthError(err) {
			log.Printf("User %s: Connection %s requires re-link, marking expired", userID, connectionID)
			if markErr := a.connections.MarkExpired(ctx, userID, connectionID); markErr != nil {
				log.Printf("User %s: Failed to mark connection %s expired: %v", userID, connectionID, markErr)
			}
		}
		failed := now()
		a.setSyncInfo(ctx, userID, connectionID, connection.SyncInfo{
			Status:        connection.SyncError,
			InitiatorType: connection.InitiatorUser,
			StartedAt:     &started,
			CompletedAt:   &failed,
			ErrorMessage:  err.Error(),
		})
		return nil, fmt.Errorf("failed to fetch balances: %w", err)
	}

	snapshots := make([]connection.AccountSnapshot, 0, len(accounts))
	for _, acct := range accounts {
		snapshots = append(snapshots, connection.AccountSnapshot{
			AccountID: acct.AccountID,
			Name:      acct.Name,
			Type:      acct.Type,
			Subtype:   acct.Subtype,
			Mask:      acct.Mask,
			Balances: connection.Balances{
				Available:       acct.Balances.Available,
				Current:         acct.Balances.Current,
				ISOCurrencyCode: acct.Balances.ISOCurrencyCode,
			},
			InstitutionID:   conn.InstitutionID,
			InstitutionName: conn.InstitutionName,
			Logo:            "",
		})
	}

	if _, err := a.connections.UpdateAccounts(ctx, userID, connectionID, snapshots); err != nil {
		return nil, fmt.Errorf("failed to store account snapshots: %w", err)
	}

	completed := now()
	a.setSyncInfo(ctx, userID, connectionID, connection.SyncInfo{
		Status:        connection.SyncCompleted,
		InitiatorType: connection.InitiatorUser,
		StartedAt:     &started,
		CompletedAt:   &completed,
	})

	if err := a.connections.Touch(ctx, userID, connectionID); err != nil {
		log.Printf("User %s: Failed to touch connection %s: %v", userID, connectionID, err)
	}

	log.Printf("User %s: Refreshed %d account balances for connection %s", userID, len(snapshots), connectionID)
	return snapshots, nil
}

// setSyncInfo records the account sync state; failures to record are logged,
// never fatal to the refresh itself.
func (a *Aggregator) setSyncInfo(ctx context.Context, userID, connectionID string, info connection.SyncInfo) {
	if err := a.connections.SetAccountSyncInfo(ctx, userID, connectionID, info); err != nil {
		log.Printf("User %s: Failed to record account sync state for %s: %v", userID, connectionID, err)
	}
}

func now() time.Time {
	return time.Now().UTC()
}

// RefreshAllBalances refreshes every active connection of the user
// concurrently, collecting per-connection failures and continuing.
func (a *Aggregator) RefreshAllBalances(ctx context.Context, userID string) (*RefreshResult, error) {
	conns, err := a.connections.GetActive(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}

	result := &RefreshResult{Failed: []ConnectionFailure{}}
	if len(conns) == 0 {
		return result, nil
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for _, conn := range conns {
		wg.Add(1)
		go func(connectionID string) {
			defer wg.Done()

			_, err := a.RefreshBalances(ctx, userID, connectionID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, ConnectionFailure{
					ConnectionID: connectionID,
					Error:        err.Error(),
				})
				return
			}
			result.Refreshed++
		}(conn.ConnectionID)
	}

	wg.Wait()

	if len(result.Failed) > 0 {
		log.Printf("User %s: Balance refresh completed with %d/%d failures",
			userID, len(result.Failed), len(conns))
	}

	return result, nil
}

// GetAccountsForUser serves the cached account view grouped by institution.
// It reads only from the connection store; no aggregator call is made. A
// connection whose snapshot cannot be used is skipped, not fatal.
func (a *Aggregator) GetAccountsForUser(ctx context.Context, userID string) (*Overview, error) {
	conns, err := a.connections.GetActive(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}

	overview := &Overview{Institutions: []Institution{}}
	total := decimal.Zero

	for _, conn := range conns {
		if conn.ConnectionID == "" {
			log.Printf("User %s: Skipping connection with missing id", userID)
			continue
		}

		instTotal := decimal.Zero
		for _, acct := range conn.Accounts {
			instTotal = instTotal.Add(decimal.NewFromFloat(acct.Balances.Current))
		}

		balance, _ := instTotal.Float64()
		overview.Institutions = append(overview.Institutions, Institution{
			ConnectionID:    conn.ConnectionID,
			InstitutionID:   conn.InstitutionID,
			InstitutionName: conn.InstitutionName,
			Accounts:        conn.Accounts,
			AccountCount:    len(conn.Accounts),
			TotalBalance:    balance,
		})

		overview.AccountsCount += len(conn.Accounts)
		overview.BanksCount++
		total = total.Add(instTotal)
	}

	overview.TotalBalance, _ = total.Float64()
	return overview, nil
}
