// Package lifecycle runs scheduled maintenance over the bank connection
// fleet: staleness cleanup, fleet analytics, and full user teardown.
package lifecycle

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"banklink/internal/domain/connection"
	"banklink/internal/domain/transaction"
	"banklink/internal/infrastructure/aggregator"
	"banklink/internal/infrastructure/vault"
)

// staleAnalyticsDays is the unused-for window after which a connection counts
// as stale in analytics.
const staleAnalyticsDays = 30

// Manager performs maintenance passes over every connection. It never
// touches a connection whose sync is not in a stable state.
type Manager struct {
	repo         connection.Repository
	connections  *connection.Store
	transactions *transaction.Store
	client       aggregator.Client
	vault        *vault.Vault
}

// NewManager creates a lifecycle manager.
func NewManager(repo connection.Repository, connections *connection.Store, transactions *transaction.Store, client aggregator.Client, v *vault.Vault) *Manager {
	return &Manager{
		repo:         repo,
		connections:  connections,
		transactions: transactions,
		client:       client,
		vault:        v,
	}
}

// CleanupStats reports one cleanup pass.
type CleanupStats struct {
	Checked       int `json:"checked"`
	Expired       int `json:"expired"`
	Stale         int `json:"stale"`
	InvalidMarked int `json:"invalidMarked"`
	Revoked       int `json:"revoked"`
	TotalCleaned  int `json:"totalCleaned"`
}

// CleanupStale walks the fleet: connections already expired or revoked are
// deleted, connections unused longer than daysThreshold are deleted, and
// remaining active connections are liveness-checked against the aggregator —
// auth failures mark them expired (grace period before a later pass removes
// them). Per-connection failures are logged and never abort the pass.
func (m *Manager) CleanupStale(ctx context.Context, daysThreshold int) (*CleanupStats, error) {
	if daysThreshold <= 0 {
		return nil, fmt.Errorf("daysThreshold must be positive, got %d", daysThreshold)
	}

	conns, err := m.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}

	stats := &CleanupStats{}
	cutoff := time.Now().UTC().AddDate(0, 0, -daysThreshold)

	for _, conn := range conns {
		stats.Checked++

		// Skip connections with a sync in flight; the next pass gets them.
		if conn.SyncState.Transactions.Status == connection.SyncSyncing ||
			conn.SyncState.Accounts.Status == connection.SyncSyncing {
			continue
		}

		switch conn.Status {
		case connection.StatusExpired, connection.StatusError:
			if m.teardown(ctx, conn) {
				stats.Expired++
				stats.TotalCleaned++
			}
			continue
		case connection.StatusRevoked:
			if m.teardown(ctx, conn) {
				stats.Revoked++
				stats.TotalCleaned++
			}
			continue
		}

		if conn.LastUsedAt.Before(cutoff) {
			log.Printf("User %s: Connection %s unused since %s, cleaning up",
				conn.UserID, conn.ConnectionID, conn.LastUsedAt.Format(time.RFC3339))
			// Best-effort upstream revocation; local cleanup proceeds regardless.
			m.revokeUpstream(ctx, conn)
			if m.teardown(ctx, conn) {
				stats.Stale++
				stats.TotalCleaned++
			}
			continue
		}

		if !m.isLive(ctx, conn) {
			if err := m.connections.MarkExpired(ctx, conn.UserID, conn.ConnectionID); err != nil {
				log.Printf("User %s: Failed to mark connection %s expired: %v", conn.UserID, conn.ConnectionID, err)
				continue
			}
			stats.InvalidMarked++
		}
	}

	log.Printf("Cleanup pass: checked=%d expired=%d stale=%d invalidMarked=%d revoked=%d cleaned=%d",
		stats.Checked, stats.Expired, stats.Stale, stats.InvalidMarked, stats.Revoked, stats.TotalCleaned)
	return stats, nil
}

// Analytics holds read-only aggregate counts over the fleet. It never mutates.
type Analytics struct {
	TotalConnections int            `json:"totalConnections"`
	TotalAccounts    int            `json:"totalAccounts"`
	TotalBalance     float64        `json:"totalBalance"`
	ByStatus         map[string]int `json:"byStatus"`
	ByInstitution    map[string]int `json:"byInstitution"`
	ByEnvironment    map[string]int `json:"byEnvironment"`
	StaleConnections int            `json:"staleConnections"`
}

// Analytics aggregates fleet-wide counts by status, institution, environment
// and staleness.
func (m *Manager) Analytics(ctx context.Context) (*Analytics, error) {
	conns, err := m.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}

	out := &Analytics{
		ByStatus:      make(map[string]int),
		ByInstitution: make(map[string]int),
		ByEnvironment: make(map[string]int),
	}

	staleCutoff := time.Now().UTC().AddDate(0, 0, -staleAnalyticsDays)
	total := decimal.Zero

	for _, conn := range conns {
		out.TotalConnections++
		out.TotalAccounts += len(conn.Accounts)
		out.ByStatus[string(conn.Status)]++
		out.ByEnvironment[conn.Environment]++

		name := conn.InstitutionName
		if name == "" {
			name = conn.InstitutionID
		}
		out.ByInstitution[name]++

		if conn.LastUsedAt.Before(staleCutoff) {
			out.StaleConnections++
		}

		total = total.Add(decimal.NewFromFloat(conn.Summary.TotalBalance))
	}

	out.TotalBalance, _ = total.Float64()
	return out, nil
}

// RevokeResult reports a full-user teardown.
type RevokeResult struct {
	Revoked             int      `json:"revoked"`
	TransactionsDeleted int64    `json:"transactionsDeleted"`
	AggregatorFailures  []string `json:"aggregatorFailures"`
}

// RevokeAll tears down every connection of a user: best-effort revocation at
// the aggregator (failures logged, never aborting), local revocation, then a
// hard delete of all connections and all transaction documents. Local cleanup
// is authoritative — the user's data is fully removed even if the aggregator
// is unreachable. Not cancellable mid-flight; it runs to completion.
func (m *Manager) RevokeAll(ctx context.Context, userID string) (*RevokeResult, error) {
	conns, err := m.connections.GetAll(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}

	result := &RevokeResult{AggregatorFailures: []string{}}

	for _, conn := range conns {
		if !m.revokeUpstream(ctx, conn) {
			result.AggregatorFailures = append(result.AggregatorFailures, conn.ConnectionID)
		}

		if conn.Status != connection.StatusRevoked {
			if err := m.connections.MarkRevoked(ctx, userID, conn.ConnectionID); err != nil {
				log.Printf("User %s: Failed to mark connection %s revoked: %v", userID, conn.ConnectionID, err)
			}
		}

		if err := m.connections.Delete(ctx, userID, conn.ConnectionID); err != nil && err != connection.ErrNotFound {
			log.Printf("User %s: Failed to delete connection %s: %v", userID, conn.ConnectionID, err)
			continue
		}
		result.Revoked++
	}

	deleted, err := m.transactions.HardDeleteByUser(ctx, userID)
	if err != nil {
		return result, fmt.Errorf("failed to delete user transactions: %w", err)
	}
	result.TransactionsDeleted = deleted

	log.Printf("User %s: Revoked %d connections, deleted %d transactions, %d aggregator failures",
		userID, result.Revoked, deleted, len(result.AggregatorFailures))
	return result, nil
}

// revokeUpstream revokes the token at the aggregator. Best effort: returns
// false on failure, which callers log but never treat as fatal.
func (m *Manager) revokeUpstream(ctx context.Context, conn *connection.BankConnection) bool {
	token, err := m.vault.DecryptToken(ctx, conn.EncryptedAccessToken)
	if err != nil {
		log.Printf("User %s: Cannot decrypt token for connection %s: %v", conn.UserID, conn.ConnectionID, err)
		return false
	}

	if err := m.client.RemoveItem(ctx, token); err != nil {
		log.Printf("User %s: Aggregator revocation failed for connection %s: %v", conn.UserID, conn.ConnectionID, err)
		return false
	}

	return true
}

// isLive verifies the connection's token is still accepted by the aggregator.
// Transient failures count as live; only a permanent auth failure is dead.
func (m *Manager) isLive(ctx context.Context, conn *connection.BankConnection) bool {
	token, err := m.vault.DecryptToken(ctx, conn.EncryptedAccessToken)
	if err != nil {
		log.Printf("User %s: Cannot decrypt token for connection %s during liveness check: %v",
			conn.UserID, conn.ConnectionID, err)
		return true
	}

	if _, err := m.client.GetItem(ctx, token); err != nil {
		if aggregator.IsAuthError(err) {
			return false
		}
		log.Printf("User %s: Liveness check inconclusive for connection %s: %v", conn.UserID, conn.ConnectionID, err)
	}

	return true
}

// teardown removes the connection record and its transaction documents.
func (m *Manager) teardown(ctx context.Context, conn *connection.BankConnection) bool {
	if err := m.connections.Delete(ctx, conn.UserID, conn.ConnectionID); err != nil && err != connection.ErrNotFound {
		log.Printf("User %s: Failed to delete connection %s: %v", conn.UserID, conn.ConnectionID, err)
		return false
	}

	if _, err := m.transactions.HardDeleteByConnection(ctx, conn.UserID, conn.ConnectionID); err != nil {
		log.Printf("User %s: Failed to sweep transactions for connection %s: %v", conn.UserID, conn.ConnectionID, err)
	}

	return true
}
