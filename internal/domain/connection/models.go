// Package connection defines the bank connection model and the store that
// owns its status transitions.
package connection

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a bank connection.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
	StatusError   Status = "error"
)

// SyncStatus tracks a single sync attempt for one sync type.
type SyncStatus string

const (
	SyncPending   SyncStatus = "pending"
	SyncSyncing   SyncStatus = "syncing"
	SyncCompleted SyncStatus = "completed"
	SyncError     SyncStatus = "error"
)

// InitiatorType identifies what triggered a sync.
type InitiatorType string

const (
	InitiatorUser    InitiatorType = "user"
	InitiatorSystem  InitiatorType = "system"
	InitiatorWebhook InitiatorType = "webhook"
)

// Balances holds the balance figures reported by the aggregator for one account.
type Balances struct {
	Available       float64 `bson:"available" json:"available"`
	Current         float64 `bson:"current" json:"current"`
	ISOCurrencyCode string  `bson:"isoCurrencyCode" json:"isoCurrencyCode"`
}

// AccountSnapshot is one account as last reported by the aggregator.
// Snapshots exist only nested inside a BankConnection.
type AccountSnapshot struct {
	AccountID       string   `bson:"accountId" json:"accountId"`
	Name            string   `bson:"name" json:"name"`
	Type            string   `bson:"type" json:"type"`
	Subtype         string   `bson:"subtype,omitempty" json:"subtype,omitempty"`
	Mask            string   `bson:"mask,omitempty" json:"mask,omitempty"`
	Balances        Balances `bson:"balances" json:"balances"`
	InstitutionID   string   `bson:"institutionId,omitempty" json:"institutionId,omitempty"`
	InstitutionName string   `bson:"institutionName,omitempty" json:"institutionName,omitempty"`
	Logo            string   `bson:"logo,omitempty" json:"logo,omitempty"`
}

// Summary is recomputed from the account snapshots on every balance refresh.
type Summary struct {
	AccountCount int     `bson:"accountCount" json:"accountCount"`
	TotalBalance float64 `bson:"totalBalance" json:"totalBalance"`
}

// SyncInfo records the state of the most recent sync attempt of one type.
// Transitions are monotonic per attempt: pending -> syncing -> completed|error.
type SyncInfo struct {
	Status        SyncStatus    `bson:"status" json:"status"`
	InitiatorType InitiatorType `bson:"initiatorType,omitempty" json:"initiatorType,omitempty"`
	InitiatorID   string        `bson:"initiatorId,omitempty" json:"initiatorId,omitempty"`
	StartedAt     *time.Time    `bson:"startedAt,omitempty" json:"startedAt,omitempty"`
	CompletedAt   *time.Time    `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
	ErrorMessage  string        `bson:"errorMessage,omitempty" json:"errorMessage,omitempty"`
}

// TransactionSyncInfo extends SyncInfo with the aggregator cursor. The cursor
// is opaque and must only ever hold a value whose batch was fully persisted.
type TransactionSyncInfo struct {
	SyncInfo   `bson:",inline"`
	NextCursor string `bson:"nextCursor,omitempty" json:"nextCursor,omitempty"`
}

// SyncState groups the independently evolving sync states of a connection.
type SyncState struct {
	Accounts     SyncInfo            `bson:"accounts" json:"accounts"`
	Transactions TransactionSyncInfo `bson:"transactions" json:"transactions"`
}

// BankConnection is one linked institution login ("item") for one user.
// The user id is the partition key; every read and write is scoped by it.
type BankConnection struct {
	ConnectionID         string            `bson:"connectionId" json:"connectionId"`
	UserID               string            `bson:"userId" json:"userId"`
	EncryptedAccessToken string            `bson:"encryptedAccessToken" json:"-"`
	InstitutionID        string            `bson:"institutionId" json:"institutionId"`
	InstitutionName      string            `bson:"institutionName" json:"institutionName"`
	Status               Status            `bson:"status" json:"status"`
	Environment          string            `bson:"environment" json:"environment"`
	CreatedAt            time.Time         `bson:"createdAt" json:"createdAt"`
	UpdatedAt            time.Time         `bson:"updatedAt" json:"updatedAt"`
	LastUsedAt           time.Time         `bson:"lastUsedAt" json:"lastUsedAt"`
	Accounts             []AccountSnapshot `bson:"accounts" json:"accounts"`
	Summary              Summary           `bson:"summary" json:"summary"`
	SyncState            SyncState         `bson:"syncState" json:"syncState"`
	Version              int64             `bson:"version" json:"-"`
}

// InstitutionInfo carries the institution identity captured at link time.
type InstitutionInfo struct {
	ConnectionID    string
	InstitutionID   string
	InstitutionName string
	Logo            string
	Environment     string
}

// MergeAccounts merges incoming snapshots into existing ones by accountId.
// Incoming snapshots overwrite matches; accounts seen previously but absent
// from the incoming set are retained, so two in-flight refreshes that each
// saw a subset cannot drop each other's accounts.
func MergeAccounts(existing, incoming []AccountSnapshot) []AccountSnapshot {
	merged := make([]AccountSnapshot, 0, len(existing)+len(incoming))
	seen := make(map[string]int, len(existing))

	for _, acct := range existing {
		seen[acct.AccountID] = len(merged)
		merged = append(merged, acct)
	}
	for _, acct := range incoming {
		if idx, ok := seen[acct.AccountID]; ok {
			merged[idx] = acct
			continue
		}
		seen[acct.AccountID] = len(merged)
		merged = append(merged, acct)
	}

	return merged
}

// ComputeSummary recomputes the connection summary from a merged account set.
// Totals are accumulated with decimal arithmetic to avoid float drift.
func ComputeSummary(accounts []AccountSnapshot) Summary {
	total := decimal.Zero
	for _, acct := range accounts {
		total = total.Add(decimal.NewFromFloat(acct.Balances.Current))
	}

	f, _ := total.Float64()
	return Summary{
		AccountCount: len(accounts),
		TotalBalance: f,
	}
}

// CanSync reports whether sync operations may still run against the connection.
func (c *BankConnection) CanSync() bool {
	return c.Status == StatusActive || c.Status == StatusError
}

// canTransition validates a status change. Revoked is terminal.
func canTransition(from, to Status) bool {
	if from == StatusRevoked {
		return false
	}
	return from != to
}
