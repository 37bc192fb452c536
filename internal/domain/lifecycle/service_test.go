package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"banklink/internal/domain/connection"
	"banklink/internal/domain/transaction"
	"banklink/internal/infrastructure/aggregator"
	"banklink/internal/infrastructure/vault"
)

// MockClient implements aggregator.Client for testing.
type MockClient struct {
	GetItemFunc    func(ctx context.Context, accessToken string) (*aggregator.Item, error)
	RemoveItemFunc func(ctx context.Context, accessToken string) error
}

func (m *MockClient) CreateLinkToken(ctx context.Context, userID string) (string, error) {
	return "link-token", nil
}

func (m *MockClient) ExchangePublicToken(ctx context.Context, publicToken string) (*aggregator.TokenExchange, error) {
	return &aggregator.TokenExchange{AccessToken: "access-token", ItemID: "item-1"}, nil
}

func (m *MockClient) GetItem(ctx context.Context, accessToken string) (*aggregator.Item, error) {
	if m.GetItemFunc != nil {
		return m.GetItemFunc(ctx, accessToken)
	}
	return &aggregator.Item{ItemID: "item-1"}, nil
}

func (m *MockClient) GetInstitution(ctx context.Context, institutionID string) (*aggregator.Institution, error) {
	return &aggregator.Institution{InstitutionID: institutionID}, nil
}

func (m *MockClient) GetBalances(ctx context.Context, accessToken string) ([]aggregator.Account, error) {
	return nil, nil
}

func (m *MockClient) SyncTransactions(ctx context.Context, accessToken, cursor string) (*aggregator.SyncPage, error) {
	return &aggregator.SyncPage{}, nil
}

func (m *MockClient) RemoveItem(ctx context.Context, accessToken string) error {
	if m.RemoveItemFunc != nil {
		return m.RemoveItemFunc(ctx, accessToken)
	}
	return nil
}

// fakeConnRepo is an in-memory connection.Repository.
type fakeConnRepo struct {
	mu    sync.Mutex
	conns map[string]*connection.BankConnection
}

func newFakeConnRepo() *fakeConnRepo {
	return &fakeConnRepo{conns: make(map[string]*connection.BankConnection)}
}

func key(userID, connectionID string) string { return userID + "|" + connectionID }

func (r *fakeConnRepo) Insert(ctx context.Context, conn *connection.BankConnection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(conn.UserID, conn.ConnectionID)
	if _, ok := r.conns[k]; ok {
		return connection.ErrConflict
	}
	copied := *conn
	r.conns[k] = &copied
	return nil
}

func (r *fakeConnRepo) Get(ctx context.Context, userID, connectionID string) (*connection.BankConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[key(userID, connectionID)]
	if !ok {
		return nil, connection.ErrNotFound
	}
	copied := *conn
	return &copied, nil
}

func (r *fakeConnRepo) ListByUser(ctx context.Context, userID string) ([]*connection.BankConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*connection.BankConnection
	for _, conn := range r.conns {
		if conn.UserID == userID {
			copied := *conn
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeConnRepo) ListByStatus(ctx context.Context, userID string, status connection.Status) ([]*connection.BankConnection, error) {
	conns, _ := r.ListByUser(ctx, userID)
	var out []*connection.BankConnection
	for _, conn := range conns {
		if conn.Status == status {
			out = append(out, conn)
		}
	}
	return out, nil
}

func (r *fakeConnRepo) ListAll(ctx context.Context) ([]*connection.BankConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*connection.BankConnection
	for _, conn := range r.conns {
		copied := *conn
		out = append(out, &copied)
	}
	return out, nil
}

func (r *fakeConnRepo) ReplaceAccounts(ctx context.Context, userID, connectionID string, accounts []connection.AccountSnapshot, summary connection.Summary, expectedVersion int64) error {
	return nil
}

func (r *fakeConnRepo) UpdateStatus(ctx context.Context, userID, connectionID string, status connection.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[key(userID, connectionID)]
	if !ok {
		return connection.ErrNotFound
	}
	conn.Status = status
	return nil
}

func (r *fakeConnRepo) SetAccountSyncInfo(ctx context.Context, userID, connectionID string, info connection.SyncInfo) error {
	return nil
}

func (r *fakeConnRepo) SetTransactionSyncInfo(ctx context.Context, userID, connectionID string, info connection.TransactionSyncInfo) error {
	return nil
}

func (r *fakeConnRepo) Touch(ctx context.Context, userID, connectionID string) error { return nil }

func (r *fakeConnRepo) Delete(ctx context.Context, userID, connectionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(userID, connectionID)
	if _, ok := r.conns[k]; !ok {
		return connection.ErrNotFound
	}
	delete(r.conns, k)
	return nil
}

func (r *fakeConnRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// fakeTxnRepo is an in-memory transaction.Repository.
type fakeTxnRepo struct {
	mu   sync.Mutex
	docs map[string]*transaction.Transaction
}

func newFakeTxnRepo() *fakeTxnRepo {
	return &fakeTxnRepo{docs: make(map[string]*transaction.Transaction)}
}

func (r *fakeTxnRepo) UpsertBatch(ctx context.Context, docs []*transaction.Transaction) (*transaction.BatchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, doc := range docs {
		copied := *doc
		r.docs[doc.DocumentID] = &copied
	}
	return &transaction.BatchResult{Upserted: len(docs)}, nil
}

func (r *fakeTxnRepo) SoftDelete(ctx context.Context, userID string, transactionIDs []string, sourceCursor string) error {
	return nil
}

func (r *fakeTxnRepo) HardDeleteByConnection(ctx context.Context, userID, connectionID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for id, doc := range r.docs {
		if doc.UserID == userID && doc.ConnectionID == connectionID {
			delete(r.docs, id)
			count++
		}
	}
	return count, nil
}

func (r *fakeTxnRepo) HardDeleteByUser(ctx context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for id, doc := range r.docs {
		if doc.UserID == userID {
			delete(r.docs, id)
			count++
		}
	}
	return count, nil
}

func (r *fakeTxnRepo) Query(ctx context.Context, userID string, f transaction.Filter, sort transaction.SortSpec, skip, limit int64) ([]*transaction.Transaction, error) {
	return nil, nil
}

func (r *fakeTxnRepo) Count(ctx context.Context, userID string, f transaction.Filter) (int64, error) {
	return 0, nil
}

const vaultTestKey = "01234567890123456789012345678901"

type fixture struct {
	manager  *Manager
	connRepo *fakeConnRepo
	txnRepo  *fakeTxnRepo
	vault    *vault.Vault
}

func newFixture(t *testing.T, client aggregator.Client) *fixture {
	t.Helper()
	keys, err := vault.NewLocalKeyService(vaultTestKey)
	if err != nil {
		t.Fatalf("NewLocalKeyService() failed: %v", err)
	}
	v := vault.New(keys)
	connRepo := newFakeConnRepo()
	txnRepo := newFakeTxnRepo()
	manager := NewManager(connRepo, connection.NewStore(connRepo), transaction.NewStore(txnRepo), client, v)
	return &fixture{manager: manager, connRepo: connRepo, txnRepo: txnRepo, vault: v}
}

type seed struct {
	connectionID string
	status       connection.Status
	lastUsed     time.Time
	syncing      bool
}

func (f *fixture) seedConnection(t *testing.T, s seed) {
	t.Helper()
	encrypted, err := f.vault.EncryptToken(context.Background(), "token-"+s.connectionID)
	if err != nil {
		t.Fatalf("EncryptToken() failed: %v", err)
	}

	lastUsed := s.lastUsed
	if lastUsed.IsZero() {
		lastUsed = time.Now().UTC()
	}

	conn := &connection.BankConnection{
		ConnectionID:         s.connectionID,
		UserID:               "user-1",
		EncryptedAccessToken: encrypted,
		InstitutionID:        "ins-1",
		InstitutionName:      "First Test Bank",
		Status:               s.status,
		Environment:          "sandbox",
		LastUsedAt:           lastUsed,
	}
	if s.syncing {
		conn.SyncState.Transactions.Status = connection.SyncSyncing
	}

	if err := f.connRepo.Insert(context.Background(), conn); err != nil {
		t.Fatalf("seed insert failed: %v", err)
	}
}

func (f *fixture) seedTransactions(t *testing.T, connectionID string, n int) {
	t.Helper()
	docs := make([]*transaction.Transaction, 0, n)
	for i := 0; i < n; i++ {
		txnID := connectionID + "-txn-" + string(rune('a'+i))
		docs = append(docs, &transaction.Transaction{
			DocumentID:    transaction.DocumentID("user-1", txnID),
			UserID:        "user-1",
			ConnectionID:  connectionID,
			TransactionID: txnID,
			AccountID:     "acct-1",
		})
	}
	if _, err := f.txnRepo.UpsertBatch(context.Background(), docs); err != nil {
		t.Fatalf("seed transactions failed: %v", err)
	}
}

func TestCleanupStale(t *testing.T) {
	f := newFixture(t, &MockClient{})

	f.seedConnection(t, seed{connectionID: "conn-active", status: connection.StatusActive})
	f.seedConnection(t, seed{connectionID: "conn-expired", status: connection.StatusExpired})
	f.seedConnection(t, seed{connectionID: "conn-revoked", status: connection.StatusRevoked})
	f.seedConnection(t, seed{
		connectionID: "conn-stale",
		status:       connection.StatusActive,
		lastUsed:     time.Now().UTC().AddDate(0, 0, -120),
	})
	f.seedTransactions(t, "conn-expired", 2)
	f.seedTransactions(t, "conn-stale", 3)

	stats, err := f.manager.CleanupStale(context.Background(), 90)
	if err != nil {
		t.Fatalf("CleanupStale() failed: %v", err)
	}

	if stats.Checked != 4 {
		t.Errorf("Checked = %d, want 4", stats.Checked)
	}
	if stats.Expired != 1 {
		t.Errorf("Expired = %d, want 1", stats.Expired)
	}
	if stats.Revoked != 1 {
		t.Errorf("Revoked = %d, want 1", stats.Revoked)
	}
	if stats.Stale != 1 {
		t.Errorf("Stale = %d, want 1", stats.Stale)
	}
	if stats.TotalCleaned != 3 {
		t.Errorf("TotalCleaned = %d, want 3", stats.TotalCleaned)
	}

	// Only the healthy active connection survives, and the cleaned
	// connections' transaction mirrors are swept with them.
	if f.connRepo.count() != 1 {
		t.Errorf("%d connections remain, want 1", f.connRepo.count())
	}
	if len(f.txnRepo.docs) != 0 {
		t.Errorf("%d transaction documents remain, want 0", len(f.txnRepo.docs))
	}
}

func TestCleanupStale_SkipsSyncingConnections(t *testing.T) {
	f := newFixture(t, &MockClient{})
	f.seedConnection(t, seed{connectionID: "conn-1", status: connection.StatusExpired, syncing: true})

	stats, err := f.manager.CleanupStale(context.Background(), 90)
	if err != nil {
		t.Fatalf("CleanupStale() failed: %v", err)
	}

	if stats.TotalCleaned != 0 {
		t.Errorf("TotalCleaned = %d, want 0 (in-flight sync must be skipped)", stats.TotalCleaned)
	}
	if f.connRepo.count() != 1 {
		t.Error("connection with in-flight sync was deleted")
	}
}

func TestCleanupStale_DeadTokenMarkedExpired(t *testing.T) {
	client := &MockClient{
		GetItemFunc: func(ctx context.Context, accessToken string) (*aggregator.Item, error) {
			return nil, &aggregator.AuthError{Code: aggregator.CodeItemNotFound, Message: "item deleted"}
		},
	}
	f := newFixture(t, client)
	f.seedConnection(t, seed{connectionID: "conn-1", status: connection.StatusActive})

	stats, err := f.manager.CleanupStale(context.Background(), 90)
	if err != nil {
		t.Fatalf("CleanupStale() failed: %v", err)
	}

	if stats.InvalidMarked != 1 {
		t.Errorf("InvalidMarked = %d, want 1", stats.InvalidMarked)
	}
	// Marked expired but not deleted; the grace period ends on a later pass.
	conn, err := f.connRepo.Get(context.Background(), "user-1", "conn-1")
	if err != nil {
		t.Fatalf("connection was deleted, want it retained: %v", err)
	}
	if conn.Status != connection.StatusExpired {
		t.Errorf("connection status = %s, want %s", conn.Status, connection.StatusExpired)
	}
}

func TestCleanupStale_TransientLivenessFailureIgnored(t *testing.T) {
	client := &MockClient{
		GetItemFunc: func(ctx context.Context, accessToken string) (*aggregator.Item, error) {
			return nil, &aggregator.TransientError{StatusCode: 500, Err: errors.New("aggregator down")}
		},
	}
	f := newFixture(t, client)
	f.seedConnection(t, seed{connectionID: "conn-1", status: connection.StatusActive})

	stats, err := f.manager.CleanupStale(context.Background(), 90)
	if err != nil {
		t.Fatalf("CleanupStale() failed: %v", err)
	}

	if stats.InvalidMarked != 0 {
		t.Errorf("InvalidMarked = %d, want 0 (transient failure is not proof of death)", stats.InvalidMarked)
	}
	conn, _ := f.connRepo.Get(context.Background(), "user-1", "conn-1")
	if conn.Status != connection.StatusActive {
		t.Errorf("connection status = %s, want %s", conn.Status, connection.StatusActive)
	}
}

func TestCleanupStale_InvalidThreshold(t *testing.T) {
	f := newFixture(t, &MockClient{})

	if _, err := f.manager.CleanupStale(context.Background(), 0); err == nil {
		t.Error("CleanupStale(0) expected error, got nil")
	}
	if _, err := f.manager.CleanupStale(context.Background(), -5); err == nil {
		t.Error("CleanupStale(-5) expected error, got nil")
	}
}

func TestAnalytics(t *testing.T) {
	f := newFixture(t, &MockClient{})
	f.seedConnection(t, seed{connectionID: "conn-1", status: connection.StatusActive})
	f.seedConnection(t, seed{connectionID: "conn-2", status: connection.StatusActive})
	f.seedConnection(t, seed{connectionID: "conn-3", status: connection.StatusExpired})
	f.seedConnection(t, seed{
		connectionID: "conn-4",
		status:       connection.StatusActive,
		lastUsed:     time.Now().UTC().AddDate(0, 0, -60),
	})

	analytics, err := f.manager.Analytics(context.Background())
	if err != nil {
		t.Fatalf("Analytics() failed: %v", err)
	}

	if analytics.TotalConnections != 4 {
		t.Errorf("TotalConnections = %d, want 4", analytics.TotalConnections)
	}
	if analytics.ByStatus["active"] != 3 || analytics.ByStatus["expired"] != 1 {
		t.Errorf("ByStatus = %v, want active=3 expired=1", analytics.ByStatus)
	}
	if analytics.ByInstitution["First Test Bank"] != 4 {
		t.Errorf("ByInstitution = %v, want First Test Bank=4", analytics.ByInstitution)
	}
	if analytics.ByEnvironment["sandbox"] != 4 {
		t.Errorf("ByEnvironment = %v, want sandbox=4", analytics.ByEnvironment)
	}
	if analytics.StaleConnections != 1 {
		t.Errorf("StaleConnections = %d, want 1", analytics.StaleConnections)
	}

	// Read-only: nothing was deleted or transitioned.
	if f.connRepo.count() != 4 {
		t.Errorf("%d connections remain after analytics, want 4", f.connRepo.count())
	}
}

func TestRevokeAll(t *testing.T) {
	var removed []string
	client := &MockClient{
		RemoveItemFunc: func(ctx context.Context, accessToken string) error {
			removed = append(removed, accessToken)
			return nil
		},
	}
	f := newFixture(t, client)
	f.seedConnection(t, seed{connectionID: "conn-1", status: connection.StatusActive})
	f.seedConnection(t, seed{connectionID: "conn-2", status: connection.StatusExpired})
	f.seedTransactions(t, "conn-1", 3)
	f.seedTransactions(t, "conn-2", 2)

	result, err := f.manager.RevokeAll(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("RevokeAll() failed: %v", err)
	}

	if result.Revoked != 2 {
		t.Errorf("Revoked = %d, want 2", result.Revoked)
	}
	if result.TransactionsDeleted != 5 {
		t.Errorf("TransactionsDeleted = %d, want 5", result.TransactionsDeleted)
	}
	if len(result.AggregatorFailures) != 0 {
		t.Errorf("AggregatorFailures = %v, want none", result.AggregatorFailures)
	}
	if len(removed) != 2 {
		t.Errorf("aggregator RemoveItem called %d times, want 2", len(removed))
	}
	if f.connRepo.count() != 0 {
		t.Errorf("%d connections remain, want 0", f.connRepo.count())
	}
}

func TestRevokeAll_AggregatorFailureDoesNotAbort(t *testing.T) {
	client := &MockClient{
		RemoveItemFunc: func(ctx context.Context, accessToken string) error {
			return &aggregator.TransientError{StatusCode: 503, Err: errors.New("unavailable")}
		},
	}
	f := newFixture(t, client)
	f.seedConnection(t, seed{connectionID: "conn-1", status: connection.StatusActive})
	f.seedTransactions(t, "conn-1", 2)

	result, err := f.manager.RevokeAll(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("RevokeAll() failed: %v", err)
	}

	// Local teardown is authoritative even when the aggregator is down.
	if result.Revoked != 1 {
		t.Errorf("Revoked = %d, want 1", result.Revoked)
	}
	if len(result.AggregatorFailures) != 1 || result.AggregatorFailures[0] != "conn-1" {
		t.Errorf("AggregatorFailures = %v, want [conn-1]", result.AggregatorFailures)
	}
	if result.TransactionsDeleted != 2 {
		t.Errorf("TransactionsDeleted = %d, want 2", result.TransactionsDeleted)
	}
	if f.connRepo.count() != 0 {
		t.Error("connection survived a user-wide revocation")
	}
}

func TestRevokeAll_NoConnections(t *testing.T) {
	f := newFixture(t, &MockClient{})

	result, err := f.manager.RevokeAll(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("RevokeAll() failed: %v", err)
	}
	if result.Revoked != 0 || result.TransactionsDeleted != 0 {
		t.Errorf("result = %+v, want empty", result)
	}
}
