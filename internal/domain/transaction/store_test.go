package transaction

import (
	"context"
	"testing"
	"time"
)

// MockRepository implements Repository for testing.
type MockRepository struct {
	UpsertBatchFunc            func(ctx context.Context, docs []*Transaction) (*BatchResult, error)
	SoftDeleteFunc             func(ctx context.Context, userID string, transactionIDs []string, sourceCursor string) error
	HardDeleteByConnectionFunc func(ctx context.Context, userID, connectionID string) (int64, error)
	HardDeleteByUserFunc       func(ctx context.Context, userID string) (int64, error)
	QueryFunc                  func(ctx context.Context, userID string, f Filter, sort SortSpec, skip, limit int64) ([]*Transaction, error)
	CountFunc                  func(ctx context.Context, userID string, f Filter) (int64, error)
}

func (m *MockRepository) UpsertBatch(ctx context.Context, docs []*Transaction) (*BatchResult, error) {
	if m.UpsertBatchFunc != nil {
		return m.UpsertBatchFunc(ctx, docs)
	}
	return &BatchResult{Upserted: len(docs)}, nil
}

func (m *MockRepository) SoftDelete(ctx context.Context, userID string, transactionIDs []string, sourceCursor string) error {
	if m.SoftDeleteFunc != nil {
		return m.SoftDeleteFunc(ctx, userID, transactionIDs, sourceCursor)
	}
	return nil
}

func (m *MockRepository) HardDeleteByConnection(ctx context.Context, userID, connectionID string) (int64, error) {
	if m.HardDeleteByConnectionFunc != nil {
		return m.HardDeleteByConnectionFunc(ctx, userID, connectionID)
	}
	return 0, nil
}

func (m *MockRepository) HardDeleteByUser(ctx context.Context, userID string) (int64, error) {
	if m.HardDeleteByUserFunc != nil {
		return m.HardDeleteByUserFunc(ctx, userID)
	}
	return 0, nil
}

func (m *MockRepository) Query(ctx context.Context, userID string, f Filter, sort SortSpec, skip, limit int64) ([]*Transaction, error) {
	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, userID, f, sort, skip, limit)
	}
	return nil, nil
}

func (m *MockRepository) Count(ctx context.Context, userID string, f Filter) (int64, error) {
	if m.CountFunc != nil {
		return m.CountFunc(ctx, userID, f)
	}
	return 0, nil
}

func testDoc(userID, txnID string) *Transaction {
	return &Transaction{
		UserID:        userID,
		ConnectionID:  "conn-1",
		TransactionID: txnID,
		AccountID:     "acct-1",
		Amount:        12.34,
		Date:          time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
		Description:   "Coffee",
	}
}

func TestDocumentID_Deterministic(t *testing.T) {
	first := DocumentID("user-1", "txn-1")
	second := DocumentID("user-1", "txn-1")
	if first != second {
		t.Errorf("DocumentID not deterministic: %q vs %q", first, second)
	}
	if len(first) != 64 {
		t.Errorf("DocumentID length = %d, want 64 hex chars", len(first))
	}
}

func TestDocumentID_ScopedByUser(t *testing.T) {
	if DocumentID("user-1", "txn-1") == DocumentID("user-2", "txn-1") {
		t.Error("DocumentID collides across users for the same transaction id")
	}
}

func TestStore_UpsertBatch_DerivesDocumentID(t *testing.T) {
	var captured []*Transaction
	repo := &MockRepository{
		UpsertBatchFunc: func(ctx context.Context, docs []*Transaction) (*BatchResult, error) {
			captured = docs
			return &BatchResult{Upserted: len(docs)}, nil
		},
	}
	store := NewStore(repo)

	result, err := store.UpsertBatch(context.Background(), []*Transaction{testDoc("user-1", "txn-1")})
	if err != nil {
		t.Fatalf("UpsertBatch() failed: %v", err)
	}
	if result.Upserted != 1 {
		t.Errorf("Upserted = %d, want 1", result.Upserted)
	}

	want := DocumentID("user-1", "txn-1")
	if captured[0].DocumentID != want {
		t.Errorf("DocumentID = %q, want %q", captured[0].DocumentID, want)
	}
	if captured[0].Meta.UpdatedAt.IsZero() {
		t.Error("Meta.UpdatedAt not stamped")
	}
}

func TestStore_UpsertBatch_RejectsMismatchedDocumentID(t *testing.T) {
	store := NewStore(&MockRepository{})

	doc := testDoc("user-1", "txn-1")
	doc.DocumentID = DocumentID("user-2", "txn-1")

	if _, err := store.UpsertBatch(context.Background(), []*Transaction{doc}); err == nil {
		t.Error("UpsertBatch() accepted a document id derived from another user")
	}
}

func TestStore_UpsertBatch_Validation(t *testing.T) {
	store := NewStore(&MockRepository{})
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*Transaction)
	}{
		{"missing userId", func(d *Transaction) { d.UserID = "" }},
		{"missing connectionId", func(d *Transaction) { d.ConnectionID = "" }},
		{"missing transactionId", func(d *Transaction) { d.TransactionID = "" }},
		{"missing accountId", func(d *Transaction) { d.AccountID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := testDoc("user-1", "txn-1")
			tt.mutate(doc)
			if _, err := store.UpsertBatch(ctx, []*Transaction{doc}); err == nil {
				t.Error("UpsertBatch() expected validation error, got nil")
			}
		})
	}
}

func TestStore_UpsertBatch_EmptyBatch(t *testing.T) {
	called := false
	repo := &MockRepository{
		UpsertBatchFunc: func(ctx context.Context, docs []*Transaction) (*BatchResult, error) {
			called = true
			return &BatchResult{}, nil
		},
	}
	store := NewStore(repo)

	result, err := store.UpsertBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("UpsertBatch(nil) failed: %v", err)
	}
	if result.Upserted != 0 || result.Failed() != 0 {
		t.Errorf("UpsertBatch(nil) result = %+v, want empty", result)
	}
	if called {
		t.Error("repository called for empty batch")
	}
}

func TestStore_UpsertBatch_PartialFailuresReported(t *testing.T) {
	repo := &MockRepository{
		UpsertBatchFunc: func(ctx context.Context, docs []*Transaction) (*BatchResult, error) {
			return &BatchResult{Upserted: 1, FailedIDs: []string{"txn-2"}}, nil
		},
	}
	store := NewStore(repo)

	result, err := store.UpsertBatch(context.Background(), []*Transaction{
		testDoc("user-1", "txn-1"),
		testDoc("user-1", "txn-2"),
	})
	if err != nil {
		t.Fatalf("UpsertBatch() failed: %v", err)
	}
	if result.Failed() != 1 || result.FailedIDs[0] != "txn-2" {
		t.Errorf("FailedIDs = %v, want [txn-2]", result.FailedIDs)
	}
}

func TestStore_SoftDelete_EmptyIsNoOp(t *testing.T) {
	called := false
	repo := &MockRepository{
		SoftDeleteFunc: func(ctx context.Context, userID string, ids []string, cursor string) error {
			called = true
			return nil
		},
	}
	store := NewStore(repo)

	if err := store.SoftDelete(context.Background(), "user-1", nil, "cursor-1"); err != nil {
		t.Fatalf("SoftDelete() failed: %v", err)
	}
	if called {
		t.Error("repository called for empty id list")
	}
}

func TestStore_QueryPaginated_NormalizesParams(t *testing.T) {
	var gotSort SortSpec
	var gotSkip, gotLimit int64
	repo := &MockRepository{
		CountFunc: func(ctx context.Context, userID string, f Filter) (int64, error) {
			return 10, nil
		},
		QueryFunc: func(ctx context.Context, userID string, f Filter, sort SortSpec, skip, limit int64) ([]*Transaction, error) {
			gotSort, gotSkip, gotLimit = sort, skip, limit
			return []*Transaction{testDoc("user-1", "txn-1")}, nil
		},
	}
	store := NewStore(repo)

	page, err := store.QueryPaginated(context.Background(), "user-1", PageParams{}, Filter{})
	if err != nil {
		t.Fatalf("QueryPaginated() failed: %v", err)
	}

	if page.Page != 1 || page.PageSize != defaultPageSize {
		t.Errorf("page = %d size = %d, want 1 and %d", page.Page, page.PageSize, defaultPageSize)
	}
	if gotSort.Field != SortByDate || !gotSort.Descending {
		t.Errorf("default sort = %+v, want date descending", gotSort)
	}
	if gotSkip != 0 || gotLimit != defaultPageSize {
		t.Errorf("skip = %d limit = %d, want 0 and %d", gotSkip, gotLimit, defaultPageSize)
	}
}

func TestStore_QueryPaginated_CapsPageSize(t *testing.T) {
	repo := &MockRepository{
		CountFunc: func(ctx context.Context, userID string, f Filter) (int64, error) { return 0, nil },
	}
	store := NewStore(repo)

	page, err := store.QueryPaginated(context.Background(), "user-1", PageParams{PageSize: 10000}, Filter{})
	if err != nil {
		t.Fatalf("QueryPaginated() failed: %v", err)
	}
	if page.PageSize != maxPageSize {
		t.Errorf("PageSize = %d, want capped at %d", page.PageSize, maxPageSize)
	}
}

func TestStore_QueryPaginated_InvalidSort(t *testing.T) {
	store := NewStore(&MockRepository{})

	if _, err := store.QueryPaginated(context.Background(), "user-1", PageParams{SortBy: "merchant"}, Filter{}); err == nil {
		t.Error("QueryPaginated() accepted unsupported sort field")
	}
	if _, err := store.QueryPaginated(context.Background(), "user-1", PageParams{SortOrder: "sideways"}, Filter{}); err == nil {
		t.Error("QueryPaginated() accepted unsupported sort order")
	}
}

func TestStore_QueryPaginated_PageBeyondLast(t *testing.T) {
	queried := false
	repo := &MockRepository{
		CountFunc: func(ctx context.Context, userID string, f Filter) (int64, error) {
			return 25, nil
		},
		QueryFunc: func(ctx context.Context, userID string, f Filter, sort SortSpec, skip, limit int64) ([]*Transaction, error) {
			queried = true
			return nil, nil
		},
	}
	store := NewStore(repo)

	page, err := store.QueryPaginated(context.Background(), "user-1", PageParams{Page: 4, PageSize: 10}, Filter{})
	if err != nil {
		t.Fatalf("QueryPaginated() failed: %v", err)
	}

	if len(page.Items) != 0 {
		t.Errorf("page beyond last returned %d items, want 0", len(page.Items))
	}
	if page.TotalCount != 25 || page.TotalPages != 3 {
		t.Errorf("counts = %d/%d pages, want 25/3", page.TotalCount, page.TotalPages)
	}
	if queried {
		t.Error("repository queried for a page beyond the last")
	}
}

func TestStore_QueryPaginated_PaginationMath(t *testing.T) {
	var gotSkip int64
	repo := &MockRepository{
		CountFunc: func(ctx context.Context, userID string, f Filter) (int64, error) {
			return 25, nil
		},
		QueryFunc: func(ctx context.Context, userID string, f Filter, sort SortSpec, skip, limit int64) ([]*Transaction, error) {
			gotSkip = skip
			items := make([]*Transaction, 5)
			for i := range items {
				items[i] = testDoc("user-1", "txn-x")
			}
			return items, nil
		},
	}
	store := NewStore(repo)

	page, err := store.QueryPaginated(context.Background(), "user-1", PageParams{Page: 3, PageSize: 10}, Filter{})
	if err != nil {
		t.Fatalf("QueryPaginated() failed: %v", err)
	}

	if gotSkip != 20 {
		t.Errorf("skip = %d, want 20", gotSkip)
	}
	if page.TotalPages != 3 {
		t.Errorf("TotalPages = %d, want 3", page.TotalPages)
	}
	if page.HasNext {
		t.Error("HasNext = true on the last page")
	}
	if !page.HasPrevious {
		t.Error("HasPrevious = false on page 3")
	}
	if len(page.Items) != 5 {
		t.Errorf("last page has %d items, want 5", len(page.Items))
	}
}

func TestStore_QueryPaginated_EmptyResult(t *testing.T) {
	repo := &MockRepository{
		CountFunc: func(ctx context.Context, userID string, f Filter) (int64, error) { return 0, nil },
	}
	store := NewStore(repo)

	page, err := store.QueryPaginated(context.Background(), "user-1", PageParams{}, Filter{})
	if err != nil {
		t.Fatalf("QueryPaginated() failed: %v", err)
	}
	if page.Items == nil {
		t.Error("Items is nil, want empty slice")
	}
	if page.HasNext || page.HasPrevious {
		t.Error("empty result reports pagination neighbors")
	}
}
