package transaction

import (
	"context"
	"fmt"
	"log"
	"time"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Store validates transaction documents at the persistence boundary and
// answers filtered, paginated, sorted queries over the mirror.
type Store struct {
	repo Repository
}

// NewStore creates a transaction store backed by the given repository.
func NewStore(repo Repository) *Store {
	return &Store{repo: repo}
}

// UpsertBatch validates and upserts the documents. Per-document failures are
// reported in the result; the error return is reserved for store-level
// failures that prevented the batch from being attempted at all.
func (s *Store) UpsertBatch(ctx context.Context, docs []*Transaction) (*BatchResult, error) {
	if len(docs) == 0 {
		return &BatchResult{}, nil
	}

	now := time.Now().UTC()
	for _, doc := range docs {
		if err := validate(doc); err != nil {
			return nil, err
		}
		doc.Meta.UpdatedAt = now
	}

	return s.repo.UpsertBatch(ctx, docs)
}

// SoftDelete marks the listed transaction ids removed. A delete of an id that
// does not exist is a no-op, which keeps removal race-safe across retries.
func (s *Store) SoftDelete(ctx context.Context, userID string, transactionIDs []string, sourceCursor string) error {
	if len(transactionIDs) == 0 {
		return nil
	}
	return s.repo.SoftDelete(ctx, userID, transactionIDs, sourceCursor)
}

// HardDeleteByConnection removes every document for the connection. Used only
// on connection teardown or a forced resync.
func (s *Store) HardDeleteByConnection(ctx context.Context, userID, connectionID string) (int64, error) {
	count, err := s.repo.HardDeleteByConnection(ctx, userID, connectionID)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		log.Printf("User %s: Hard-deleted %d transactions for connection %s", userID, count, connectionID)
	}
	return count, nil
}

// HardDeleteByUser removes every document for the user.
func (s *Store) HardDeleteByUser(ctx context.Context, userID string) (int64, error) {
	return s.repo.HardDeleteByUser(ctx, userID)
}

// QueryPaginated runs a 1-indexed paginated query. A page beyond the last one
// returns an empty slice with correct counts, not an error.
func (s *Store) QueryPaginated(ctx context.Context, userID string, params PageParams, f Filter) (*Page, error) {
	params = normalizePageParams(params)

	sort, err := sortSpec(params)
	if err != nil {
		return nil, err
	}

	total, err := s.repo.Count(ctx, userID, f)
	if err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}

	page := newPage(params, total)
	if total == 0 || params.Page > page.TotalPages {
		page.Items = []*Transaction{}
		return page, nil
	}

	skip := int64(params.Page-1) * int64(params.PageSize)
	items, err := s.repo.Query(ctx, userID, f, sort, skip, int64(params.PageSize))
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	if items == nil {
		items = []*Transaction{}
	}

	page.Items = items
	return page, nil
}

// TotalForUser counts every non-removed document owned by the user.
func (s *Store) TotalForUser(ctx context.Context, userID string) (int64, error) {
	return s.repo.Count(ctx, userID, Filter{})
}

func validate(doc *Transaction) error {
	switch {
	case doc.UserID == "":
		return fmt.Errorf("transaction document missing userId")
	case doc.ConnectionID == "":
		return fmt.Errorf("transaction document missing connectionId")
	case doc.TransactionID == "":
		return fmt.Errorf("transaction document missing transactionId")
	case doc.AccountID == "":
		return fmt.Errorf("transaction document missing accountId")
	}

	if doc.DocumentID == "" {
		doc.DocumentID = DocumentID(doc.UserID, doc.TransactionID)
	} else if doc.DocumentID != DocumentID(doc.UserID, doc.TransactionID) {
		return fmt.Errorf("transaction document id does not match (userId, transactionId)")
	}

	return nil
}

func normalizePageParams(p PageParams) PageParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = defaultPageSize
	}
	if p.PageSize > maxPageSize {
		p.PageSize = maxPageSize
	}
	if p.SortBy == "" {
		p.SortBy = SortByDate
	}
	if p.SortOrder == "" {
		p.SortOrder = SortDesc
	}
	return p
}

func sortSpec(p PageParams) (SortSpec, error) {
	switch p.SortBy {
	case SortByDate, SortByAmount:
	default:
		return SortSpec{}, fmt.Errorf("unsupported sort field %q", p.SortBy)
	}

	switch p.SortOrder {
	case SortAsc, SortDesc:
	default:
		return SortSpec{}, fmt.Errorf("unsupported sort order %q", p.SortOrder)
	}

	return SortSpec{Field: p.SortBy, Descending: p.SortOrder == SortDesc}, nil
}

func newPage(p PageParams, total int64) *Page {
	totalPages := int((total + int64(p.PageSize) - 1) / int64(p.PageSize))
	return &Page{
		Page:        p.Page,
		PageSize:    p.PageSize,
		TotalCount:  total,
		TotalPages:  totalPages,
		HasNext:     p.Page < totalPages,
		HasPrevious: p.Page > 1 && total > 0,
	}
}
