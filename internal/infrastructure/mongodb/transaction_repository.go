package mongodb

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"banklink/internal/domain/transaction"
)

// TransactionRepository implements transaction.Repository on MongoDB.
type TransactionRepository struct {
	coll *mongo.Collection
}

var _ transaction.Repository = (*TransactionRepository)(nil)

// NewTransactionRepository creates the transaction repository.
func NewTransactionRepository(db *mongo.Database) *TransactionRepository {
	return &TransactionRepository{coll: db.Collection(transactionsCollection)}
}

// UpsertBatch writes every document as an independent upsert keyed by the
// deterministic _id. The bulk write is unordered so one bad document never
// blocks the rest; per-document failures are mapped back to transaction ids
// in the result instead of failing the batch.
func (r *TransactionRepository) UpsertBatch(ctx context.Context, docs []*transaction.Transaction) (*transaction.BatchResult, error) {
	if len(docs) == 0 {
		return &transaction.BatchResult{}, nil
	}

	models := make([]mongo.WriteModel, 0, len(docs))
	for _, doc := range docs {
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": doc.DocumentID}).
			SetReplacement(doc).
			SetUpsert(true))
	}

	res, err := r.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		bwe, ok := err.(mongo.BulkWriteException)
		if !ok {
			return nil, fmt.Errorf("failed to bulk write transactions: %w", err)
		}

		failed := make([]string, 0, len(bwe.WriteErrors))
		for _, we := range bwe.WriteErrors {
			if we.Index >= 0 && we.Index < len(docs) {
				failed = append(failed, docs[we.Index].TransactionID)
			}
		}

		succeeded := len(docs) - len(failed)
		return &transaction.BatchResult{Upserted: succeeded, FailedIDs: failed}, nil
	}

	upserted := int(res.UpsertedCount + res.ModifiedCount + res.MatchedCount)
	if upserted > len(docs) {
		// Matched and modified both count a replaced document.
		upserted = len(docs)
	}
	return &transaction.BatchResult{Upserted: upserted}, nil
}

// SoftDelete flags the listed transactions removed without deleting the
// documents. Ids with no matching document are silently skipped.
func (r *TransactionRepository) SoftDelete(ctx context.Context, userID string, transactionIDs []string, sourceCursor string) error {
	if len(transactionIDs) == 0 {
		return nil
	}

	filter := bson.M{
		"userId":        userID,
		"transactionId": bson.M{"$in": transactionIDs},
	}
	update := bson.M{
		"$set": bson.M{
			"meta.isRemoved":        true,
			"meta.updatedAt":        time.Now().UTC(),
			"meta.sourceSyncCursor": sourceCursor,
		},
	}

	if _, err := r.coll.UpdateMany(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to soft-delete transactions: %w", err)
	}
	return nil
}

// HardDeleteByConnection physically removes the connection's documents.
func (r *TransactionRepository) HardDeleteByConnection(ctx context.Context, userID, connectionID string) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"userId": userID, "connectionId": connectionID})
	if err != nil {
		return 0, fmt.Errorf("failed to delete connection transactions: %w", err)
	}
	return res.DeletedCount, nil
}

// HardDeleteByUser physically removes every document for the user.
func (r *TransactionRepository) HardDeleteByUser(ctx context.Context, userID string) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"userId": userID})
	if err != nil {
		return 0, fmt.Errorf("failed to delete user transactions: %w", err)
	}
	return res.DeletedCount, nil
}

// Query returns one page of matching documents. The _id tie-breaker keeps
// page boundaries stable when many documents share the sort key.
func (r *TransactionRepository) Query(ctx context.Context, userID string, f transaction.Filter, sort transaction.SortSpec, skip, limit int64) ([]*transaction.Transaction, error) {
	direction := 1
	if sort.Descending {
		direction = -1
	}

	opts := options.Find().
		SetSort(bson.D{{Key: sort.Field, Value: direction}, {Key: "_id", Value: 1}}).
		SetSkip(skip).
		SetLimit(limit)

	cursor, err := r.coll.Find(ctx, buildFilter(userID, f), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer cursor.Close(ctx)

	var txs []*transaction.Transaction
	if err := cursor.All(ctx, &txs); err != nil {
		return nil, fmt.Errorf("failed to decode transactions: %w", err)
	}
	return txs, nil
}

// Count returns the number of documents matching the filter.
func (r *TransactionRepository) Count(ctx context.Context, userID string, f transaction.Filter) (int64, error) {
	count, err := r.coll.CountDocuments(ctx, buildFilter(userID, f))
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

// buildFilter translates the domain filter into a bson query. Every query is
// scoped by userId.
func buildFilter(userID string, f transaction.Filter) bson.M {
	query := bson.M{"userId": userID}

	switch f.Status {
	case transaction.StatusAny:
		// no removal constraint
	case transaction.StatusPosted:
		query["meta.isRemoved"] = false
		query["isPending"] = false
	case transaction.StatusPending:
		query["meta.isRemoved"] = false
		query["isPending"] = true
	case transaction.StatusRemoved:
		query["meta.isRemoved"] = true
	default:
		// Soft-deleted documents are excluded unless asked for.
		query["meta.isRemoved"] = false
	}

	if f.AccountID != "" {
		query["accountId"] = f.AccountID
	}
	if f.ConnectionID != "" {
		query["connectionId"] = f.ConnectionID
	}
	if f.PaymentChannel != "" {
		query["paymentChannel"] = f.PaymentChannel
	}
	if f.Currency != "" {
		query["currency"] = f.Currency
	}
	if f.Category != "" {
		query["category"] = f.Category
	}

	if f.DateFrom != nil || f.DateTo != nil {
		dateRange := bson.M{}
		if f.DateFrom != nil {
			dateRange["$gte"] = *f.DateFrom
		}
		if f.DateTo != nil {
			dateRange["$lte"] = *f.DateTo
		}
		query["date"] = dateRange
	}

	if f.AmountMin != nil || f.AmountMax != nil {
		amountRange := bson.M{}
		if f.AmountMin != nil {
			amountRange["$gte"] = *f.AmountMin
		}
		if f.AmountMax != nil {
			amountRange["$lte"] = *f.AmountMax
		}
		query["amount"] = amountRange
	}

	if f.Search != "" {
		pattern := primitive.Regex{Pattern: regexp.QuoteMeta(f.Search), Options: "i"}
		query["$or"] = bson.A{
			bson.M{"description": pattern},
			bson.M{"merchant": pattern},
		}
	}

	return query
}
