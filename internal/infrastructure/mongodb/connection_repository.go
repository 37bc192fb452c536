package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"banklink/internal/domain/connection"
)

// ConnectionRepository implements connection.Repository on MongoDB.
type ConnectionRepository struct {
	coll *mongo.Collection
}

// Ensure the interface is satisfied.
var _ connection.Repository = (*ConnectionRepository)(nil)

// NewConnectionRepository creates the connection repository.
func NewConnectionRepository(db *mongo.Database) *ConnectionRepository {
	return &ConnectionRepository{coll: db.Collection(connectionsCollection)}
}

func connFilter(userID, connectionID string) bson.M {
	return bson.M{"userId": userID, "connectionId": connectionID}
}

// Insert stores a new connection; the unique (userId, connectionId) index
// turns a duplicate insert into ErrConflict.
func (r *ConnectionRepository) Insert(ctx context.Context, conn *connection.BankConnection) error {
	_, err := r.coll.InsertOne(ctx, conn)
	if mongo.IsDuplicateKeyError(err) {
		return connection.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to insert connection: %w", err)
	}
	return nil
}

// Get returns the connection or connection.ErrNotFound.
func (r *ConnectionRepository) Get(ctx context.Context, userID, connectionID string) (*connection.BankConnection, error) {
	var conn connection.BankConnection
	err := r.coll.FindOne(ctx, connFilter(userID, connectionID)).Decode(&conn)
	if err == mongo.ErrNoDocuments {
		return nil, connection.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return &conn, nil
}

// ListByUser returns all of a user's connections.
func (r *ConnectionRepository) ListByUser(ctx context.Context, userID string) ([]*connection.BankConnection, error) {
	return r.list(ctx, bson.M{"userId": userID})
}

// ListByStatus returns a user's connections with the given status.
func (r *ConnectionRepository) ListByStatus(ctx context.Context, userID string, status connection.Status) ([]*connection.BankConnection, error) {
	return r.list(ctx, bson.M{"userId": userID, "status": status})
}

// ListAll returns every connection across all users.
func (r *ConnectionRepository) ListAll(ctx context.Context) ([]*connection.BankConnection, error) {
	return r.list(ctx, bson.M{})
}

func (r *ConnectionRepository) list(ctx context.Context, filter bson.M) ([]*connection.BankConnection, error) {
	cursor, err := r.coll.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer cursor.Close(ctx)

	var conns []*connection.BankConnection
	if err := cursor.All(ctx, &conns); err != nil {
		return nil, fmt.Errorf("failed to decode connections: %w", err)
	}
	return conns, nil
}

// ReplaceAccounts writes the merged account set. With expectedVersion >= 0
// the update is a compare-and-swap on the version field and reports
// ErrVersionConflict on a lost race.
func (r *ConnectionRepository) ReplaceAccounts(ctx context.Context, userID, connectionID string, accounts []connection.AccountSnapshot, summary connection.Summary, expectedVersion int64) error {
	filter := connFilter(userID, connectionID)
	if expectedVersion >= 0 {
		filter["version"] = expectedVersion
	}

	update := bson.M{
		"$set": bson.M{
			"accounts":  accounts,
			"summary":   summary,
			"updatedAt": time.Now().UTC(),
		},
		"$inc": bson.M{"version": 1},
	}

	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to replace accounts: %w", err)
	}
	if res.MatchedCount == 0 {
		if expectedVersion >= 0 {
			// Distinguish a stale version from a missing record.
			if _, getErr := r.Get(ctx, userID, connectionID); getErr == nil {
				return connection.ErrVersionConflict
			}
		}
		return connection.ErrNotFound
	}
	return nil
}

// UpdateStatus transitions the connection status and bumps updatedAt.
func (r *ConnectionRepository) UpdateStatus(ctx context.Context, userID, connectionID string, status connection.Status) error {
	return r.setFields(ctx, userID, connectionID, bson.M{
		"status":    status,
		"updatedAt": time.Now().UTC(),
	})
}

// SetAccountSyncInfo replaces syncState.accounts.
func (r *ConnectionRepository) SetAccountSyncInfo(ctx context.Context, userID, connectionID string, info connection.SyncInfo) error {
	return r.setFields(ctx, userID, connectionID, bson.M{"syncState.accounts": info})
}

// SetTransactionSyncInfo replaces syncState.transactions.
func (r *ConnectionRepository) SetTransactionSyncInfo(ctx context.Context, userID, connectionID string, info connection.TransactionSyncInfo) error {
	return r.setFields(ctx, userID, connectionID, bson.M{"syncState.transactions": info})
}

// Touch bumps lastUsedAt.
func (r *ConnectionRepository) Touch(ctx context.Context, userID, connectionID string) error {
	return r.setFields(ctx, userID, connectionID, bson.M{"lastUsedAt": time.Now().UTC()})
}

func (r *ConnectionRepository) setFields(ctx context.Context, userID, connectionID string, fields bson.M) error {
	res, err := r.coll.UpdateOne(ctx, connFilter(userID, connectionID), bson.M{"$set": fields})
	if err != nil {
		return fmt.Errorf("failed to update connection: %w", err)
	}
	if res.MatchedCount == 0 {
		return connection.ErrNotFound
	}
	return nil
}

// Delete hard-deletes the connection record.
func (r *ConnectionRepository) Delete(ctx context.Context, userID, connectionID string) error {
	res, err := r.coll.DeleteOne(ctx, connFilter(userID, connectionID))
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	if res.DeletedCount == 0 {
		return connection.ErrNotFound
	}
	return nil
}
