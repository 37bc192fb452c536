package connection

import "errors"

var (
	// ErrNotFound is returned when no connection exists for (userId, connectionId).
	ErrNotFound = errors.New("bank connection not found")

	// ErrConflict is returned when a connection already exists for (userId, connectionId).
	ErrConflict = errors.New("bank connection already exists")

	// ErrRevoked is returned when an operation is attempted against a revoked connection.
	ErrRevoked = errors.New("bank connection is revoked")

	// ErrVersionConflict is returned by the repository when a guarded
	// read-modify-write lost a race with a concurrent update.
	ErrVersionConflict = errors.New("bank connection was modified concurrently")

	// ErrInvalidTransition is returned for a disallowed status change.
	ErrInvalidTransition = errors.New("invalid connection status transition")
)
