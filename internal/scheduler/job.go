package scheduler

import "context"

// Job is a unit of background work executed by the worker pool. Different
// job types exist for initial syncs, scheduled refreshes, and maintenance.
type Job interface {
	// Execute runs the job. Context must be respected for cancellation.
	Execute(ctx context.Context) error

	// UserID identifies whose data the job touches, for logging.
	UserID() string

	// Description is a human-readable label for logs and traces.
	Description() string
}
