package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"

	"banklink/internal/domain/connection"
	"banklink/internal/domain/lifecycle"
	"banklink/internal/domain/syncer"
)

// InitialSyncJob runs the first transaction sync for a freshly linked
// connection. The access token is passed through from the link exchange so
// the job skips a vault round trip.
type InitialSyncJob struct {
	userID       string
	connectionID string
	accessToken  string
	engine       *syncer.Engine
}

// NewInitialSyncJob creates an initial sync job.
func NewInitialSyncJob(userID, connectionID, accessToken string, engine *syncer.Engine) *InitialSyncJob {
	return &InitialSyncJob{
		userID:       userID,
		connectionID: connectionID,
		accessToken:  accessToken,
		engine:       engine,
	}
}

// Execute runs the initial sync.
func (j *InitialSyncJob) Execute(ctx context.Context) error {
	result, err := j.engine.InitialSync(ctx, j.userID, j.connectionID, j.accessToken, connection.InitiatorUser)
	if err != nil {
		return fmt.Errorf("initial sync failed: %w", err)
	}

	log.Printf("User %s: Initial sync for connection %s: added=%d modified=%d removed=%d pages=%d",
		j.userID, j.connectionID, result.Added, result.Modified, result.Removed, result.Pages)
	return nil
}

// UserID returns the user the job syncs for.
func (j *InitialSyncJob) UserID() string { return j.userID }

// Description labels the job for logs.
func (j *InitialSyncJob) Description() string {
	return fmt.Sprintf("Initial transaction sync for connection %s", j.connectionID)
}

// RefreshJob runs a scheduled incremental sync for one connection. A sync
// already in flight for the connection is a skip, not a failure.
type RefreshJob struct {
	userID       string
	connectionID string
	engine       *syncer.Engine
}

// NewRefreshJob creates a scheduled refresh job.
func NewRefreshJob(userID, connectionID string, engine *syncer.Engine) *RefreshJob {
	return &RefreshJob{userID: userID, connectionID: connectionID, engine: engine}
}

// Execute runs the incremental refresh.
func (j *RefreshJob) Execute(ctx context.Context) error {
	result, err := j.engine.IncrementalRefresh(ctx, j.userID, j.connectionID, connection.InitiatorSystem)
	if err != nil {
		if errors.Is(err, syncer.ErrSyncInProgress) {
			log.Printf("User %s: Skipping scheduled refresh for connection %s, sync already running",
				j.userID, j.connectionID)
			return nil
		}
		return fmt.Errorf("scheduled refresh failed: %w", err)
	}

	log.Printf("User %s: Scheduled refresh for connection %s: added=%d modified=%d removed=%d pages=%d",
		j.userID, j.connectionID, result.Added, result.Modified, result.Removed, result.Pages)
	return nil
}

// UserID returns the user the job syncs for.
func (j *RefreshJob) UserID() string { return j.userID }

// Description labels the job for logs.
func (j *RefreshJob) Description() string {
	return fmt.Sprintf("Scheduled transaction refresh for connection %s", j.connectionID)
}

// CleanupJob runs one lifecycle maintenance pass over the whole fleet.
type CleanupJob struct {
	manager       *lifecycle.Manager
	daysThreshold int
}

// NewCleanupJob creates a cleanup job.
func NewCleanupJob(manager *lifecycle.Manager, daysThreshold int) *CleanupJob {
	return &CleanupJob{manager: manager, daysThreshold: daysThreshold}
}

// Execute runs the cleanup pass.
func (j *CleanupJob) Execute(ctx context.Context) error {
	stats, err := j.manager.CleanupStale(ctx, j.daysThreshold)
	if err != nil {
		return fmt.Errorf("cleanup pass failed: %w", err)
	}

	log.Printf("Cleanup job: checked=%d cleaned=%d invalidMarked=%d",
		stats.Checked, stats.TotalCleaned, stats.InvalidMarked)
	return nil
}

// UserID returns the fleet-wide marker; cleanup is not user-scoped.
func (j *CleanupJob) UserID() string { return "system" }

// Description labels the job for logs.
func (j *CleanupJob) Description() string {
	return fmt.Sprintf("Connection cleanup (threshold %d days)", j.daysThreshold)
}

// NewFleetJobProvider builds the scheduled batch: one refresh job per
// syncable connection across all users, plus a trailing cleanup pass.
func NewFleetJobProvider(repo connection.Repository, engine *syncer.Engine, manager *lifecycle.Manager, cleanupDays int) func(context.Context) ([]Job, error) {
	return func(ctx context.Context) ([]Job, error) {
		conns, err := repo.ListAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list connections: %w", err)
		}

		jobs := make([]Job, 0, len(conns)+1)
		for _, conn := range conns {
			if !conn.CanSync() {
				continue
			}
			jobs = append(jobs, NewRefreshJob(conn.UserID, conn.ConnectionID, engine))
		}

		jobs = append(jobs, NewCleanupJob(manager, cleanupDays))
		return jobs, nil
	}
}
