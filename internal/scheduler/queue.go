package scheduler

import (
	"banklink/internal/domain/syncer"
)

// Queue adapts the worker pool to the task-queue interface the banking
// service enqueues initial syncs on.
type Queue struct {
	pool   *WorkerPool
	engine *syncer.Engine
}

// NewQueue creates the queue adapter.
func NewQueue(pool *WorkerPool, engine *syncer.Engine) *Queue {
	return &Queue{pool: pool, engine: engine}
}

// EnqueueInitialSync submits an initial sync job for the connection.
func (q *Queue) EnqueueInitialSync(userID, connectionID, accessToken string) error {
	return q.pool.Submit(NewInitialSyncJob(userID, connectionID, accessToken, q.engine))
}
