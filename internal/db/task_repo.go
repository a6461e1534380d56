package db

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"marketfront/internal/types"
)

// TaskRepo manages deferred-work rows. This system only creates and cancels
// tasks; the runner that fires them is a separate process.
type TaskRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewTaskRepo creates a TaskRepo backed by the given database connection
// (pool or transaction).
func NewTaskRepo(db DBTX, logger *slog.Logger) *TaskRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskRepo{db: db, logger: logger}
}

// Create inserts a scheduled task in pending state.
func (r *TaskRepo) Create(ctx context.Context, task *types.ScheduledTask) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Status == "" {
		task.Status = types.TaskStatusPending
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO scheduled_tasks (id, task_type, related_id, subscription_id, scheduled_for, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		task.ID,
		task.TaskType,
		task.RelatedID,
		task.SubscriptionID,
		task.ScheduledFor,
		task.Status,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create scheduled task", err)
	}
	return nil
}

// CancelPendingBySubscription cancels pending tasks of the given type tied to
// a subscription. Already-cancelled or completed tasks are untouched, so the
// cascade is safe to re-run. Returns the number of rows cancelled.
func (r *TaskRepo) CancelPendingBySubscription(ctx context.Context, subscriptionID, taskType string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE scheduled_tasks
		 SET status = $1
		 WHERE subscription_id = $2
		   AND task_type = $3
		   AND status = $4`,
		types.TaskStatusCancelled,
		subscriptionID,
		taskType,
		types.TaskStatusPending,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to cancel scheduled tasks", err)
	}
	return tag.RowsAffected(), nil
}
