package jobqueue

import (
	"context"
	"strings"

	"go.uber.org/zap"

	contracts "socialnotify/contracts/mq"
	"socialnotify/pkg/metrics"
)

// Queue 通知任务入口
type Queue struct {
	store       Store
	maxAttempts int
	logger      *zap.Logger
}

func NewQueue(store Store, maxAttempts int, logger *zap.Logger) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Queue{store: store, maxAttempts: maxAttempts, logger: logger}
}

// Enqueue stores job as pending and returns once it is durable.
// A job without an address is dropped silently.
func (q *Queue) Enqueue(ctx context.Context, job contracts.NotificationJob) error {
	email := strings.TrimSpace(job.UserEmail)
	if email == "" {
		q.logger.Debug("Skipping job without email", zap.String("job_type", string(job.JobType)))
		return nil
	}

	j := &Job{
		JobType:     job.JobType,
		UserEmail:   email,
		Payload:     job.Payload,
		MaxAttempts: q.maxAttempts,
	}
	if err := q.store.Insert(ctx, j); err != nil {
		return err
	}

	metrics.IncrementJobEnqueued(string(job.JobType))
	q.logger.Info("Job enqueued",
		zap.String("job_id", j.ID),
		zap.String("job_type", string(j.JobType)),
	)
	return nil
}
