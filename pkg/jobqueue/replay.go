package jobqueue

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ReplayService 提供重放 dead 任务的服务
type ReplayService struct {
	store  Store
	logger *zap.Logger
}

func NewReplayService(store Store, logger *zap.Logger) *ReplayService {
	return &ReplayService{store: store, logger: logger}
}

func (s *ReplayService) ListDead(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	jobs, err := s.store.ListDead(ctx, limit)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []Job{}
	}
	return jobs, nil
}

// Replay moves one dead job back to pending with a fresh attempt budget.
func (s *ReplayService) Replay(ctx context.Context, id string) error {
	if err := s.store.Requeue(ctx, id); err != nil {
		return fmt.Errorf("replay job %s: %w", id, err)
	}
	s.logger.Info("Dead job requeued", zap.String("job_id", id))
	return nil
}

// ReplayAll 重放最多 limit 个 dead 任务，单个失败不影响其它
func (s *ReplayService) ReplayAll(ctx context.Context, limit int) (int, error) {
	jobs, err := s.ListDead(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list dead jobs: %w", err)
	}

	replayed := 0
	for _, job := range jobs {
		if err := s.Replay(ctx, job.ID); err != nil {
			s.logger.Warn("Failed to replay job", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		replayed++
	}
	return replayed, nil
}
