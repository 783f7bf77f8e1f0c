package jobqueue

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Reaper 定时回收租约过期的 processing 任务
type Reaper struct {
	store  Store
	lease  time.Duration
	spec   string
	logger *zap.Logger
}

func NewReaper(store Store, spec string, lease time.Duration, logger *zap.Logger) *Reaper {
	if spec == "" {
		spec = "@every 1m"
	}
	if lease <= 0 {
		lease = 5 * time.Minute
	}
	return &Reaper{store: store, lease: lease, spec: spec, logger: logger}
}

// Start 阻塞直到 ctx 取消
func (r *Reaper) Start(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(r.spec, func() { r.Sweep(ctx) }); err != nil {
		return err
	}
	c.Start()
	r.logger.Info("Job reaper started", zap.String("schedule", r.spec), zap.Duration("lease", r.lease))

	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.Info("Job reaper stopped")
	return nil
}

func (r *Reaper) Sweep(ctx context.Context) {
	released, dead, err := r.store.ReleaseExpired(ctx, r.lease)
	if err != nil {
		r.logger.Error("Failed to release expired jobs", zap.Error(err))
		return
	}
	if released > 0 {
		r.logger.Warn("Released jobs with expired lease", zap.Int64("count", released))
	}
	if dead > 0 {
		r.logger.Error("Jobs exhausted attempts on expired leases", zap.Int64("count", dead))
	}
}
