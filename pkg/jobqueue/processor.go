package jobqueue

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"socialnotify/pkg/metrics"
	"socialnotify/pkg/trace"
)

type ProcessorConfig struct {
	PollInterval time.Duration
	BatchSize    int
	Concurrency  int
	JobTimeout   time.Duration
	Backoff      Backoff
}

func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		PollInterval: time.Second,
		BatchSize:    50,
		Concurrency:  4,
		JobTimeout:   30 * time.Second,
		Backoff:      DefaultBackoff(),
	}
}

// Processor 轮询到期任务并交给 Handler 执行
type Processor struct {
	store   Store
	handler Handler
	cfg     ProcessorConfig
	logger  *zap.Logger
	now     func() time.Time
}

func NewProcessor(store Store, handler Handler, cfg ProcessorConfig, logger *zap.Logger) *Processor {
	def := DefaultProcessorConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}
	if cfg.Backoff.Base <= 0 || cfg.Backoff.Max <= 0 {
		cfg.Backoff = def.Backoff
	}
	return &Processor{
		store:   store,
		handler: handler,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Start 阻塞运行，直到 ctx 取消
func (p *Processor) Start(ctx context.Context) error {
	p.logger.Info("Starting job processor",
		zap.Duration("interval", p.cfg.PollInterval),
		zap.Int("batch_size", p.cfg.BatchSize),
		zap.Int("concurrency", p.cfg.Concurrency),
	)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Job processor stopped")
			return nil
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce claims one batch and waits for it to finish. Returns the number of jobs claimed.
func (p *Processor) RunOnce(ctx context.Context) int {
	jobs, err := p.store.ClaimDue(ctx, p.cfg.BatchSize)
	if err != nil {
		p.logger.Error("Failed to claim due jobs", zap.Error(err))
		return 0
	}
	if len(jobs) == 0 {
		return 0
	}

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			p.run(ctx, job)
			return nil
		})
	}
	_ = g.Wait()
	return len(jobs)
}

func (p *Processor) run(ctx context.Context, job Job) {
	ctx = trace.WithContext(ctx, job.ID)
	logger := p.logger.With(
		zap.String("job_id", job.ID),
		zap.String("job_type", string(job.JobType)),
		zap.Int("attempt", job.Attempts+1),
	)

	jobCtx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	err := p.handler.Handle(jobCtx, job)
	cancel()

	// 关闭过程中也要把结果写回去
	writeCtx := context.WithoutCancel(ctx)

	if err == nil {
		if err := p.store.MarkCompleted(writeCtx, job.ID); err != nil {
			logger.Error("Failed to mark job completed", zap.Error(err))
			return
		}
		metrics.IncrementJobProcessed(string(job.JobType), string(StatusCompleted))
		logger.Info("Job completed")
		return
	}

	attempts := job.Attempts + 1
	if IsPermanent(err) || attempts >= job.MaxAttempts {
		if markErr := p.store.MarkDead(writeCtx, job.ID, attempts, err.Error()); markErr != nil {
			logger.Error("Failed to mark job dead", zap.Error(markErr))
			return
		}
		metrics.IncrementJobProcessed(string(job.JobType), string(StatusDead))
		logger.Error("Job exhausted retries, marked dead",
			zap.Int("max_attempts", job.MaxAttempts),
			zap.Bool("permanent", IsPermanent(err)),
			zap.Error(err),
		)
		return
	}

	delay := p.cfg.Backoff.Delay(attempts)
	if markErr := p.store.Reschedule(writeCtx, job.ID, attempts, p.now().Add(delay), err.Error()); markErr != nil {
		logger.Error("Failed to reschedule job", zap.Error(markErr))
		return
	}
	metrics.IncrementJobProcessed(string(job.JobType), "retry")
	logger.Warn("Job failed, rescheduled",
		zap.Duration("backoff", delay),
		zap.Error(err),
	)
}
