package email

import (
	"context"
	"time"

	"go.uber.org/zap"

	"socialnotify/pkg/jobqueue"
	"socialnotify/pkg/metrics"
)

// JobHandler 渲染并发送一封通知邮件
type JobHandler struct {
	provider Provider
	logger   *zap.Logger
}

func NewJobHandler(provider Provider, logger *zap.Logger) *JobHandler {
	return &JobHandler{provider: provider, logger: logger}
}

func (h *JobHandler) Handle(ctx context.Context, job jobqueue.Job) error {
	msg := Render(job.JobType, job.Payload)

	start := time.Now()
	err := h.provider.Send(ctx, job.UserEmail, msg)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordEmailSendLatency(status, time.Since(start))

	if err != nil {
		return err
	}
	h.logger.Debug("Email sent",
		zap.String("job_id", job.ID),
		zap.String("job_type", string(job.JobType)),
		zap.String("subject", msg.Subject),
	)
	return nil
}
