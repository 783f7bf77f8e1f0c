package jobqueue

import (
	"context"
	"errors"
	"time"

	contracts "socialnotify/contracts/mq"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusDead       Status = "dead"
)

// Job 持久化的邮件任务
type Job struct {
	ID            string            `json:"id"`
	JobType       contracts.JobType `json:"jobType"`
	UserEmail     string            `json:"userEmail"`
	Payload       map[string]any    `json:"payload"`
	Status        Status            `json:"status"`
	Attempts      int               `json:"attempts"`
	MaxAttempts   int               `json:"maxAttempts"`
	NextAttemptAt time.Time         `json:"nextAttemptAt"`
	LastError     *string           `json:"lastError,omitempty"`
	LockedAt      *time.Time        `json:"lockedAt,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// Handler 执行一个任务；返回错误即本次尝试失败
type Handler interface {
	Handle(ctx context.Context, job Job) error
}

type HandlerFunc func(ctx context.Context, job Job) error

func (f HandlerFunc) Handle(ctx context.Context, job Job) error { return f(ctx, job) }

var ErrNotFound = errors.New("job not found")

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 标记重试也不会成功的错误，任务直接进入 dead
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
