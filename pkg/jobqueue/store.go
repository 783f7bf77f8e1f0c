package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store 任务持久化；PostgresStore 是生产实现
type Store interface {
	Insert(ctx context.Context, job *Job) error
	ClaimDue(ctx context.Context, limit int) ([]Job, error)
	MarkCompleted(ctx context.Context, id string) error
	Reschedule(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error
	MarkDead(ctx context.Context, id string, attempts int, lastErr string) error
	ReleaseExpired(ctx context.Context, lease time.Duration) (released, dead int64, err error)
	ListDead(ctx context.Context, limit int) ([]Job, error)
	Requeue(ctx context.Context, id string) error
}

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const jobColumns = `id::text, job_type, user_email, payload, status, attempts, max_attempts,
       next_attempt_at, last_error, locked_at, created_at, updated_at`

func scanJob(row pgx.Row) (Job, error) {
	var (
		j       Job
		payload []byte
	)
	err := row.Scan(
		&j.ID, &j.JobType, &j.UserEmail, &payload, &j.Status, &j.Attempts, &j.MaxAttempts,
		&j.NextAttemptAt, &j.LastError, &j.LockedAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return Job{}, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &j.Payload); err != nil {
			return Job{}, fmt.Errorf("decode payload of job %s: %w", j.ID, err)
		}
	}
	return j, nil
}

func collectJobs(rows pgx.Rows) ([]Job, error) {
	defer rows.Close()
	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Insert 写入 pending 任务，立即可被领取
func (s *PostgresStore) Insert(ctx context.Context, job *Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("encode job payload: %w", err)
	}

	query := `
		INSERT INTO notification_jobs (id, job_type, user_email, payload, status, max_attempts, next_attempt_at)
		VALUES ($1::uuid, $2, $3, $4, 'pending', $5, NOW())
		RETURNING status, attempts, next_attempt_at, created_at, updated_at
	`
	err = s.db.QueryRow(ctx, query, job.ID, string(job.JobType), job.UserEmail, payload, job.MaxAttempts).
		Scan(&job.Status, &job.Attempts, &job.NextAttemptAt, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// ClaimDue 领取到期任务并标记 processing；SKIP LOCKED 让多个实例互不阻塞
func (s *PostgresStore) ClaimDue(ctx context.Context, limit int) ([]Job, error) {
	query := `
		UPDATE notification_jobs
		SET status = 'processing', locked_at = NOW(), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM notification_jobs
			WHERE status = 'pending' AND next_attempt_at <= NOW()
			ORDER BY next_attempt_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan claimed jobs: %w", err)
	}
	return jobs, nil
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE notification_jobs
		SET status = 'completed', locked_at = NULL, last_error = NULL, updated_at = NOW()
		WHERE id = $1::uuid
	`, id)
	if err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}
	return nil
}

func (s *PostgresStore) Reschedule(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE notification_jobs
		SET status = 'pending', attempts = $2, next_attempt_at = $3, last_error = $4,
		    locked_at = NULL, updated_at = NOW()
		WHERE id = $1::uuid
	`, id, attempts, next, lastErr)
	if err != nil {
		return fmt.Errorf("failed to reschedule job: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkDead(ctx context.Context, id string, attempts int, lastErr string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE notification_jobs
		SET status = 'dead', attempts = $2, last_error = $3, locked_at = NULL, updated_at = NOW()
		WHERE id = $1::uuid
	`, id, attempts, lastErr)
	if err != nil {
		return fmt.Errorf("failed to mark job dead: %w", err)
	}
	return nil
}

// leaseExpiredReason 写入被回收任务的 last_error
const leaseExpiredReason = "lease expired"

// ReleaseExpired 回收租约过期的 processing 任务（进程崩溃后恢复）。
// 过期计为一次尝试，达到 max_attempts 的任务直接进入 dead。
func (s *PostgresStore) ReleaseExpired(ctx context.Context, lease time.Duration) (released, dead int64, err error) {
	rows, err := s.db.Query(ctx, `
		UPDATE notification_jobs
		SET attempts = attempts + 1,
		    status = CASE WHEN attempts + 1 >= max_attempts THEN 'dead' ELSE 'pending' END,
		    last_error = $2, locked_at = NULL, updated_at = NOW()
		WHERE status = 'processing' AND locked_at < $1
		RETURNING status
	`, time.Now().Add(-lease), leaseExpiredReason)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to release expired jobs: %w", err)
	}
	statuses, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return 0, 0, fmt.Errorf("failed to release expired jobs: %w", err)
	}
	for _, st := range statuses {
		if Status(st) == StatusDead {
			dead++
		} else {
			released++
		}
	}
	return released, dead, nil
}

func (s *PostgresStore) ListDead(ctx context.Context, limit int) ([]Job, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+jobColumns+`
		FROM notification_jobs
		WHERE status = 'dead'
		ORDER BY updated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead jobs: %w", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan dead jobs: %w", err)
	}
	return jobs, nil
}

// Requeue 重置 dead 任务为 pending，尝试次数清零
func (s *PostgresStore) Requeue(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	var requeued string
	err := s.db.QueryRow(ctx, `
		UPDATE notification_jobs
		SET status = 'pending', attempts = 0, next_attempt_at = NOW(), last_error = NULL, updated_at = NOW()
		WHERE id = $1::uuid AND status = 'dead'
		RETURNING id::text
	`, id).Scan(&requeued)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}
	return nil
}
