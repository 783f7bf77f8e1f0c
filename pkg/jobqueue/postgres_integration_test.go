package jobqueue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	contracts "socialnotify/contracts/mq"
	"socialnotify/pkg/db"
)

// 需要 DATABASE_URL；会领取库中所有到期任务，只应指向测试库
func openTestStore(t *testing.T) (*PostgresStore, *pgxpool.Pool) {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	if err := db.MigrateUp(url, "file://../../migrations"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	pool, err := pgxpool.New(context.Background(), url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	return NewPostgresStore(pool), pool
}

func insertJob(t *testing.T, store *PostgresStore, pool *pgxpool.Pool, maxAttempts int) Job {
	t.Helper()
	job := Job{
		JobType:     contracts.JobPostCreated,
		UserEmail:   "it@example.com",
		Payload:     map[string]any{"postId": "p1"},
		MaxAttempts: maxAttempts,
	}
	if err := store.Insert(context.Background(), &job); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM notification_jobs WHERE id = $1::uuid`, job.ID)
	})
	return job
}

func claimedIDs(jobs []Job) map[string]Job {
	out := make(map[string]Job, len(jobs))
	for _, j := range jobs {
		out[j.ID] = j
	}
	return out
}

func TestPostgresClaimDueSkipsLockedRows(t *testing.T) {
	store, pool := openTestStore(t)
	ctx := context.Background()
	locked := insertJob(t, store, pool, 5)
	free := insertJob(t, store, pool, 5)

	// 另一个 worker 正持有 locked 的行锁
	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if _, err := tx.Exec(ctx, `SELECT id FROM notification_jobs WHERE id = $1::uuid FOR UPDATE`, locked.ID); err != nil {
		t.Fatal(err)
	}

	claimed, err := store.ClaimDue(ctx, 100)
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	got := claimedIDs(claimed)
	if _, ok := got[locked.ID]; ok {
		t.Fatal("row locked by another transaction must be skipped")
	}
	j, ok := got[free.ID]
	if !ok || j.Status != StatusProcessing || j.LockedAt == nil || j.Payload["postId"] != "p1" {
		t.Fatalf("free job not claimed intact: %+v", j)
	}

	_ = tx.Rollback(ctx)
	again, err := store.ClaimDue(ctx, 100)
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if _, ok := claimedIDs(again)[locked.ID]; !ok {
		t.Fatal("job must be claimable once the lock is released")
	}
}

func TestPostgresReleaseExpiredCountsAttempts(t *testing.T) {
	store, pool := openTestStore(t)
	ctx := context.Background()
	retry := insertJob(t, store, pool, 5)
	exhausted := insertJob(t, store, pool, 1)

	if _, err := store.ClaimDue(ctx, 100); err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if _, err := pool.Exec(ctx, `UPDATE notification_jobs SET locked_at = NOW() - interval '1 hour' WHERE id::text = ANY($1)`,
		[]string{retry.ID, exhausted.ID}); err != nil {
		t.Fatal(err)
	}

	released, dead, err := store.ReleaseExpired(ctx, time.Minute)
	if err != nil || released < 1 || dead < 1 {
		t.Fatalf("released=%d dead=%d err=%v", released, dead, err)
	}

	var (
		status   string
		attempts int
		lastErr  *string
	)
	if err := pool.QueryRow(ctx, `SELECT status, attempts, last_error FROM notification_jobs WHERE id = $1::uuid`, retry.ID).
		Scan(&status, &attempts, &lastErr); err != nil {
		t.Fatal(err)
	}
	if Status(status) != StatusPending || attempts != 1 || lastErr == nil || *lastErr != leaseExpiredReason {
		t.Fatalf("retry job: status=%s attempts=%d", status, attempts)
	}
	if err := pool.QueryRow(ctx, `SELECT status, attempts FROM notification_jobs WHERE id = $1::uuid`, exhausted.ID).
		Scan(&status, &attempts); err != nil {
		t.Fatal(err)
	}
	if Status(status) != StatusDead || attempts != 1 {
		t.Fatalf("exhausted job: status=%s attempts=%d", status, attempts)
	}

	listed, err := store.ListDead(ctx, 100)
	if err != nil {
		t.Fatalf("ListDead: %v", err)
	}
	if _, ok := claimedIDs(listed)[exhausted.ID]; !ok {
		t.Fatal("exhausted job must be listed as dead")
	}
}
