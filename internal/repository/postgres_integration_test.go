package repository

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap/zaptest"

	"socialnotify/internal/model"
	"socialnotify/pkg/db"
)

// openTestDB 需要 DATABASE_URL 指向一个可写的 Postgres，未设置时跳过
func openTestDB(t *testing.T) *pgxpool.Pool {
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
	return pool
}

// seedUser 插入一个随机用户，测试结束时级联删除其通知与偏好
func seedUser(t *testing.T, pool *pgxpool.Pool, email string) string {
	t.Helper()
	id := "it-" + uuid.NewString()
	if _, err := pool.Exec(context.Background(), `INSERT INTO users (id, email) VALUES ($1, $2)`, id, email); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM users WHERE id = $1`, id)
	})
	return id
}

func TestPostgresNotificationListAndPaging(t *testing.T) {
	pool := openTestDB(t)
	ctx := context.Background()
	repo := NewNotificationRepository(pool, zaptest.NewLogger(t))
	receiver := seedUser(t, pool, "")
	sender := seedUser(t, pool, "")

	// ids[0] 最新
	var ids []string
	for i := 0; i < 3; i++ {
		n := &model.Notification{
			ReceiverID: receiver, SenderID: &sender, Type: model.TypeFollow,
			EntityType: model.EntityUser, EntityID: sender, Content: "started following you",
		}
		if err := repo.Create(ctx, n); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if _, err := pool.Exec(ctx, `UPDATE notifications SET created_at = NOW() - make_interval(mins => $2) WHERE id = $1::uuid`, n.ID, i); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, n.ID)
	}

	first, total, err := repo.List(ctx, receiver, NotificationFilter{}, 1, 2)
	if err != nil || total != 3 || len(first) != 2 {
		t.Fatalf("page 1: items=%d total=%d err=%v", len(first), total, err)
	}
	if first[0].ID != ids[0] || first[1].ID != ids[1] {
		t.Fatalf("page 1 must be newest first, got %s %s", first[0].ID, first[1].ID)
	}
	second, _, err := repo.List(ctx, receiver, NotificationFilter{}, 2, 2)
	if err != nil || len(second) != 1 || second[0].ID != ids[2] {
		t.Fatalf("page 2: %+v err=%v", second, err)
	}
	if *second[0].SenderID != sender || second[0].Type != model.TypeFollow {
		t.Fatalf("row not scanned back intact: %+v", second[0])
	}

	unread := false
	other, total, err := repo.List(ctx, receiver, NotificationFilter{Types: []model.NotificationType{model.TypeLike}, IsRead: &unread}, 1, 10)
	if err != nil || total != 0 || len(other) != 0 {
		t.Fatalf("type filter: items=%d total=%d err=%v", len(other), total, err)
	}
}

func TestPostgresUpdateReadOwnership(t *testing.T) {
	pool := openTestDB(t)
	ctx := context.Background()
	repo := NewNotificationRepository(pool, zaptest.NewLogger(t))
	owner := seedUser(t, pool, "")
	stranger := seedUser(t, pool, "")

	n := &model.Notification{ReceiverID: owner, Type: model.TypeSystem, EntityType: model.EntityUser, EntityID: owner, Content: "hi"}
	if err := repo.Create(ctx, n); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := repo.UpdateRead(ctx, stranger, n.ID, true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign receiver must see ErrNotFound, got %v", err)
	}
	got, err := repo.UpdateRead(ctx, owner, n.ID, true)
	if err != nil || !got.IsRead {
		t.Fatalf("owner update: %+v err=%v", got, err)
	}
	got, err = repo.UpdateRead(ctx, "", n.ID, false)
	if err != nil || got.IsRead {
		t.Fatalf("unrestricted update: %+v err=%v", got, err)
	}
	if _, err := repo.UpdateRead(ctx, owner, uuid.NewString(), true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown id must be ErrNotFound, got %v", err)
	}
}

func TestPostgresConstraintMapping(t *testing.T) {
	pool := openTestDB(t)
	ctx := context.Background()
	notifications := NewNotificationRepository(pool, zaptest.NewLogger(t))
	prefs := NewPreferenceRepository(pool)
	user := seedUser(t, pool, "a@example.com")

	err := notifications.Create(ctx, &model.Notification{ReceiverID: "it-missing-" + uuid.NewString(), Type: model.TypeSystem, EntityType: model.EntityUser, EntityID: "x", Content: "x"})
	if !errors.Is(err, ErrDanglingReference) {
		t.Fatalf("23503 must map to ErrDanglingReference, got %v", err)
	}

	if _, err := prefs.Find(ctx, user); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing preference must be ErrNotFound, got %v", err)
	}
	created, err := prefs.Create(ctx, model.DefaultPreference(user))
	if err != nil || created.CreatedAt.IsZero() {
		t.Fatalf("Create: %+v err=%v", created, err)
	}
	if _, err := prefs.Create(ctx, model.DefaultPreference(user)); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("23505 must map to ErrDuplicate, got %v", err)
	}
	found, err := prefs.Find(ctx, user)
	if err != nil || !found.Follow || found.Email {
		t.Fatalf("Find: %+v err=%v", found, err)
	}

	email, err := NewUserRepository(pool).EmailOf(ctx, user)
	if err != nil || email != "a@example.com" {
		t.Fatalf("EmailOf = %q err=%v", email, err)
	}
}
