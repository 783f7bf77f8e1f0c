package repository

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"socialnotify/internal/model"
)

// NotificationFilter 空切片 / nil 表示不过滤
type NotificationFilter struct {
	Types       []model.NotificationType
	IsRead      *bool
	EntityTypes []model.EntityType
}

type NotificationRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewNotificationRepository(db *pgxpool.Pool, logger *zap.Logger) *NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

const notificationColumns = `id::text, receiver_id, sender_id, type, entity_type, entity_id, content, is_read, created_at`

func scanNotification(row pgx.Row) (model.Notification, error) {
	var n model.Notification
	err := row.Scan(
		&n.ID, &n.ReceiverID, &n.SenderID, &n.Type, &n.EntityType,
		&n.EntityID, &n.Content, &n.IsRead, &n.CreatedAt,
	)
	return n, err
}

// Create inserts n, assigning ID and CreatedAt.
func (r *NotificationRepository) Create(ctx context.Context, n *model.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}

	query := `
        INSERT INTO notifications (id, receiver_id, sender_id, type, entity_type, entity_id, content, is_read)
        VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8)
        RETURNING created_at
    `
	err := r.db.QueryRow(ctx, query,
		n.ID, n.ReceiverID, n.SenderID, string(n.Type), string(n.EntityType), n.EntityID, n.Content, n.IsRead,
	).Scan(&n.CreatedAt)
	if err != nil {
		return mapError("insert notification", err)
	}

	r.logger.Debug("Notification inserted",
		zap.String("id", n.ID),
		zap.String("receiver_id", n.ReceiverID),
		zap.String("type", string(n.Type)),
	)
	return nil
}

// List returns one page for receiverID, newest first, plus the total matching count.
func (r *NotificationRepository) List(ctx context.Context, receiverID string, f NotificationFilter, page, limit int) ([]model.Notification, int, error) {
	where, args := buildNotificationWhere(receiverID, f)

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, mapError("count notifications", err)
	}
	if total == 0 {
		return []model.Notification{}, 0, nil
	}

	args = append(args, limit, (page-1)*limit)
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE ` + where +
		` ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, mapError("list notifications", err)
	}
	defer rows.Close()

	items := make([]model.Notification, 0, limit)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, mapError("scan notification", err)
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, mapError("list notifications", err)
	}
	return items, total, nil
}

// UpdateRead sets is_read and returns the updated row. Unknown or malformed ids,
// and rows not owned by receiverID, yield ErrNotFound. An empty receiverID skips
// the ownership check.
func (r *NotificationRepository) UpdateRead(ctx context.Context, receiverID, id string, isRead bool) (model.Notification, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Notification{}, mapError("update notification", pgx.ErrNoRows)
	}

	query, args := buildUpdateRead(receiverID, id, isRead)
	n, err := scanNotification(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		return model.Notification{}, mapError("update notification", err)
	}
	return n, nil
}

func buildUpdateRead(receiverID, id string, isRead bool) (string, []any) {
	where := "id = $1::uuid"
	args := []any{id, isRead}
	if receiverID != "" {
		args = append(args, receiverID)
		where += " AND receiver_id = $3"
	}
	return `UPDATE notifications SET is_read = $2 WHERE ` + where + ` RETURNING ` + notificationColumns, args
}

func buildNotificationWhere(receiverID string, f NotificationFilter) (string, []any) {
	conds := []string{"receiver_id = $1"}
	args := []any{receiverID}

	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		args = append(args, types)
		conds = append(conds, "type = ANY($"+strconv.Itoa(len(args))+")")
	}
	if f.IsRead != nil {
		args = append(args, *f.IsRead)
		conds = append(conds, "is_read = $"+strconv.Itoa(len(args)))
	}
	if len(f.EntityTypes) > 0 {
		entities := make([]string, len(f.EntityTypes))
		for i, e := range f.EntityTypes {
			entities[i] = string(e)
		}
		args = append(args, entities)
		conds = append(conds, "entity_type = ANY($"+strconv.Itoa(len(args))+")")
	}
	return strings.Join(conds, " AND "), args
}
