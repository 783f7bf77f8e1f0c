package notification

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"socialnotify/internal/model"
	"socialnotify/internal/repository"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

var ErrNotFound = errors.New("notification not found")

// Store 由 repository.NotificationRepository 实现
type Store interface {
	List(ctx context.Context, receiverID string, f repository.NotificationFilter, page, limit int) ([]model.Notification, int, error)
	UpdateRead(ctx context.Context, receiverID, id string, isRead bool) (model.Notification, error)
}

type ListQuery struct {
	Filter repository.NotificationFilter
	Page   int
	Limit  int
}

type Meta struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}

type Page struct {
	Data []model.Notification `json:"data"`
	Meta Meta                 `json:"meta"`
}

type Service struct {
	store  Store
	logger *zap.Logger
}

func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// List returns one page of receiverID's notifications, newest first.
func (s *Service) List(ctx context.Context, receiverID string, q ListQuery) (Page, error) {
	if q.Page < 1 {
		q.Page = DefaultPage
	}
	if q.Limit < 1 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}

	rows, total, err := s.store.List(ctx, receiverID, q.Filter, q.Page, q.Limit)
	if err != nil {
		return Page{}, fmt.Errorf("list notifications: %w", err)
	}
	if rows == nil {
		rows = []model.Notification{}
	}
	return Page{
		Data: rows,
		Meta: Meta{
			Total:      total,
			Page:       q.Page,
			Limit:      q.Limit,
			TotalPages: TotalPages(total, q.Limit),
		},
	}, nil
}

// MarkRead sets isRead on one of receiverID's notifications; someone else's
// notification is reported as not found. An empty receiverID is unrestricted.
// Repeating the call is harmless.
func (s *Service) MarkRead(ctx context.Context, receiverID, id string, isRead bool) (model.Notification, error) {
	n, err := s.store.UpdateRead(ctx, receiverID, id, isRead)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Notification{}, ErrNotFound
	}
	if err != nil {
		return model.Notification{}, fmt.Errorf("mark notification %s read: %w", id, err)
	}
	s.logger.Debug("Notification read state updated", zap.String("id", id), zap.Bool("is_read", isRead))
	return n, nil
}

// TotalPages = ceil(total / limit)
func TotalPages(total, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
