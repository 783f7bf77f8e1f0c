package preference

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"socialnotify/internal/model"
	"socialnotify/internal/repository"
)

// Store 由 repository.PreferenceRepository 实现
type Store interface {
	Find(ctx context.Context, userID string) (model.Preference, error)
	Create(ctx context.Context, p model.Preference) (model.Preference, error)
}

type Service struct {
	store  Store
	logger *zap.Logger
}

func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Resolve returns the user's preferences, creating the defaults on first use.
// Concurrent first uses race on the unique user_id; the loser re-reads the winner's row.
func (s *Service) Resolve(ctx context.Context, userID string) (model.Preference, error) {
	p, err := s.store.Find(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return model.Preference{}, err
	}

	created, err := s.store.Create(ctx, model.DefaultPreference(userID))
	if err == nil {
		s.logger.Info("Created default notification preferences", zap.String("user_id", userID))
		return created, nil
	}
	if !errors.Is(err, repository.ErrDuplicate) {
		return model.Preference{}, err
	}

	s.logger.Debug("Preferences created concurrently, re-reading", zap.String("user_id", userID))
	p, err = s.store.Find(ctx, userID)
	if err != nil {
		return model.Preference{}, fmt.Errorf("re-read preferences after duplicate: %w", err)
	}
	return p, nil
}

// EnsureDefaults is Resolve without the result; safe to call repeatedly.
func (s *Service) EnsureDefaults(ctx context.Context, userID string) error {
	_, err := s.Resolve(ctx, userID)
	return err
}
