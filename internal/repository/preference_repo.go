package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"socialnotify/internal/model"
)

type PreferenceRepository struct {
	db *pgxpool.Pool
}

func NewPreferenceRepository(db *pgxpool.Pool) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

const preferenceColumns = `user_id, follow, "like", comment, mention, system, post, email, push, created_at, updated_at`

func (r *PreferenceRepository) Find(ctx context.Context, userID string) (model.Preference, error) {
	query := `SELECT ` + preferenceColumns + ` FROM notification_preferences WHERE user_id = $1`

	var p model.Preference
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&p.UserID, &p.Follow, &p.Like, &p.Comment, &p.Mention, &p.System, &p.Post,
		&p.Email, &p.Push, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return model.Preference{}, mapError("find preference", err)
	}
	return p, nil
}

// Create inserts p. A concurrent insert for the same user yields ErrDuplicate.
func (r *PreferenceRepository) Create(ctx context.Context, p model.Preference) (model.Preference, error) {
	query := `
        INSERT INTO notification_preferences (user_id, follow, "like", comment, mention, system, post, email, push)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING created_at, updated_at
    `
	err := r.db.QueryRow(ctx, query,
		p.UserID, p.Follow, p.Like, p.Comment, p.Mention, p.System, p.Post, p.Email, p.Push,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return model.Preference{}, mapError("create preference", err)
	}
	return p, nil
}
