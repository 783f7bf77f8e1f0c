package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRepository 只读访问用户服务维护的 users 表
type UserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

// EmailOf returns the address on file for userID, or ErrNotFound.
func (r *UserRepository) EmailOf(ctx context.Context, userID string) (string, error) {
	var email string
	err := r.db.QueryRow(ctx, `SELECT email FROM users WHERE id = $1`, userID).Scan(&email)
	if err != nil {
		return "", mapError("find user email", err)
	}
	return email, nil
}
