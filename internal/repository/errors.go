package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"socialnotify/pkg/util"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicate 唯一约束冲突（并发创建同一行）
	ErrDuplicate = errors.New("duplicate")
	// ErrDanglingReference 外键指向不存在的用户
	ErrDanglingReference = errors.New("dangling reference")
)

// mapError 把驱动错误翻译成仓储层哨兵错误，保留原始错误链
func mapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case util.IsUniqueViolation(err):
		return fmt.Errorf("%s: %w: %w", op, ErrDuplicate, err)
	case util.IsForeignKeyViolation(err):
		return fmt.Errorf("%s: %w: %w", op, ErrDanglingReference, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
