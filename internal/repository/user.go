package repository

import (
	"context"

	"shoplist-sync/internal/domain"
)

// UserRepository 定义了用户数据的存储和检索操作。
type UserRepository interface {
	// FindByLogin 根据 login 查找用户。不存在时返回 ErrUserNotFound。
	FindByLogin(ctx context.Context, login string) (*domain.User, error)

	// Save 保存用户信息。login 冲突时返回 ErrDuplicateEntry。
	Save(ctx context.Context, user *domain.User) error
}
