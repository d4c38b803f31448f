package repository

import (
	"context"

	"shoplist-sync/internal/domain"
)

// RoomRepository 定义了房间目录与成员关系的存储操作。
type RoomRepository interface {
	// FindByKey 根据房间标识查找房间。不存在时返回 ErrRoomNotFound。
	FindByKey(ctx context.Context, key string) (*domain.Room, error)

	// FindByInviteCode 根据邀请码查找房间。
	FindByInviteCode(ctx context.Context, code string) (*domain.Room, error)

	// Save 保存房间信息。唯一约束冲突时返回 ErrDuplicateEntry。
	Save(ctx context.Context, room *domain.Room) error

	// IsInviteCodeExists 检查邀请码是否已存在。
	IsInviteCodeExists(ctx context.Context, code string) (bool, error)

	// AddMember 将用户加入房间，已是成员时不报错。
	AddMember(ctx context.Context, roomKey, login string) error

	// IsMember 判断用户是否为房间成员。
	IsMember(ctx context.Context, roomKey, login string) (bool, error)

	// ListMembers 返回房间所有成员的 login。
	ListMembers(ctx context.Context, roomKey string) ([]string, error)

	// ListByMember 返回用户加入的所有房间。
	ListByMember(ctx context.Context, login string) ([]domain.Room, error)
}
