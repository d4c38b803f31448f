package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"shoplist-sync/internal/domain"
	"shoplist-sync/internal/repository"
)

// GormRoomRepository 是 RoomRepository 接口的 GORM 实现
type GormRoomRepository struct {
	db *gorm.DB
}

// NewGormRoomRepository 创建 GormRoomRepository 实例
func NewGormRoomRepository(db *gorm.DB) *GormRoomRepository {
	if db == nil {
		panic("database connection cannot be nil for GormRoomRepository")
	}
	return &GormRoomRepository{db: db}
}

// FindByKey 实现根据房间标识查找房间
func (r *GormRoomRepository) FindByKey(ctx context.Context, key string) (*domain.Room, error) {
	var room domain.Room
	err := r.db.WithContext(ctx).Where("`key` = ?", key).First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrRoomNotFound
		}
		return nil, fmt.Errorf("gorm: find room by key '%s': %w", key, err)
	}
	return &room, nil
}

// FindByInviteCode 实现根据邀请码查找房间
func (r *GormRoomRepository) FindByInviteCode(ctx context.Context, code string) (*domain.Room, error) {
	var room domain.Room
	err := r.db.WithContext(ctx).Where("invite_code = ?", code).First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrRoomNotFound
		}
		return nil, fmt.Errorf("gorm: find room by invite code '%s': %w", code, err)
	}
	return &room, nil
}

// Save 实现保存房间信息（创建或更新）
func (r *GormRoomRepository) Save(ctx context.Context, room *domain.Room) error {
	if err := r.db.WithContext(ctx).Save(room).Error; err != nil {
		if isDuplicateEntryError(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: save room (key: %s, invite_code: %s): %w", room.Key, room.InviteCode, err)
	}
	return nil
}

// IsInviteCodeExists 实现检查邀请码是否存在
func (r *GormRoomRepository) IsInviteCodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Room{}).Where("invite_code = ?", code).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("gorm: count rooms by invite code '%s': %w", code, err)
	}
	return count > 0, nil
}

// AddMember 插入成员关系，已存在时忽略
func (r *GormRoomRepository) AddMember(ctx context.Context, roomKey, login string) error {
	member := domain.RoomMember{RoomKey: roomKey, Login: login}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&member).Error
	if err != nil {
		return fmt.Errorf("gorm: add member %s to room %s: %w", login, roomKey, err)
	}
	return nil
}

// IsMember 检查成员关系
func (r *GormRoomRepository) IsMember(ctx context.Context, roomKey, login string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.RoomMember{}).
		Where("room_key = ? AND login = ?", roomKey, login).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("gorm: check member %s of room %s: %w", login, roomKey, err)
	}
	return count > 0, nil
}

// ListMembers 返回房间的全部成员 login
func (r *GormRoomRepository) ListMembers(ctx context.Context, roomKey string) ([]string, error) {
	var logins []string
	err := r.db.WithContext(ctx).Model(&domain.RoomMember{}).
		Where("room_key = ?", roomKey).
		Order("login").
		Pluck("login", &logins).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list members of room %s: %w", roomKey, err)
	}
	return logins, nil
}

// ListByMember 返回用户加入的房间
func (r *GormRoomRepository) ListByMember(ctx context.Context, login string) ([]domain.Room, error) {
	var rooms []domain.Room
	err := r.db.WithContext(ctx).
		Joins("JOIN room_members ON room_members.room_key = rooms.`key`").
		Where("room_members.login = ?", login).
		Order("rooms.created_at DESC").
		Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list rooms of member %s: %w", login, err)
	}
	return rooms, nil
}
