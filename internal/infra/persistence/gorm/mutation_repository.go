package gormpersistence

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"shoplist-sync/internal/domain"
)

// GormMutationRepository 是 MutationRepository 接口的 GORM 实现
type GormMutationRepository struct {
	db *gorm.DB
}

// NewGormMutationRepository 创建 GormMutationRepository 实例
func NewGormMutationRepository(db *gorm.DB) *GormMutationRepository {
	if db == nil {
		panic("database connection cannot be nil for GormMutationRepository")
	}
	return &GormMutationRepository{db: db}
}

// Append 追加一条变更记录。
// 依赖 (room_key, version) 唯一索引，重复追加被 ON CONFLICT DO NOTHING 吞掉。
func (r *GormMutationRepository) Append(ctx context.Context, m *domain.Mutation) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_key"}, {Name: "version"}},
			DoNothing: true,
		}).
		Create(m).Error
	if err != nil {
		return fmt.Errorf("gorm: append mutation (room %s, version %d): %w", m.RoomKey, m.Version, err)
	}
	return nil
}

// ListSince 按版本升序返回指定版本之后的变更
func (r *GormMutationRepository) ListSince(ctx context.Context, roomKey string, sinceVersion uint64) ([]domain.Mutation, error) {
	var mutations []domain.Mutation
	err := r.db.WithContext(ctx).
		Where("room_key = ? AND version > ?", roomKey, sinceVersion).
		Order("version ASC").
		Find(&mutations).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list mutations (room %s, since %d): %w", roomKey, sinceVersion, err)
	}
	return mutations, nil
}

// CountSince 统计指定版本之后的变更数量
func (r *GormMutationRepository) CountSince(ctx context.Context, roomKey string, sinceVersion uint64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Mutation{}).
		Where("room_key = ? AND version > ?", roomKey, sinceVersion).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("gorm: count mutations (room %s, since %d): %w", roomKey, sinceVersion, err)
	}
	return count, nil
}
