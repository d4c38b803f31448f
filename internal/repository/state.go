package repository

import (
	"context"
	"time"

	"shoplist-sync/internal/domain"
)

// StateRepository 定义了由 Redis 承担的缓存与计数操作。
type StateRepository interface {
	// GetSnapshotCache 尝试从缓存中获取快照。未命中时返回 ErrNotFound。
	GetSnapshotCache(ctx context.Context, roomKey string) (*domain.Snapshot, error)

	// SetSnapshotCache 将快照存入缓存。ttl 为 0 表示不过期。
	SetSnapshotCache(ctx context.Context, roomKey string, snapshot *domain.Snapshot, ttl time.Duration) error

	// GetLastSnapshotTime 获取房间上次生成快照的时间，没有记录时返回零值。
	GetLastSnapshotTime(ctx context.Context, roomKey string) (time.Time, error)

	// SetLastSnapshotTime 记录房间上次生成快照的时间。
	SetLastSnapshotTime(ctx context.Context, roomKey string, ts time.Time, ttl time.Duration) error

	// CheckRateLimit 递增 key 的计数，返回是否超过 limit。
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
