package repository

import (
	"context"

	"shoplist-sync/internal/domain"
)

// SnapshotRepository 定义了快照数据在数据库中的操作。
type SnapshotRepository interface {
	// GetLatestSnapshot 获取指定房间版本最高的快照。没有快照时返回 ErrSnapshotNotFound。
	GetLatestSnapshot(ctx context.Context, roomKey string) (*domain.Snapshot, error)

	// SaveSnapshot 保存快照记录到数据库。
	SaveSnapshot(ctx context.Context, snapshot *domain.Snapshot) error
}
