package repository

import (
	"context"

	"shoplist-sync/internal/domain"
)

// MutationRepository 是房间变更日志的持久化存储。
type MutationRepository interface {
	// Append 追加一条变更。对同一 (RoomKey, Version) 重复追加是幂等的。
	Append(ctx context.Context, m *domain.Mutation) error

	// ListSince 按版本升序返回 version > sinceVersion 的所有变更。
	ListSince(ctx context.Context, roomKey string, sinceVersion uint64) ([]domain.Mutation, error)

	// CountSince 返回 version > sinceVersion 的变更数量。
	CountSince(ctx context.Context, roomKey string, sinceVersion uint64) (int64, error)
}
