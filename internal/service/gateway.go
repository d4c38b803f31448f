package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shoplist-sync/internal/domain"
	"shoplist-sync/internal/repository"

	"github.com/sirupsen/logrus"
)

// StoreGateway 为同步引擎提供持久化：变更日志与快照在 MySQL，快照缓存在 Redis。
type StoreGateway struct {
	mutationRepo repository.MutationRepository
	snapshotRepo repository.SnapshotRepository
	stateRepo    repository.StateRepository
	cacheTTL     time.Duration
}

// NewStoreGateway 创建 StoreGateway。stateRepo 可以为 nil，此时不使用缓存。
func NewStoreGateway(
	mutationRepo repository.MutationRepository,
	snapshotRepo repository.SnapshotRepository,
	stateRepo repository.StateRepository,
	cacheTTL time.Duration,
) *StoreGateway {
	if mutationRepo == nil || snapshotRepo == nil {
		panic("MutationRepository and SnapshotRepository cannot be nil for StoreGateway")
	}
	if cacheTTL <= 0 {
		cacheTTL = 24 * time.Hour
	}
	return &StoreGateway{
		mutationRepo: mutationRepo,
		snapshotRepo: snapshotRepo,
		stateRepo:    stateRepo,
		cacheTTL:     cacheTTL,
	}
}

// LoadSnapshot 按 缓存 → 数据库快照 → 重放之后的变更日志 的顺序重建房间状态。
// 没有任何持久化记录时返回 domain.ErrNotFound。
func (g *StoreGateway) LoadSnapshot(ctx context.Context, roomID string) (*domain.ListState, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "operation": "LoadSnapshot"})

	base, err := g.loadBase(ctx, roomID, logCtx)
	if err != nil {
		return nil, err
	}

	var since uint64
	if base != nil {
		since = base.Version
	}
	mutations, err := g.mutationRepo.ListSince(ctx, roomID, since)
	if err != nil {
		logCtx.WithError(err).Error("Failed to list mutations")
		return nil, fmt.Errorf("%w: list mutations of room %s: %v", domain.ErrStorageUnavailable, roomID, err)
	}

	if base == nil {
		if len(mutations) == 0 {
			return nil, domain.ErrNotFound
		}
		base = domain.NewListState()
	}
	if err := base.Replay(mutations); err != nil {
		logCtx.WithError(err).Error("Mutation log is inconsistent with snapshot")
		return nil, fmt.Errorf("%w: replay room %s: %v", domain.ErrStorageUnavailable, roomID, err)
	}

	logCtx.WithFields(logrus.Fields{"version": base.Version, "replayed": len(mutations)}).Debug("Room state reconstructed")
	return base, nil
}

// loadBase 返回最近的快照状态，没有快照时返回 nil。
func (g *StoreGateway) loadBase(ctx context.Context, roomID string, logCtx *logrus.Entry) (*domain.ListState, error) {
	// 1. 缓存
	if g.stateRepo != nil {
		cached, err := g.stateRepo.GetSnapshotCache(ctx, roomID)
		switch {
		case err == nil:
			state, parseErr := cached.ParseState()
			if parseErr == nil {
				logCtx.Debug("Snapshot cache hit")
				return state, nil
			}
			logCtx.WithError(parseErr).Warn("Cached snapshot is corrupt, falling back to database")
		case errors.Is(err, repository.ErrNotFound):
			logCtx.Debug("Snapshot cache miss")
		default:
			logCtx.WithError(err).Warn("Failed to read snapshot cache")
		}
	}

	// 2. 数据库
	snapshot, err := g.snapshotRepo.GetLatestSnapshot(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrSnapshotNotFound) {
			return nil, nil
		}
		logCtx.WithError(err).Error("Failed to get latest snapshot from database")
		return nil, fmt.Errorf("%w: latest snapshot of room %s: %v", domain.ErrStorageUnavailable, roomID, err)
	}
	state, err := snapshot.ParseState()
	if err != nil {
		logCtx.WithError(err).Error("Failed to parse snapshot from database")
		return nil, fmt.Errorf("%w: parse snapshot of room %s: %v", domain.ErrStorageUnavailable, roomID, err)
	}

	// 回填缓存
	if g.stateRepo != nil {
		go func(s *domain.Snapshot) {
			cacheCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := g.stateRepo.SetSnapshotCache(cacheCtx, roomID, s, g.cacheTTL); err != nil {
				logCtx.WithError(err).Warn("Failed to warm snapshot cache after DB load")
			}
		}(snapshot)
	}
	return state, nil
}

// AppendMutation 写入一条变更日志。同一 (roomID, version) 重复写入是幂等的。
func (g *StoreGateway) AppendMutation(ctx context.Context, roomID string, version uint64, actor string, op domain.Op) error {
	m, err := domain.NewMutation(roomID, version, actor, op)
	if err != nil {
		return err
	}
	if err := g.mutationRepo.Append(ctx, &m); err != nil {
		return fmt.Errorf("%w: append mutation %d of room %s: %v", domain.ErrStorageUnavailable, version, roomID, err)
	}
	return nil
}
