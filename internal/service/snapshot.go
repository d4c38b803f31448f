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

// SnapshotService 负责把房间状态压缩为快照，缩短加载时需要重放的变更日志。
type SnapshotService struct {
	snapshotRepo repository.SnapshotRepository
	stateRepo    repository.StateRepository
	mutationRepo repository.MutationRepository
	cacheTTL     time.Duration
}

// NewSnapshotService 创建 SnapshotService 实例。
func NewSnapshotService(
	snapshotRepo repository.SnapshotRepository,
	stateRepo repository.StateRepository,
	mutationRepo repository.MutationRepository,
	cacheTTL time.Duration,
) *SnapshotService {
	if snapshotRepo == nil || stateRepo == nil || mutationRepo == nil {
		panic("repositories cannot be nil for SnapshotService")
	}
	if cacheTTL <= 0 {
		cacheTTL = 24 * time.Hour
	}
	return &SnapshotService{
		snapshotRepo: snapshotRepo,
		stateRepo:    stateRepo,
		mutationRepo: mutationRepo,
		cacheTTL:     cacheTTL,
	}
}

// StateSource 返回房间当前的内存状态。
type StateSource func(ctx context.Context) (*domain.ListState, error)

// CheckAndGenerateSnapshot 按上次快照后的变更数决定是否需要写快照，需要时写入并返回 true。
func (s *SnapshotService) CheckAndGenerateSnapshot(ctx context.Context, roomID string, source StateSource) (bool, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "operation": "CheckAndGenerateSnapshot"})

	// 1. 上次快照的版本
	var lastVersion uint64
	latest, err := s.snapshotRepo.GetLatestSnapshot(ctx, roomID)
	switch {
	case err == nil:
		lastVersion = latest.Version
	case errors.Is(err, repository.ErrSnapshotNotFound):
	default:
		return false, fmt.Errorf("get latest snapshot: %w", err)
	}

	// 2. 自上次快照以来已落盘的变更数
	opCount, err := s.mutationRepo.CountSince(ctx, roomID, lastVersion)
	if err != nil {
		return false, fmt.Errorf("count mutations since %d: %w", lastVersion, err)
	}
	if opCount == 0 {
		logCtx.Debug("No new mutations since last snapshot")
		return false, nil
	}

	// 3. 按间隔判断
	lastTime, err := s.stateRepo.GetLastSnapshotTime(ctx, roomID)
	if err != nil {
		logCtx.WithError(err).Warn("Failed to read last snapshot time, treating as never")
		lastTime = time.Time{}
	}
	interval := calculateSnapshotInterval(int(opCount))
	if !shouldGenerateSnapshot(lastTime, interval) {
		logCtx.Debugf("Snapshot condition not met (Last: %s, Interval: %s, OpsSince: %d)",
			lastTime.Format(time.RFC3339), interval, opCount)
		return false, nil
	}

	// 4. 读取内存状态并保存
	state, err := source(ctx)
	if err != nil {
		return false, fmt.Errorf("read room state: %w", err)
	}
	if state.Version <= lastVersion {
		return false, nil
	}
	if err := s.SaveSnapshot(ctx, roomID, state); err != nil {
		return false, err
	}
	return true, nil
}

// SaveSnapshot 保存快照到数据库并刷新缓存。房间驱逐和服务关闭时也会调用。
func (s *SnapshotService) SaveSnapshot(ctx context.Context, roomID string, state *domain.ListState) error {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "version": state.Version})

	snapshot := &domain.Snapshot{RoomKey: roomID, CreatedAt: time.Now().UTC()}
	if err := snapshot.SetState(state); err != nil {
		return fmt.Errorf("failed to set snapshot state: %w", err)
	}
	if err := s.snapshotRepo.SaveSnapshot(ctx, snapshot); err != nil {
		logCtx.WithError(err).Error("Snapshot: Failed to save snapshot to database")
		return err
	}

	if err := s.stateRepo.SetSnapshotCache(ctx, roomID, snapshot, s.cacheTTL); err != nil {
		logCtx.WithError(err).Warn("Snapshot: Failed to update snapshot cache")
	}
	if err := s.stateRepo.SetLastSnapshotTime(ctx, roomID, snapshot.CreatedAt, s.cacheTTL); err != nil {
		logCtx.WithError(err).Warn("Snapshot: Failed to record last snapshot time")
	}

	logCtx.Info("Snapshot saved")
	return nil
}

// calculateSnapshotInterval 变更越频繁，快照间隔越短。
func calculateSnapshotInterval(opCountSinceLast int) time.Duration {
	if opCountSinceLast > 100 {
		return 30 * time.Second
	} else if opCountSinceLast > 20 {
		return 2 * time.Minute
	}
	return 10 * time.Minute
}

func shouldGenerateSnapshot(lastSnapshotTime time.Time, interval time.Duration) bool {
	return lastSnapshotTime.IsZero() || time.Since(lastSnapshotTime) >= interval
}
