package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"shoplist-sync/internal/hub"
	"shoplist-sync/internal/service"
)

// SnapshotChecker 检查并在需要时为房间写快照。
type SnapshotChecker interface {
	CheckAndGenerateSnapshot(ctx context.Context, roomID string, source service.StateSource) (bool, error)
}

// SnapshotCheckHandler 处理周期性的快照检查任务
type SnapshotCheckHandler struct {
	registry *hub.Registry
	checker  SnapshotChecker
	timeout  time.Duration
}

// NewSnapshotCheckHandler 创建 Handler 实例
func NewSnapshotCheckHandler(registry *hub.Registry, checker SnapshotChecker) *SnapshotCheckHandler {
	if registry == nil {
		panic("Registry cannot be nil for SnapshotCheckHandler")
	}
	if checker == nil {
		panic("SnapshotChecker cannot be nil for SnapshotCheckHandler")
	}
	return &SnapshotCheckHandler{registry: registry, checker: checker, timeout: 30 * time.Second}
}

// ProcessTask 实现 asynq.Handler 接口。单个房间失败只记录日志，不让整个周期任务重试。
func (h *SnapshotCheckHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	taskID, _ := asynq.GetTaskID(ctx)
	logCtx := logrus.WithFields(logrus.Fields{"task_id": taskID, "task_type": t.Type()})

	rooms := h.registry.ActiveRooms()
	if len(rooms) == 0 {
		logCtx.Debug("No active rooms found, skipping snapshot check.")
		return nil
	}
	logCtx.Infof("Found %d active rooms to check.", len(rooms))

	var (
		wg        sync.WaitGroup
		errMu     sync.Mutex
		errs      []error
		generated int
	)
	for _, room := range rooms {
		wg.Add(1)
		go func(room *hub.Room) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()

			ok, err := h.checker.CheckAndGenerateSnapshot(checkCtx, room.ID(), room.Snapshot)
			errMu.Lock()
			defer errMu.Unlock()
			if err != nil {
				logCtx.WithError(err).WithField("room_id", room.ID()).Error("Snapshot check/generation failed for room")
				errs = append(errs, fmt.Errorf("room %s: %w", room.ID(), err))
				return
			}
			if ok {
				generated++
			}
		}(room)
	}
	wg.Wait()

	if len(errs) > 0 {
		logCtx.Errorf("Snapshot check completed with %d errors.", len(errs))
		return nil
	}
	logCtx.Infof("Periodic snapshot check completed, %d snapshots written.", generated)
	return nil
}
