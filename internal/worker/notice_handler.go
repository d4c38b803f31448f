package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"shoplist-sync/internal/tasks"
)

// NoticeDeliverer 把一条通知分发给房间成员，返回发出的消息数。
type NoticeDeliverer interface {
	Deliver(ctx context.Context, p tasks.RoomNoticePayload) (int, error)
}

// RoomNoticeHandler 处理房间通知任务
type RoomNoticeHandler struct {
	deliverer NoticeDeliverer
}

// NewRoomNoticeHandler 创建 Handler 实例
func NewRoomNoticeHandler(deliverer NoticeDeliverer) *RoomNoticeHandler {
	if deliverer == nil {
		panic("NoticeDeliverer cannot be nil for RoomNoticeHandler")
	}
	return &RoomNoticeHandler{deliverer: deliverer}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *RoomNoticeHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	taskID, _ := asynq.GetTaskID(ctx)
	currentRetry, _ := asynq.GetRetryCount(ctx)
	logCtx := logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
		"retry":     currentRetry,
	})

	payload, err := tasks.ParseRoomNoticePayload(t)
	if err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	logCtx = logCtx.WithFields(logrus.Fields{"room_id": payload.RoomID, "version": payload.Version})

	sent, err := h.deliverer.Deliver(ctx, payload)
	if err != nil {
		logCtx.WithError(err).Warn("Failed to deliver room notice")
		return err
	}
	logCtx.WithField("recipients", sent).Info("Room notice delivered")
	return nil
}
