package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"shoplist-sync/internal/hub"
	"shoplist-sync/internal/tasks"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// TaskEnqueuer 是 *asynq.Client 中用到的部分。
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// NoticeEnqueuer 把房间通知写入 asynq 队列，实现 hub.NotificationSink。
type NoticeEnqueuer struct {
	client TaskEnqueuer
}

// NewNoticeEnqueuer 创建 NoticeEnqueuer。
func NewNoticeEnqueuer(client TaskEnqueuer) *NoticeEnqueuer {
	if client == nil {
		panic("TaskEnqueuer cannot be nil for NoticeEnqueuer")
	}
	return &NoticeEnqueuer{client: client}
}

// Notify 入队一条通知任务。
func (e *NoticeEnqueuer) Notify(ctx context.Context, n hub.Notice) error {
	task, err := tasks.NewRoomNoticeTask(tasks.RoomNoticePayload{
		RoomID:  n.RoomID,
		Actor:   n.Actor,
		Kind:    string(n.Kind),
		ItemID:  n.ItemID,
		Label:   n.Label,
		Version: n.Version,
		Present: n.Present,
	})
	if err != nil {
		return err
	}
	info, err := e.client.EnqueueContext(ctx, task, asynq.Queue("low"), asynq.MaxRetry(3))
	if err != nil {
		return fmt.Errorf("enqueue room notice: %w", err)
	}
	logrus.WithFields(logrus.Fields{"room_id": n.RoomID, "version": n.Version, "task_id": info.ID}).Debug("Room notice enqueued")
	return nil
}

// Publisher 发布一条消息，*nats.Conn 满足该接口。
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NoticeSubjectPrefix 是通知消息的主题前缀，完整主题为 shoplist.notify.<login>
const NoticeSubjectPrefix = "shoplist.notify."

// NoticeMessage 是发布给单个成员的通知内容。
type NoticeMessage struct {
	RoomID   string `json:"room_id"`
	RoomName string `json:"room_name,omitempty"`
	Actor    string `json:"actor"`
	Kind     string `json:"kind"`
	ItemID   uint64 `json:"item_id"`
	Label    string `json:"label"`
	Version  uint64 `json:"version"`
}

// NoticeService 把通知分发给房间里不在线的成员。
type NoticeService struct {
	rooms     *RoomService
	publisher Publisher
}

// NewNoticeService 创建 NoticeService 实例。
func NewNoticeService(rooms *RoomService, publisher Publisher) *NoticeService {
	if rooms == nil || publisher == nil {
		panic("RoomService and Publisher cannot be nil for NoticeService")
	}
	return &NoticeService{rooms: rooms, publisher: publisher}
}

// Deliver 向除操作者和在线成员之外的每个成员发布一条消息，返回发布的条数。
func (s *NoticeService) Deliver(ctx context.Context, p tasks.RoomNoticePayload) (int, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": p.RoomID, "version": p.Version, "operation": "DeliverNotice"})

	members, err := s.rooms.Members(ctx, p.RoomID)
	if err != nil {
		return 0, err
	}

	skip := make(map[string]struct{}, len(p.Present)+1)
	skip[p.Actor] = struct{}{}
	for _, login := range p.Present {
		skip[login] = struct{}{}
	}

	var roomName string
	if room, err := s.rooms.FindRoom(ctx, p.RoomID); err == nil {
		roomName = room.Name
	}
	msg, err := json.Marshal(NoticeMessage{
		RoomID:   p.RoomID,
		RoomName: roomName,
		Actor:    p.Actor,
		Kind:     p.Kind,
		ItemID:   p.ItemID,
		Label:    p.Label,
		Version:  p.Version,
	})
	if err != nil {
		return 0, fmt.Errorf("marshal notice message: %w", err)
	}

	// 单个成员发布失败不影响其他成员，全部失败时才返回错误
	sent := 0
	var errs []error
	for _, login := range members {
		if _, ok := skip[login]; ok {
			continue
		}
		if err := s.publisher.Publish(NoticeSubjectPrefix+login, msg); err != nil {
			errs = append(errs, fmt.Errorf("publish notice to %s: %w", login, err))
			continue
		}
		sent++
	}
	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if sent == 0 {
			return 0, joined
		}
		logCtx.WithError(joined).Warnf("Notice delivered to %d members, %d failed", sent, len(errs))
		return sent, nil
	}
	logCtx.Debugf("Notice delivered to %d of %d members", sent, len(members))
	return sent, nil
}
