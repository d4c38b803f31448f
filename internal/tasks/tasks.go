package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// 任务类型
const (
	TypeRoomNotice    = "room:notice"        // 向不在线成员发送变更通知
	TypeSnapshotCheck = "snapshot:check_all" // 周期性检查活跃房间是否需要写快照
)

// RoomNoticePayload 是 TypeRoomNotice 任务的数据。
type RoomNoticePayload struct {
	RoomID  string   `json:"room_id"`
	Actor   string   `json:"actor"`
	Kind    string   `json:"kind"`
	ItemID  uint64   `json:"item_id"`
	Label   string   `json:"label"`
	Version uint64   `json:"version"`
	Present []string `json:"present"`
}

// NewRoomNoticeTask 创建一个通知任务。
func NewRoomNoticeTask(payload RoomNoticePayload) (*asynq.Task, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal room notice payload: %w", err)
	}
	return asynq.NewTask(TypeRoomNotice, b), nil
}

// ParseRoomNoticePayload 解析通知任务的数据。
func ParseRoomNoticePayload(t *asynq.Task) (RoomNoticePayload, error) {
	var p RoomNoticePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("unmarshal room notice payload: %w", err)
	}
	if p.RoomID == "" {
		return p, fmt.Errorf("room notice payload without room_id")
	}
	return p, nil
}

// NewSnapshotCheckTask 创建周期快照检查任务，它没有数据。
func NewSnapshotCheckTask() *asynq.Task {
	return asynq.NewTask(TypeSnapshotCheck, nil)
}
