package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Snapshot 存储某个房间在特定版本的完整清单状态。
type Snapshot struct {
	ID        uint      `gorm:"primaryKey"`
	RoomKey   string    `gorm:"size:191;index;not null"`
	Version   uint64    `gorm:"index;not null"`
	Data      string    `gorm:"type:longtext;not null"` // ListState 的 JSON
	CreatedAt time.Time `gorm:"index;not null"`
}

// ParseState 将 Data 字段解析为 ListState。
func (s *Snapshot) ParseState() (*ListState, error) {
	state := NewListState()
	if s.Data == "" {
		state.Version = s.Version
		return state, nil
	}
	if err := json.Unmarshal([]byte(s.Data), state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot data: %w", err)
	}
	if state.Items == nil {
		state.Items = make([]Item, 0)
	}
	if state.Version != s.Version {
		return nil, fmt.Errorf("snapshot version mismatch: row %d, data %d", s.Version, state.Version)
	}
	return state, nil
}

// SetState 序列化 ListState 并写入 Data 与 Version 字段。
func (s *Snapshot) SetState(state *ListState) error {
	if state == nil {
		state = NewListState()
	}
	bytes, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal list state: %w", err)
	}
	s.Data = string(bytes)
	s.Version = state.Version
	return nil
}
