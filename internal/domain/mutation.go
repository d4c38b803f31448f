package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Mutation 是一条已被房间接受的变更记录 (追加日志)。
// (RoomKey, Version) 唯一，重试追加不会重复写入。
type Mutation struct {
	ID        uint      `gorm:"primaryKey"`
	RoomKey   string    `gorm:"size:191;not null;uniqueIndex:idx_room_version,priority:1"`
	Version   uint64    `gorm:"not null;uniqueIndex:idx_room_version,priority:2"`
	Actor     string    `gorm:"size:191;not null"`
	Kind      string    `gorm:"size:50;not null"`
	Data      string    `gorm:"type:text;not null"` // Op 的 JSON
	CreatedAt time.Time `gorm:"autoCreateTime;index"`
}

// NewMutation 根据 Delta 构造一条变更记录。
func NewMutation(roomKey string, version uint64, actor string, op Op) (Mutation, error) {
	m := Mutation{RoomKey: roomKey, Version: version, Actor: actor, Kind: string(op.Kind)}
	if err := m.SetOp(op); err != nil {
		return Mutation{}, err
	}
	return m, nil
}

// ParseOp 将 Data 字段解析为 Op。
func (m *Mutation) ParseOp() (Op, error) {
	var op Op
	if m.Data == "" {
		return op, fmt.Errorf("mutation %s@%d has empty data", m.RoomKey, m.Version)
	}
	if err := json.Unmarshal([]byte(m.Data), &op); err != nil {
		return op, fmt.Errorf("failed to unmarshal mutation data: %w", err)
	}
	return op, nil
}

// SetOp 序列化 Op 并写入 Data 字段。
func (m *Mutation) SetOp(op Op) error {
	bytes, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to marshal mutation op: %w", err)
	}
	m.Data = string(bytes)
	return nil
}
