package domain

import (
	"fmt"
	"strings"
)

// ListState 是一个房间购物清单的完整状态，即 Snapshot 的内容。
type ListState struct {
	Items   []Item `json:"items"`
	Version uint64 `json:"version"`
	// NextID 记录已分配过的最大 Item ID，保证 ID 永不复用
	NextID uint64 `json:"next_id"`
}

// NewListState 返回一个空的清单状态 (版本 0)。
func NewListState() *ListState {
	return &ListState{Items: make([]Item, 0)}
}

// Clone 返回状态的深拷贝。
func (s *ListState) Clone() *ListState {
	c := &ListState{Version: s.Version, NextID: s.NextID, Items: make([]Item, len(s.Items))}
	for i, it := range s.Items {
		c.Items[i] = it.Clone()
	}
	return c
}

func (s *ListState) indexOf(id uint64) int {
	for i := range s.Items {
		if s.Items[i].ID == id {
			return i
		}
	}
	return -1
}

// Find 按 ID 查找清单项。
func (s *ListState) Find(id uint64) (Item, bool) {
	if i := s.indexOf(id); i >= 0 {
		return s.Items[i], true
	}
	return Item{}, false
}

// Apply 校验并应用一次变更，成功时版本号加一并返回实际生效的 Delta。
// actor 是发起变更的用户 login，用于表情回应。
// 失败时状态和版本号都不变。
func (s *ListState) Apply(op Op, actor string) (Op, error) {
	if err := op.Validate(); err != nil {
		return Op{}, err
	}
	idx := -1
	if op.Kind != OpAddItem {
		idx = s.indexOf(op.ItemID)
		if idx < 0 {
			return Op{}, fmt.Errorf("%w: item %d", ErrNotFound, op.ItemID)
		}
	}
	if op.Kind == OpSetReaction && actor == "" {
		return Op{}, fmt.Errorf("%w: reaction requires a user", ErrInvalidArgument)
	}

	next := s.Version + 1
	delta := op
	switch op.Kind {
	case OpAddItem:
		qty := op.Quantity
		if qty == 0 {
			qty = 1
		}
		s.NextID++
		item := Item{
			ID:        s.NextID,
			Label:     strings.TrimSpace(op.Label),
			Quantity:  qty,
			Reactions: make(map[string]string),
			Version:   next,
		}
		s.Items = append(s.Items, item)
		delta = Op{Kind: OpAddItem, ItemID: item.ID, Label: item.Label, Quantity: item.Quantity}
	case OpRemoveItem:
		s.Items = append(s.Items[:idx], s.Items[idx+1:]...)
		delta = Op{Kind: OpRemoveItem, ItemID: op.ItemID}
	case OpSetDone:
		s.Items[idx].Done = op.Done
		s.Items[idx].Version = next
		delta = Op{Kind: OpSetDone, ItemID: op.ItemID, Done: op.Done}
	case OpSetQuantity:
		s.Items[idx].Quantity = op.Quantity
		s.Items[idx].Version = next
		delta = Op{Kind: OpSetQuantity, ItemID: op.ItemID, Quantity: op.Quantity}
	case OpSetReaction:
		item := &s.Items[idx]
		if item.Reactions == nil {
			item.Reactions = make(map[string]string)
		}
		if op.Emoji == "" {
			delete(item.Reactions, actor)
		} else {
			item.Reactions[actor] = op.Emoji
		}
		item.Version = next
		delta = Op{Kind: OpSetReaction, ItemID: op.ItemID, Emoji: op.Emoji}
	}
	s.Version = next
	return delta, nil
}

// Replay 按顺序将已记录的变更重放到状态上，用于从快照 + 变更日志恢复。
// 变更必须从 s.Version+1 开始连续，否则返回错误。
func (s *ListState) Replay(mutations []Mutation) error {
	for _, m := range mutations {
		if m.Version != s.Version+1 {
			return fmt.Errorf("mutation log gap: expected version %d, got %d", s.Version+1, m.Version)
		}
		op, err := m.ParseOp()
		if err != nil {
			return err
		}
		delta, err := s.Apply(op, m.Actor)
		if err != nil {
			return fmt.Errorf("replay version %d: %w", m.Version, err)
		}
		if op.Kind == OpAddItem && op.ItemID != 0 && delta.ItemID != op.ItemID {
			return fmt.Errorf("replay version %d: item id diverged (%d != %d)", m.Version, delta.ItemID, op.ItemID)
		}
	}
	return nil
}
