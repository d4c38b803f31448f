package domain

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// OpKind 标识一种清单变更操作。
type OpKind string

const (
	OpAddItem     OpKind = "add_item"
	OpRemoveItem  OpKind = "remove_item"
	OpSetDone     OpKind = "set_done"
	OpSetQuantity OpKind = "set_quantity"
	OpSetReaction OpKind = "set_reaction"
)

const (
	MaxLabelLength = 200
	MaxEmojiBytes  = 32
)

// Op 是一次变更请求，同时也是广播给客户端的 Delta 内容。
// AddItem 的 ItemID 由房间分配，客户端传入的值会被忽略。
type Op struct {
	Kind     OpKind `json:"kind"`
	ItemID   uint64 `json:"item_id,omitempty"`
	Label    string `json:"label,omitempty"`
	Quantity int    `json:"quantity,omitempty"`
	Done     bool   `json:"done,omitempty"`
	Emoji    string `json:"emoji,omitempty"`
}

// Validate 检查与房间状态无关的参数合法性。
func (op Op) Validate() error {
	switch op.Kind {
	case OpAddItem:
		label := strings.TrimSpace(op.Label)
		if label == "" {
			return fmt.Errorf("%w: label is required", ErrInvalidArgument)
		}
		if utf8.RuneCountInString(label) > MaxLabelLength {
			return fmt.Errorf("%w: label longer than %d characters", ErrInvalidArgument, MaxLabelLength)
		}
		if op.Quantity < 0 {
			return fmt.Errorf("%w: quantity must be positive", ErrInvalidArgument)
		}
	case OpRemoveItem, OpSetDone:
		if op.ItemID == 0 {
			return fmt.Errorf("%w: item_id is required", ErrInvalidArgument)
		}
	case OpSetQuantity:
		if op.ItemID == 0 {
			return fmt.Errorf("%w: item_id is required", ErrInvalidArgument)
		}
		if op.Quantity <= 0 {
			return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidArgument, op.Quantity)
		}
	case OpSetReaction:
		if op.ItemID == 0 {
			return fmt.Errorf("%w: item_id is required", ErrInvalidArgument)
		}
		if op.Emoji != "" && !ValidEmoji(op.Emoji) {
			return fmt.Errorf("%w: invalid emoji %q", ErrInvalidArgument, op.Emoji)
		}
	default:
		return fmt.Errorf("%w: unknown op kind %q", ErrInvalidArgument, op.Kind)
	}
	return nil
}

// ValidEmoji 判断字符串能否作为一个表情回应。
// 空字符串表示清除回应，不在此处判断。
func ValidEmoji(s string) bool {
	if s == "" || len(s) > MaxEmojiBytes || !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}
