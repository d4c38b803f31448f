package hub

import (
	"encoding/json"
	"fmt"

	"shoplist-sync/internal/domain"
)

// 入站帧类型
const (
	TypeJoin      = "join"
	TypeLeave     = "leave"
	TypeMutate    = "mutate"
	TypeHeartbeat = "heartbeat"
	TypeResync    = "resync"
)

// 出站帧类型
const (
	TypeSnapshot     = "snapshot"
	TypeDelta        = "delta"
	TypeError        = "error"
	TypeHeartbeatAck = "heartbeat_ack"
)

// Inbound 是客户端发来的一帧。
type Inbound struct {
	Type    string     `json:"type"`
	Room    string     `json:"room,omitempty"`
	Ref     string     `json:"ref,omitempty"`
	Op      *domain.Op `json:"op,omitempty"`
	Version uint64     `json:"version,omitempty"`
}

// Outbound 是服务端发出的任意一帧，主要供客户端和测试解码使用。
type Outbound struct {
	Type    string        `json:"type"`
	Room    string        `json:"room,omitempty"`
	Version uint64        `json:"version"`
	Items   []domain.Item `json:"items,omitempty"`
	By      string        `json:"by,omitempty"`
	Op      *domain.Op    `json:"op,omitempty"`
	Kind    string        `json:"kind,omitempty"`
	Detail  string        `json:"detail,omitempty"`
	Ref     string        `json:"ref,omitempty"`
}

type snapshotFrame struct {
	Type    string        `json:"type"`
	Room    string        `json:"room"`
	Version uint64        `json:"version"`
	Items   []domain.Item `json:"items"`
}

type deltaFrame struct {
	Type    string    `json:"type"`
	Room    string    `json:"room"`
	Version uint64    `json:"version"`
	By      string    `json:"by"`
	Op      domain.Op `json:"op"`
}

type errorFrame struct {
	Type   string `json:"type"`
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
	Ref    string `json:"ref,omitempty"`
}

type heartbeatAckFrame struct {
	Type    string `json:"type"`
	Version uint64 `json:"version"`
}

// DecodeInbound 解析并校验一帧入站消息。格式错误统一归为 ErrInvalidArgument。
func DecodeInbound(data []byte) (*Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%w: malformed frame: %v", domain.ErrInvalidArgument, err)
	}
	switch in.Type {
	case TypeJoin:
		if in.Room == "" {
			return nil, fmt.Errorf("%w: join requires room", domain.ErrInvalidArgument)
		}
	case TypeMutate:
		if in.Op == nil {
			return nil, fmt.Errorf("%w: mutate requires op", domain.ErrInvalidArgument)
		}
	case TypeLeave, TypeHeartbeat, TypeResync:
	case "":
		return nil, fmt.Errorf("%w: missing frame type", domain.ErrInvalidArgument)
	default:
		return nil, fmt.Errorf("%w: unknown frame type %q", domain.ErrInvalidArgument, in.Type)
	}
	return &in, nil
}

// DecodeOutbound 解析服务端发出的一帧。
func DecodeOutbound(data []byte) (*Outbound, error) {
	var out Outbound
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// 下面这些编码函数的输入都是本包内构造的值，json.Marshal 不会失败，因此忽略错误。

func encodeSnapshot(roomID string, state *domain.ListState) []byte {
	items := state.Items
	if items == nil {
		items = []domain.Item{}
	}
	b, _ := json.Marshal(snapshotFrame{Type: TypeSnapshot, Room: roomID, Version: state.Version, Items: items})
	return b
}

func encodeDelta(roomID string, version uint64, by string, op domain.Op) []byte {
	b, _ := json.Marshal(deltaFrame{Type: TypeDelta, Room: roomID, Version: version, By: by, Op: op})
	return b
}

func encodeError(err error, ref string) []byte {
	b, _ := json.Marshal(errorFrame{Type: TypeError, Kind: domain.KindOf(err), Detail: err.Error(), Ref: ref})
	return b
}

func encodeHeartbeatAck(version uint64) []byte {
	b, _ := json.Marshal(heartbeatAckFrame{Type: TypeHeartbeatAck, Version: version})
	return b
}
