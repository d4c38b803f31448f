package hub

import (
	"context"

	"shoplist-sync/internal/domain"
)

// PersistenceGateway 是房间访问持久化存储的唯一接口。
type PersistenceGateway interface {
	// LoadSnapshot 返回房间最近的持久化状态。
	// 从未出现过的房间返回 domain.ErrNotFound，暂时不可用返回 domain.ErrStorageUnavailable。
	LoadSnapshot(ctx context.Context, roomID string) (*domain.ListState, error)

	// AppendMutation 持久化一条已接受的变更，对同一 (roomID, version) 幂等。
	AppendMutation(ctx context.Context, roomID string, version uint64, actor string, op domain.Op) error
}

// Notice 是一条发给不在线成员的异步通知。
type Notice struct {
	RoomID  string        `json:"room_id"`
	Actor   string        `json:"actor"`
	Kind    domain.OpKind `json:"kind"`
	ItemID  uint64        `json:"item_id"`
	Label   string        `json:"label"`
	Version uint64        `json:"version"`
	Present []string      `json:"present"` // 产生通知时已连接的用户，不需要通知
}

// NotificationSink 接收即发即弃的通知。实现不得长时间阻塞。
type NotificationSink interface {
	Notify(ctx context.Context, notice Notice) error
}

// SnapshotSaver 在房间被驱逐或服务关闭时保存最终状态。
type SnapshotSaver interface {
	SaveSnapshot(ctx context.Context, roomID string, state *domain.ListState) error
}

// Access 判断用户能否加入房间。
type Access interface {
	CanJoin(ctx context.Context, roomID, login string) (bool, error)
}

// Subscriber 是挂在房间上的一个参与者，通常是 *Session。
type Subscriber interface {
	ID() string
	Login() string
	// Deliver 非阻塞地投递一帧，version 为该帧对应的房间版本。返回 false 表示队列已满或已关闭。
	Deliver(frame []byte, version uint64) bool
	// Kick 在订阅者已从房间移除之后调用，通知其释放连接。
	Kick(reason string)
}
