package hub

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"shoplist-sync/internal/domain"
)

// RoomState 是房间的生命周期阶段。
type RoomState int32

const (
	StateLoading RoomState = iota
	StateActive
	StateDraining
	StateEvicted
)

func (s RoomState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateEvicted:
		return "evicted"
	default:
		return fmt.Sprintf("RoomState(%d)", int32(s))
	}
}

// 房间邮箱中的消息类型
const (
	msgAttach   = "attach"
	msgDetach   = "detach"
	msgMutate   = "mutate"
	msgResync   = "resync"
	msgSnapshot = "snapshot"
	msgEvict    = "evict"
	msgShutdown = "shutdown"
)

type roomMessage struct {
	Type  string
	Sub   Subscriber
	Op    domain.Op
	reply chan roomReply
}

type roomReply struct {
	Delta   domain.Op
	Version uint64
	State   *domain.ListState
	Evicted bool
	Retry   bool
	Err     error
}

// Room 持有一个共享清单的权威状态。所有状态变更只在 run 协程中发生，
// 外部通过邮箱提交消息并等待回复。
type Room struct {
	id       string
	registry *Registry
	opts     Options
	log      *logrus.Entry

	mailbox chan roomMessage
	ready   chan struct{} // 加载结束时关闭
	loadErr error         // 在 ready 关闭前写入
	done    chan struct{} // run 退出时关闭
	phase   atomic.Int32

	// 以下字段仅由 run 协程访问
	list      *domain.ListState
	subs      map[string]Subscriber
	persister *appendQueue
}

func newRoom(id string, registry *Registry) *Room {
	return &Room{
		id:       id,
		registry: registry,
		opts:     registry.opts,
		log:      registry.log.WithField("room_id", id),
		mailbox:  make(chan roomMessage, registry.opts.MailboxSize),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
		subs:     make(map[string]Subscriber),
	}
}

// ID 返回房间标识。
func (r *Room) ID() string { return r.id }

// State 返回房间当前所处阶段。
func (r *Room) State() RoomState { return RoomState(r.phase.Load()) }

func (r *Room) setState(s RoomState) {
	old := RoomState(r.phase.Swap(int32(s)))
	if old != s {
		r.log.Debugf("Room state %s -> %s", old, s)
	}
}

// start 加载初始状态并运行房间循环。加载失败时房间从注册表中移除，不会进入 Active。
func (r *Room) start() {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.LoadTimeout)
	state, err := r.registry.gateway.LoadSnapshot(ctx, r.id)
	cancel()

	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		r.log.Info("No persisted state, starting empty list")
		state = domain.NewListState()
		err = nil
	default:
		r.log.WithError(err).Error("Failed to load room state")
		if !errors.Is(err, domain.ErrStorageUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
		}
	}
	if err == nil && state == nil {
		state = domain.NewListState()
	}

	if err != nil {
		r.registry.forget(r)
		r.loadErr = err
		r.setState(StateEvicted)
		close(r.ready)
		close(r.done)
		return
	}

	r.list = state
	r.persister = newAppendQueue(r.id, r.registry.gateway, r.opts, r.registry.metrics, r.log)
	r.setState(StateActive)
	r.log.WithField("version", state.Version).Info("Room loaded")
	// 没有人加入时进入宽限期，防止空房间常驻内存
	r.maybeDrain()
	close(r.ready)
	r.run()
}

func (r *Room) run() {
	defer close(r.done)
	for msg := range r.mailbox {
		r.handle(msg)
		if r.State() == StateEvicted {
			return
		}
	}
}

func (r *Room) handle(msg roomMessage) {
	var reply roomReply
	switch msg.Type {
	case msgAttach:
		reply.Err = r.handleAttach(msg.Sub)
	case msgDetach:
		r.handleDetach(msg.Sub)
	case msgMutate:
		reply.Delta, reply.Version, reply.Err = r.handleMutate(msg.Sub, msg.Op)
	case msgResync:
		reply.Err = r.handleResync(msg.Sub)
	case msgSnapshot:
		reply.State = r.list.Clone()
	case msgEvict:
		reply = r.handleEvict()
	case msgShutdown:
		reply = r.handleShutdown()
	default:
		reply.Err = fmt.Errorf("unknown room message %q", msg.Type)
	}
	msg.reply <- reply
}

func (r *Room) handleAttach(sub Subscriber) error {
	r.subs[sub.ID()] = sub
	r.registry.metrics.sessions.Add(context.Background(), 1)
	if r.State() == StateDraining {
		r.registry.cancelRelease(r.id)
		r.setState(StateActive)
	}
	r.log.WithFields(logrus.Fields{"user": sub.Login(), "session_id": sub.ID()}).Info("Session attached")

	if !sub.Deliver(encodeSnapshot(r.id, r.list), r.list.Version) {
		r.drop(sub, "send buffer full")
		r.maybeDrain()
		return fmt.Errorf("%w: could not deliver snapshot", domain.ErrOverloaded)
	}
	return nil
}

func (r *Room) handleDetach(sub Subscriber) {
	if _, ok := r.subs[sub.ID()]; !ok {
		return
	}
	delete(r.subs, sub.ID())
	r.registry.metrics.sessions.Add(context.Background(), -1)
	r.log.WithFields(logrus.Fields{"user": sub.Login(), "session_id": sub.ID()}).Info("Session detached")
	r.maybeDrain()
}

func (r *Room) handleMutate(sub Subscriber, op domain.Op) (domain.Op, uint64, error) {
	if _, ok := r.subs[sub.ID()]; !ok {
		return domain.Op{}, 0, domain.ErrNotJoined
	}
	if r.persister.Degraded() {
		r.registry.metrics.rejected.Add(context.Background(), 1, kindAttr(domain.KindStorageUnavailable))
		return domain.Op{}, 0, fmt.Errorf("%w: room is read-only until storage recovers", domain.ErrStorageUnavailable)
	}
	if r.persister.Full() {
		r.registry.metrics.rejected.Add(context.Background(), 1, kindAttr(domain.KindOverloaded))
		return domain.Op{}, 0, fmt.Errorf("%w: %d mutations waiting to be persisted", domain.ErrOverloaded, r.persister.Pending())
	}

	actor := sub.Login()
	delta, err := r.list.Apply(op, actor)
	if err != nil {
		r.registry.metrics.rejected.Add(context.Background(), 1, kindAttr(domain.KindOf(err)))
		return domain.Op{}, 0, err
	}
	version := r.list.Version
	r.persister.enqueue(appendEntry{version: version, actor: actor, op: delta})
	r.registry.metrics.mutations.Add(context.Background(), 1, kindAttr(string(delta.Kind)))

	r.broadcast(encodeDelta(r.id, version, actor, delta), version)
	r.notify(actor, delta, version)
	return delta, version, nil
}

func (r *Room) handleResync(sub Subscriber) error {
	if _, ok := r.subs[sub.ID()]; !ok {
		return domain.ErrNotJoined
	}
	if !sub.Deliver(encodeSnapshot(r.id, r.list), r.list.Version) {
		r.drop(sub, "send buffer full")
		r.maybeDrain()
		return fmt.Errorf("%w: could not deliver snapshot", domain.ErrOverloaded)
	}
	return nil
}

// handleEvict 在宽限期结束时由注册表调用。仍有订阅者或仍有未落盘变更时拒绝驱逐。
func (r *Room) handleEvict() roomReply {
	if len(r.subs) > 0 {
		return roomReply{}
	}
	if r.persister.Pending() > 0 {
		return roomReply{Retry: true}
	}
	r.persister.close()
	r.setState(StateEvicted)
	return roomReply{Evicted: true, State: r.list.Clone()}
}

func (r *Room) handleShutdown() roomReply {
	for id, sub := range r.subs {
		delete(r.subs, id)
		r.registry.metrics.sessions.Add(context.Background(), -1)
		sub.Kick("server shutting down")
	}
	r.persister.close()
	r.setState(StateEvicted)
	return roomReply{Evicted: true, State: r.list.Clone()}
}

// broadcast 非阻塞地向所有订阅者投递同一帧。投递失败的订阅者被移出房间后再踢出。
func (r *Room) broadcast(frame []byte, version uint64) {
	var slow []Subscriber
	for _, sub := range r.subs {
		if !sub.Deliver(frame, version) {
			slow = append(slow, sub)
		}
	}
	for _, sub := range slow {
		r.drop(sub, "send buffer full")
	}
	if len(slow) > 0 {
		r.maybeDrain()
	}
}

func (r *Room) drop(sub Subscriber, reason string) {
	delete(r.subs, sub.ID())
	r.registry.metrics.sessions.Add(context.Background(), -1)
	r.registry.metrics.droppedSessions.Add(context.Background(), 1)
	r.log.WithFields(logrus.Fields{"user": sub.Login(), "session_id": sub.ID()}).Warnf("Dropping session: %s", reason)
	sub.Kick(reason)
}

func (r *Room) maybeDrain() {
	if len(r.subs) == 0 && r.State() == StateActive {
		r.setState(StateDraining)
		r.registry.Release(r.id)
	}
}

// notify 为新增和勾选完成的条目向不在线成员发送通知，不阻塞房间循环。
func (r *Room) notify(actor string, delta domain.Op, version uint64) {
	sink := r.registry.sink
	if sink == nil {
		return
	}
	if delta.Kind != domain.OpAddItem && !(delta.Kind == domain.OpSetDone && delta.Done) {
		return
	}
	notice := Notice{
		RoomID:  r.id,
		Actor:   actor,
		Kind:    delta.Kind,
		ItemID:  delta.ItemID,
		Label:   delta.Label,
		Version: version,
		Present: r.presentLogins(),
	}
	if notice.Label == "" {
		if item, ok := r.list.Find(delta.ItemID); ok {
			notice.Label = item.Label
		}
	}
	timeout := r.opts.NoticeTimeout
	log := r.log
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := sink.Notify(ctx, notice); err != nil {
			log.WithError(err).WithField("version", notice.Version).Warn("Failed to dispatch notice")
		}
	}()
}

func (r *Room) presentLogins() []string {
	seen := make(map[string]struct{}, len(r.subs))
	logins := make([]string, 0, len(r.subs))
	for _, sub := range r.subs {
		if _, ok := seen[sub.Login()]; ok {
			continue
		}
		seen[sub.Login()] = struct{}{}
		logins = append(logins, sub.Login())
	}
	return logins
}

// call 把消息交给房间循环并等待回复。
func (r *Room) call(ctx context.Context, msg roomMessage) (roomReply, error) {
	select {
	case <-r.ready:
	case <-ctx.Done():
		return roomReply{}, ctx.Err()
	}
	if r.loadErr != nil {
		return roomReply{}, r.loadErr
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
	defer cancel()

	msg.reply = make(chan roomReply, 1)
	select {
	case r.mailbox <- msg:
	case <-r.done:
		return roomReply{}, domain.ErrEvicted
	case <-ctx.Done():
		return roomReply{}, fmt.Errorf("%w: room mailbox is full", domain.ErrOverloaded)
	}
	select {
	case reply := <-msg.reply:
		return reply, nil
	case <-r.done:
		// 房间可能在退出前刚好处理了这条消息
		select {
		case reply := <-msg.reply:
			return reply, nil
		default:
			return roomReply{}, domain.ErrEvicted
		}
	case <-ctx.Done():
		return roomReply{}, ctx.Err()
	}
}

// Attach 将订阅者加入房间，并在返回前把当前快照投递给它。
func (r *Room) Attach(ctx context.Context, sub Subscriber) error {
	reply, err := r.call(ctx, roomMessage{Type: msgAttach, Sub: sub})
	if err != nil {
		return err
	}
	return reply.Err
}

// Detach 将订阅者移出房间。对未加入的订阅者是空操作。
func (r *Room) Detach(ctx context.Context, sub Subscriber) error {
	_, err := r.call(ctx, roomMessage{Type: msgDetach, Sub: sub})
	if errors.Is(err, domain.ErrEvicted) {
		return nil
	}
	return err
}

// Mutate 校验并应用一次变更，返回分配了版本号的 delta。
func (r *Room) Mutate(ctx context.Context, sub Subscriber, op domain.Op) (domain.Op, uint64, error) {
	reply, err := r.call(ctx, roomMessage{Type: msgMutate, Sub: sub, Op: op})
	if err != nil {
		return domain.Op{}, 0, err
	}
	return reply.Delta, reply.Version, reply.Err
}

// Resync 向订阅者重新投递完整快照。
func (r *Room) Resync(ctx context.Context, sub Subscriber) error {
	reply, err := r.call(ctx, roomMessage{Type: msgResync, Sub: sub})
	if err != nil {
		return err
	}
	return reply.Err
}

// Snapshot 返回当前状态的副本。
func (r *Room) Snapshot(ctx context.Context) (*domain.ListState, error) {
	reply, err := r.call(ctx, roomMessage{Type: msgSnapshot})
	if err != nil {
		return nil, err
	}
	return reply.State, nil
}

func (r *Room) evict(ctx context.Context) (roomReply, error) {
	return r.call(ctx, roomMessage{Type: msgEvict})
}

// shutdown 踢出所有订阅者并等待未落盘变更写完。
func (r *Room) shutdown(ctx context.Context) (*domain.ListState, error) {
	reply, err := r.call(ctx, roomMessage{Type: msgShutdown})
	if err != nil {
		return nil, err
	}
	if err := r.persister.wait(ctx); err != nil {
		return reply.State, fmt.Errorf("room %s: pending appends not flushed: %w", r.id, err)
	}
	return reply.State, nil
}
