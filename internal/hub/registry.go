package hub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"shoplist-sync/internal/domain"
)

type evictTimer struct {
	timer *time.Timer
	gen   uint64
}

// Registry 负责房间的按需创建与空闲驱逐。同一 roomID 在任意时刻至多对应一个存活的 Room。
// 注册表持锁期间从不等待房间，房间循环可以安全地回调 Release / cancelRelease。
type Registry struct {
	gateway PersistenceGateway
	sink    NotificationSink
	saver   SnapshotSaver
	access  Access
	opts    Options
	metrics *hubMetrics
	log     *logrus.Entry

	mu     sync.Mutex
	rooms  map[string]*Room
	timers map[string]*evictTimer
	gen    uint64
	closed bool
}

// NewRegistry 创建房间注册表。sink 可以为 nil，此时不发送通知。
func NewRegistry(gateway PersistenceGateway, sink NotificationSink, opts Options) *Registry {
	if gateway == nil {
		panic("NewRegistry: PersistenceGateway cannot be nil")
	}
	g := &Registry{
		gateway: gateway,
		sink:    sink,
		opts:    opts.withDefaults(),
		log:     logrus.WithField("component", "room_registry"),
		rooms:   make(map[string]*Room),
		timers:  make(map[string]*evictTimer),
	}
	g.metrics = newHubMetrics(g.Len)
	return g
}

// SetSnapshotSaver 设置驱逐与关闭时保存最终快照的实现。
func (g *Registry) SetSnapshotSaver(s SnapshotSaver) { g.saver = s }

// SetAccess 设置加入房间时的成员校验。未设置时任何已认证用户都可以加入。
func (g *Registry) SetAccess(a Access) { g.access = a }

// Options 返回补齐默认值后的参数。
func (g *Registry) Options() Options { return g.opts }

// Resolve 返回 roomID 对应的已加载房间，必要时创建并加载。
// 并发调用者共享同一次加载；加载失败时不会留下注册项，调用者可以重试。
func (g *Registry) Resolve(ctx context.Context, roomID string) (*Room, error) {
	if roomID == "" {
		return nil, fmt.Errorf("%w: room id is required", domain.ErrInvalidArgument)
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, fmt.Errorf("%w: registry is shutting down", domain.ErrEvicted)
	}
	room, ok := g.rooms[roomID]
	// 已驱逐但 expire 尚未 forget 的实例视为不存在
	if !ok || room.State() == StateEvicted {
		room = newRoom(roomID, g)
		g.rooms[roomID] = room
		go room.start()
	}
	g.mu.Unlock()

	select {
	case <-room.ready:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for room load: %v", domain.ErrStorageUnavailable, ctx.Err())
	}
	if room.loadErr != nil {
		return nil, room.loadErr
	}
	return room, nil
}

// Release 在房间变空时启动驱逐计时。宽限期内的 Attach 会取消计时。
func (g *Registry) Release(roomID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	if t, ok := g.timers[roomID]; ok {
		t.timer.Stop()
	}
	g.gen++
	gen := g.gen
	g.timers[roomID] = &evictTimer{
		gen:   gen,
		timer: time.AfterFunc(g.opts.EvictionGrace, func() { g.expire(roomID, gen) }),
	}
}

func (g *Registry) cancelRelease(roomID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t, ok := g.timers[roomID]; ok {
		t.timer.Stop()
		delete(g.timers, roomID)
	}
}

func (g *Registry) expire(roomID string, gen uint64) {
	g.mu.Lock()
	t, ok := g.timers[roomID]
	if !ok || t.gen != gen {
		g.mu.Unlock()
		return
	}
	delete(g.timers, roomID)
	room := g.rooms[roomID]
	g.mu.Unlock()
	if room == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.opts.CallTimeout)
	defer cancel()
	reply, err := room.evict(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrEvicted) {
			g.forget(room)
			return
		}
		g.log.WithError(err).WithField("room_id", roomID).Warn("Eviction check failed, rescheduling")
		g.Release(roomID)
		return
	}
	if reply.Retry {
		g.log.WithField("room_id", roomID).Info("Room still has pending appends, postponing eviction")
		g.Release(roomID)
		return
	}
	if !reply.Evicted {
		return
	}

	g.forget(room)
	g.metrics.evictions.Add(context.Background(), 1)
	g.log.WithFields(logrus.Fields{"room_id": roomID, "version": reply.State.Version}).Info("Room evicted")
	g.saveFinal(ctx, roomID, reply.State)
}

func (g *Registry) saveFinal(ctx context.Context, roomID string, state *domain.ListState) {
	if g.saver == nil || state == nil || state.Version == 0 {
		return
	}
	if err := g.saver.SaveSnapshot(ctx, roomID, state); err != nil {
		g.log.WithError(err).WithField("room_id", roomID).Warn("Failed to save final snapshot")
	}
}

// forget 移除注册项，仅当它仍指向同一个房间实例时生效。
func (g *Registry) forget(room *Room) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rooms[room.id] == room {
		delete(g.rooms, room.id)
	}
}

// Len 返回内存中的房间数，包括仍在加载的房间。
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// ActiveRooms 返回已加载完成、尚未驱逐的房间，按 ID 排序。
func (g *Registry) ActiveRooms() []*Room {
	g.mu.Lock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.Unlock()

	active := rooms[:0]
	for _, r := range rooms {
		if s := r.State(); s == StateActive || s == StateDraining {
			active = append(active, r)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].id < active[j].id })
	return active
}

// Lookup 返回已在内存中的房间，不触发加载。
func (g *Registry) Lookup(roomID string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[roomID]
	return r, ok
}

func (g *Registry) canJoin(ctx context.Context, roomID, login string) (bool, error) {
	if g.access == nil {
		return true, nil
	}
	return g.access.CanJoin(ctx, roomID, login)
}

// Close 停止接收新房间，踢出所有会话，并等待每个房间写完未落盘的变更后保存最终快照。
func (g *Registry) Close(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	for id, t := range g.timers {
		t.timer.Stop()
		delete(g.timers, id)
	}
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, r := range rooms {
		wg.Add(1)
		go func(r *Room) {
			defer wg.Done()
			state, err := r.shutdown(ctx)
			if err != nil && !errors.Is(err, domain.ErrEvicted) {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			if err == nil {
				g.saveFinal(ctx, r.id, state)
			}
			g.forget(r)
		}(r)
	}
	wg.Wait()
	g.metrics.close()
	g.log.Infof("Registry closed, %d rooms shut down", len(rooms))
	return errors.Join(errs...)
}
