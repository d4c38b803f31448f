package hub

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"shoplist-sync/internal/domain"
)

type appendRecord struct {
	roomID  string
	version uint64
	actor   string
	op      domain.Op
}

type fakeGateway struct {
	mu        sync.Mutex
	states    map[string]*domain.ListState
	loadErr   error
	loadGate  chan struct{}
	appendErr error
	block     chan struct{}
	appended  []appendRecord
	loadCalls atomic.Int32
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{states: make(map[string]*domain.ListState)}
}

func (f *fakeGateway) LoadSnapshot(ctx context.Context, roomID string) (*domain.ListState, error) {
	f.loadCalls.Add(1)
	f.mu.Lock()
	gate := f.loadGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	state, ok := f.states[roomID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return state.Clone(), nil
}

func (f *fakeGateway) AppendMutation(ctx context.Context, roomID string, version uint64, actor string, op domain.Op) error {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appended = append(f.appended, appendRecord{roomID: roomID, version: version, actor: actor, op: op})
	return nil
}

func (f *fakeGateway) setAppendErr(err error) {
	f.mu.Lock()
	f.appendErr = err
	f.mu.Unlock()
}

func (f *fakeGateway) setLoadErr(err error) {
	f.mu.Lock()
	f.loadErr = err
	f.mu.Unlock()
}

func (f *fakeGateway) appendedVersions() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	versions := make([]uint64, 0, len(f.appended))
	for _, a := range f.appended {
		versions = append(versions, a.version)
	}
	return versions
}

type fakeSaver struct {
	mu    sync.Mutex
	saved map[string]*domain.ListState
}

func (f *fakeSaver) SaveSnapshot(_ context.Context, roomID string, state *domain.ListState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved == nil {
		f.saved = make(map[string]*domain.ListState)
	}
	f.saved[roomID] = state
	return nil
}

func (f *fakeSaver) get(roomID string) *domain.ListState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saved[roomID]
}

type fakeSink struct {
	mu      sync.Mutex
	notices []Notice
}

func (f *fakeSink) Notify(_ context.Context, n Notice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, n)
	return nil
}

func (f *fakeSink) all() []Notice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Notice(nil), f.notices...)
}

type fakeSub struct {
	id    string
	login string
	limit int

	mu     sync.Mutex
	frames []*Outbound
	kicked string
}

func newFakeSub(id, login string) *fakeSub {
	return &fakeSub{id: id, login: login, limit: 1 << 20}
}

func (f *fakeSub) ID() string    { return f.id }
func (f *fakeSub) Login() string { return f.login }

func (f *fakeSub) Deliver(frame []byte, _ uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.kicked != "" || len(f.frames) >= f.limit {
		return false
	}
	out, err := DecodeOutbound(frame)
	if err != nil {
		panic(err)
	}
	f.frames = append(f.frames, out)
	return true
}

func (f *fakeSub) Kick(reason string) {
	f.mu.Lock()
	f.kicked = reason
	f.mu.Unlock()
}

func (f *fakeSub) received() []*Outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Outbound(nil), f.frames...)
}

func (f *fakeSub) wasKicked() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.kicked != ""
}

func testOptions() Options {
	return Options{
		EvictionGrace:         time.Hour,
		AppendRetryInitial:    time.Millisecond,
		AppendRetryMax:        2 * time.Millisecond,
		DegradedRetryInterval: 10 * time.Millisecond,
		CallTimeout:           2 * time.Second,
	}
}

func newTestRegistry(t *testing.T, gw PersistenceGateway, sink NotificationSink, opts Options) *Registry {
	t.Helper()
	g := NewRegistry(gw, sink, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = g.Close(ctx)
	})
	return g
}

func joinRoom(t *testing.T, g *Registry, roomID string, sub Subscriber) *Room {
	t.Helper()
	room, err := g.Resolve(context.Background(), roomID)
	require.NoError(t, err)
	require.NoError(t, room.Attach(context.Background(), sub))
	return room
}
