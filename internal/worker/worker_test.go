package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shoplist-sync/internal/domain"
	"shoplist-sync/internal/hub"
	"shoplist-sync/internal/service"
	"shoplist-sync/internal/tasks"
)

type stubDeliverer struct {
	got []tasks.RoomNoticePayload
	err error
}

func (d *stubDeliverer) Deliver(_ context.Context, p tasks.RoomNoticePayload) (int, error) {
	d.got = append(d.got, p)
	return len(p.Present), d.err
}

func TestRoomNoticeHandler(t *testing.T) {
	d := &stubDeliverer{}
	h := NewRoomNoticeHandler(d)

	task, err := tasks.NewRoomNoticeTask(tasks.RoomNoticePayload{RoomID: "r1", Actor: "alice", Kind: "add_item", Label: "milk"})
	require.NoError(t, err)
	require.NoError(t, h.ProcessTask(context.Background(), task))
	require.Len(t, d.got, 1)
	assert.Equal(t, "milk", d.got[0].Label)

	d.err = errors.New("nats down")
	assert.Error(t, h.ProcessTask(context.Background(), task), "投递失败应返回错误让 asynq 重试")
}

func TestRoomNoticeHandler_BadPayloadSkipsRetry(t *testing.T) {
	h := NewRoomNoticeHandler(&stubDeliverer{})
	err := h.ProcessTask(context.Background(), asynq.NewTask(tasks.TypeRoomNotice, []byte("{not json")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry), "无法解析的任务不应重试")
}

type memoryGateway struct{}

func (memoryGateway) LoadSnapshot(context.Context, string) (*domain.ListState, error) {
	return nil, domain.ErrNotFound
}

func (memoryGateway) AppendMutation(context.Context, string, uint64, string, domain.Op) error {
	return nil
}

type recordingChecker struct {
	mu       sync.Mutex
	versions map[string]uint64
}

func (c *recordingChecker) CheckAndGenerateSnapshot(ctx context.Context, roomID string, source service.StateSource) (bool, error) {
	state, err := source(ctx)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.versions[roomID] = state.Version
	return true, nil
}

func TestSnapshotCheckHandler_ChecksEveryActiveRoom(t *testing.T) {
	opts := hub.DefaultOptions()
	opts.EvictionGrace = time.Hour
	registry := hub.NewRegistry(memoryGateway{}, nil, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = registry.Close(ctx)
	})

	for _, id := range []string{"r1", "r2"} {
		_, err := registry.Resolve(context.Background(), id)
		require.NoError(t, err)
	}

	checker := &recordingChecker{versions: map[string]uint64{}}
	h := NewSnapshotCheckHandler(registry, checker)
	require.NoError(t, h.ProcessTask(context.Background(), tasks.NewSnapshotCheckTask()))

	assert.Equal(t, map[string]uint64{"r1": 0, "r2": 0}, checker.versions)
}
