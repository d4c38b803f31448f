package service_test

import (
	"context"
	"testing"
	"time"

	"shoplist-sync/internal/domain"
	"shoplist-sync/internal/repository"
	"shoplist-sync/internal/repository/mocks"
	"shoplist-sync/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func stateAtVersion(t *testing.T, version int) *domain.ListState {
	t.Helper()
	state := domain.NewListState()
	for i := 0; i < version; i++ {
		_, err := state.Apply(domain.Op{Kind: domain.OpAddItem, Label: "item"}, "alice")
		require.NoError(t, err)
	}
	return state
}

func TestSnapshotService_GeneratesWhenNeverSnapshotted(t *testing.T) {
	snapshotRepo := new(mocks.SnapshotRepository)
	stateRepo := new(mocks.StateRepository)
	mutationRepo := new(mocks.MutationRepository)
	svc := service.NewSnapshotService(snapshotRepo, stateRepo, mutationRepo, time.Hour)
	ctx := context.Background()

	snapshotRepo.On("GetLatestSnapshot", ctx, "r1").Return(nil, repository.ErrSnapshotNotFound).Once()
	mutationRepo.On("CountSince", ctx, "r1", uint64(0)).Return(int64(3), nil).Once()
	stateRepo.On("GetLastSnapshotTime", ctx, "r1").Return(time.Time{}, nil).Once()
	snapshotRepo.On("SaveSnapshot", ctx, mock.MatchedBy(func(s *domain.Snapshot) bool {
		return s.RoomKey == "r1" && s.Version == 3
	})).Return(nil).Once()
	stateRepo.On("SetSnapshotCache", ctx, "r1", mock.AnythingOfType("*domain.Snapshot"), time.Hour).Return(nil).Once()
	stateRepo.On("SetLastSnapshotTime", ctx, "r1", mock.AnythingOfType("time.Time"), time.Hour).Return(nil).Once()

	generated, err := svc.CheckAndGenerateSnapshot(ctx, "r1", func(context.Context) (*domain.ListState, error) {
		return stateAtVersion(t, 3), nil
	})

	require.NoError(t, err)
	assert.True(t, generated, "从未写过快照的房间应立即生成")
	snapshotRepo.AssertExpectations(t)
	stateRepo.AssertExpectations(t)
	mutationRepo.AssertExpectations(t)
}

func TestSnapshotService_SkipsWhenNothingNew(t *testing.T) {
	snapshotRepo := new(mocks.SnapshotRepository)
	stateRepo := new(mocks.StateRepository)
	mutationRepo := new(mocks.MutationRepository)
	svc := service.NewSnapshotService(snapshotRepo, stateRepo, mutationRepo, time.Hour)
	ctx := context.Background()

	latest := &domain.Snapshot{RoomKey: "r1"}
	require.NoError(t, latest.SetState(stateAtVersion(t, 5)))
	snapshotRepo.On("GetLatestSnapshot", ctx, "r1").Return(latest, nil).Once()
	mutationRepo.On("CountSince", ctx, "r1", uint64(5)).Return(int64(0), nil).Once()

	generated, err := svc.CheckAndGenerateSnapshot(ctx, "r1", func(context.Context) (*domain.ListState, error) {
		t.Fatal("没有新变更时不应读取房间状态")
		return nil, nil
	})

	require.NoError(t, err)
	assert.False(t, generated)
	snapshotRepo.AssertNotCalled(t, "SaveSnapshot", mock.Anything, mock.Anything)
}

func TestSnapshotService_RespectsAdaptiveInterval(t *testing.T) {
	snapshotRepo := new(mocks.SnapshotRepository)
	stateRepo := new(mocks.StateRepository)
	mutationRepo := new(mocks.MutationRepository)
	svc := service.NewSnapshotService(snapshotRepo, stateRepo, mutationRepo, time.Hour)
	ctx := context.Background()
	source := func(context.Context) (*domain.ListState, error) { return stateAtVersion(t, 5), nil }

	snapshotRepo.On("GetLatestSnapshot", ctx, "r1").Return(nil, repository.ErrSnapshotNotFound)
	stateRepo.On("GetLastSnapshotTime", ctx, "r1").Return(time.Now().Add(-time.Minute), nil)

	// 5 条变更：间隔 10 分钟，一分钟前刚写过
	mutationRepo.On("CountSince", ctx, "r1", uint64(0)).Return(int64(5), nil).Once()
	generated, err := svc.CheckAndGenerateSnapshot(ctx, "r1", source)
	require.NoError(t, err)
	assert.False(t, generated, "变更较少时应等待更长的间隔")

	// 150 条变更：间隔 30 秒
	mutationRepo.On("CountSince", ctx, "r1", uint64(0)).Return(int64(150), nil).Once()
	snapshotRepo.On("SaveSnapshot", ctx, mock.AnythingOfType("*domain.Snapshot")).Return(nil).Once()
	stateRepo.On("SetSnapshotCache", ctx, "r1", mock.Anything, time.Hour).Return(nil).Once()
	stateRepo.On("SetLastSnapshotTime", ctx, "r1", mock.Anything, time.Hour).Return(nil).Once()
	generated, err = svc.CheckAndGenerateSnapshot(ctx, "r1", source)
	require.NoError(t, err)
	assert.True(t, generated, "变更频繁时应缩短间隔")
	snapshotRepo.AssertExpectations(t)
}
