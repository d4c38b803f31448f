package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shoplist-sync/internal/domain"
)

func TestRoom_AddReactRemoveScenario(t *testing.T) {
	gw := newFakeGateway()
	g := newTestRegistry(t, gw, nil, testOptions())
	ctx := context.Background()

	alice := newFakeSub("s-alice", "alice")
	room := joinRoom(t, g, "r1", alice)

	delta, version, err := room.Mutate(ctx, alice, domain.Op{Kind: domain.OpAddItem, Label: "milk", Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)
	assert.Equal(t, uint64(1), delta.ItemID, "第一个条目的 ID 应为 1")

	// bob 在 AddItem 之后加入，快照里应已包含 milk
	bob := newFakeSub("s-bob", "bob")
	require.NoError(t, room.Attach(ctx, bob))
	joined := bob.received()
	require.Len(t, joined, 1)
	assert.Equal(t, TypeSnapshot, joined[0].Type)
	assert.Equal(t, uint64(1), joined[0].Version)
	require.Len(t, joined[0].Items, 1)
	assert.Equal(t, "milk", joined[0].Items[0].Label)
	assert.Equal(t, 2, joined[0].Items[0].Quantity)

	_, version, err = room.Mutate(ctx, alice, domain.Op{Kind: domain.OpSetReaction, ItemID: 1, Emoji: "👍"})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), version)

	state, err := room.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, state.Items, 1)
	assert.Equal(t, map[string]string{"alice": "👍"}, state.Items[0].Reactions, "bob 没有回应，只应有一条")

	_, _, err = room.Mutate(ctx, alice, domain.Op{Kind: domain.OpRemoveItem, ItemID: 999})
	assert.True(t, errors.Is(err, domain.ErrNotFound), "删除不存在的条目应返回 NotFound")

	state, err = room.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), state.Version, "被拒绝的变更不应推进版本")

	aliceFrames := alice.received()
	require.Len(t, aliceFrames, 3, "快照 + 两条 delta")
	assert.Equal(t, TypeSnapshot, aliceFrames[0].Type)
	assert.Equal(t, uint64(1), aliceFrames[1].Version)
	assert.Equal(t, uint64(2), aliceFrames[2].Version)

	bobFrames := bob.received()
	require.Len(t, bobFrames, 2, "快照 + 回应 delta")
	assert.Equal(t, TypeDelta, bobFrames[1].Type)
	assert.Equal(t, "alice", bobFrames[1].By)
	assert.Equal(t, uint64(2), bobFrames[1].Version)

	require.Eventually(t, func() bool {
		return len(gw.appendedVersions()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []uint64{1, 2}, gw.appendedVersions())
}

func TestRoom_DeltasArriveInVersionOrder(t *testing.T) {
	gw := newFakeGateway()
	g := newTestRegistry(t, gw, nil, testOptions())
	ctx := context.Background()

	subs := make([]*fakeSub, 3)
	var room *Room
	for i := range subs {
		subs[i] = newFakeSub(fmt.Sprintf("s%d", i), fmt.Sprintf("user%d", i))
		room = joinRoom(t, g, "order", subs[i])
	}

	const perWriter = 20
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *fakeSub) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, _, err := room.Mutate(ctx, sub, domain.Op{Kind: domain.OpAddItem, Label: fmt.Sprintf("%s-%d", sub.login, i)})
				assert.NoError(t, err)
			}
		}(sub)
	}
	wg.Wait()

	total := perWriter * len(subs)
	for _, sub := range subs {
		var versions []uint64
		for _, f := range sub.received() {
			if f.Type == TypeDelta {
				versions = append(versions, f.Version)
			}
		}
		require.Len(t, versions, total)
		for i, v := range versions {
			assert.Equal(t, uint64(i+1), v, "delta 必须按版本连续到达")
		}
	}
}

func TestRoom_MutateWithoutAttachIsNotJoined(t *testing.T) {
	g := newTestRegistry(t, newFakeGateway(), nil, testOptions())
	room := joinRoom(t, g, "r", newFakeSub("a", "alice"))

	stranger := newFakeSub("b", "bob")
	_, _, err := room.Mutate(context.Background(), stranger, domain.Op{Kind: domain.OpAddItem, Label: "eggs"})
	assert.True(t, errors.Is(err, domain.ErrNotJoined))
	assert.True(t, errors.Is(room.Resync(context.Background(), stranger), domain.ErrNotJoined))
}

func TestRoom_SlowSubscriberIsDroppedBeforeKick(t *testing.T) {
	g := newTestRegistry(t, newFakeGateway(), nil, testOptions())
	ctx := context.Background()

	fast := newFakeSub("fast", "alice")
	slow := newFakeSub("slow", "bob")
	slow.limit = 1 // 只能容纳初始快照
	room := joinRoom(t, g, "r", fast)
	require.NoError(t, room.Attach(ctx, slow))

	_, _, err := room.Mutate(ctx, fast, domain.Op{Kind: domain.OpAddItem, Label: "bread"})
	require.NoError(t, err)
	assert.True(t, slow.wasKicked(), "队列已满的会话应被踢出")
	assert.False(t, fast.wasKicked())
	assert.Len(t, fast.received(), 2)

	_, _, err = room.Mutate(ctx, slow, domain.Op{Kind: domain.OpAddItem, Label: "jam"})
	assert.True(t, errors.Is(err, domain.ErrNotJoined), "被移除的会话不能再提交变更")
}

func TestRoom_OverloadedWhenAppendQueueFull(t *testing.T) {
	gw := newFakeGateway()
	gw.block = make(chan struct{})
	opts := testOptions()
	opts.AppendQueueMax = 2
	g := newTestRegistry(t, gw, nil, opts)
	ctx := context.Background()

	alice := newFakeSub("a", "alice")
	room := joinRoom(t, g, "r", alice)

	for i := 0; i < 2; i++ {
		_, _, err := room.Mutate(ctx, alice, domain.Op{Kind: domain.OpAddItem, Label: fmt.Sprintf("item-%d", i)})
		require.NoError(t, err)
	}
	_, _, err := room.Mutate(ctx, alice, domain.Op{Kind: domain.OpAddItem, Label: "one too many"})
	assert.True(t, errors.Is(err, domain.ErrOverloaded))

	state, err := room.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), state.Version, "Overloaded 的变更不应被应用")

	close(gw.block)
	require.Eventually(t, func() bool {
		_, _, err := room.Mutate(ctx, alice, domain.Op{Kind: domain.OpAddItem, Label: "later"})
		return err == nil
	}, time.Second, 5*time.Millisecond)
}

func TestRoom_ReadOnlyWhileAppendsFail(t *testing.T) {
	gw := newFakeGateway()
	gw.setAppendErr(errors.New("db down"))
	opts := testOptions()
	opts.AppendRetryBudget = 1
	g := newTestRegistry(t, gw, nil, opts)
	ctx := context.Background()

	alice := newFakeSub("a", "alice")
	room := joinRoom(t, g, "r", alice)

	_, _, err := room.Mutate(ctx, alice, domain.Op{Kind: domain.OpAddItem, Label: "milk"})
	require.NoError(t, err, "变更先被接受，持久化在后台进行")

	require.Eventually(t, func() bool {
		_, _, err := room.Mutate(ctx, alice, domain.Op{Kind: domain.OpAddItem, Label: "eggs"})
		return errors.Is(err, domain.ErrStorageUnavailable)
	}, time.Second, 5*time.Millisecond, "重试预算耗尽后房间应变为只读")

	gw.setAppendErr(nil)
	var last uint64
	require.Eventually(t, func() bool {
		_, v, err := room.Mutate(ctx, alice, domain.Op{Kind: domain.OpAddItem, Label: "bread"})
		last = v
		return err == nil
	}, time.Second, 5*time.Millisecond, "存储恢复后房间应重新可写")

	require.Eventually(t, func() bool {
		return uint64(len(gw.appendedVersions())) == last
	}, time.Second, 5*time.Millisecond)
	for i, v := range gw.appendedVersions() {
		assert.Equal(t, uint64(i+1), v, "恢复后按原顺序补写，不丢失也不重复")
	}
}

func TestRoom_NoticesSkipPresentMembers(t *testing.T) {
	sink := &fakeSink{}
	g := newTestRegistry(t, newFakeGateway(), sink, testOptions())
	ctx := context.Background()

	alice := newFakeSub("a", "alice")
	bob := newFakeSub("b", "bob")
	room := joinRoom(t, g, "r", alice)
	require.NoError(t, room.Attach(ctx, bob))

	_, _, err := room.Mutate(ctx, alice, domain.Op{Kind: domain.OpAddItem, Label: "milk"})
	require.NoError(t, err)
	_, _, err = room.Mutate(ctx, bob, domain.Op{Kind: domain.OpSetQuantity, ItemID: 1, Quantity: 3})
	require.NoError(t, err)
	_, _, err = room.Mutate(ctx, bob, domain.Op{Kind: domain.OpSetDone, ItemID: 1, Done: true})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(sink.all()) == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	notices := sink.all()
	require.Len(t, notices, 2, "只有新增和完成会产生通知")

	byKind := map[domain.OpKind]Notice{}
	for _, n := range notices {
		byKind[n.Kind] = n
	}
	added := byKind[domain.OpAddItem]
	assert.Equal(t, "alice", added.Actor)
	assert.Equal(t, "milk", added.Label)
	assert.ElementsMatch(t, []string{"alice", "bob"}, added.Present)

	done := byKind[domain.OpSetDone]
	assert.Equal(t, "bob", done.Actor)
	assert.Equal(t, "milk", done.Label, "完成通知应带上条目名称")
	assert.Equal(t, uint64(3), done.Version)
}

func TestRoom_LoadsPersistedState(t *testing.T) {
	gw := newFakeGateway()
	state := domain.NewListState()
	_, err := state.Apply(domain.Op{Kind: domain.OpAddItem, Label: "coffee"}, "alice")
	require.NoError(t, err)
	gw.states["r"] = state

	g := newTestRegistry(t, gw, nil, testOptions())
	bob := newFakeSub("b", "bob")
	room := joinRoom(t, g, "r", bob)

	frames := bob.received()
	require.Len(t, frames, 1)
	assert.Equal(t, TypeSnapshot, frames[0].Type)
	assert.Equal(t, uint64(1), frames[0].Version)
	require.Len(t, frames[0].Items, 1)
	assert.Equal(t, "coffee", frames[0].Items[0].Label)

	delta, _, err := room.Mutate(context.Background(), bob, domain.Op{Kind: domain.OpAddItem, Label: "tea"})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), delta.ItemID, "加载后的房间继续分配 ID")
}

func TestRoom_ResyncSendsFreshSnapshot(t *testing.T) {
	g := newTestRegistry(t, newFakeGateway(), nil, testOptions())
	ctx := context.Background()

	alice := newFakeSub("s-alice", "alice")
	room := joinRoom(t, g, "r1", alice)
	_, _, err := room.Mutate(ctx, alice, domain.Op{Kind: domain.OpAddItem, Label: "bread"})
	require.NoError(t, err)

	require.NoError(t, room.Resync(ctx, alice))
	frames := alice.received()
	require.Len(t, frames, 3, "快照 + delta + 重新同步的快照")
	last := frames[2]
	assert.Equal(t, TypeSnapshot, last.Type)
	assert.Equal(t, uint64(1), last.Version)
	require.Len(t, last.Items, 1)
	assert.Equal(t, "bread", last.Items[0].Label)

	stranger := newFakeSub("s-eve", "eve")
	err = room.Resync(ctx, stranger)
	assert.True(t, errors.Is(err, domain.ErrNotJoined), "未加入的会话不能重新同步")
}
