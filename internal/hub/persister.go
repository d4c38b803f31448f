package hub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"shoplist-sync/internal/domain"
)

type appendEntry struct {
	version uint64
	actor   string
	op      domain.Op
}

// appendQueue 按接受顺序逐条持久化一个房间的变更。
// 每条追加先在重试预算内指数退避；预算耗尽后房间进入只读降级，
// 队列以固定间隔继续重试同一条，直到成功或被中止。
type appendQueue struct {
	roomID  string
	gateway PersistenceGateway
	opts    Options
	metrics *hubMetrics
	log     *logrus.Entry

	entries  chan appendEntry
	pending  atomic.Int64 // 已入队但尚未持久化的条数，包括正在写入的那一条
	degraded atomic.Bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

func newAppendQueue(roomID string, gateway PersistenceGateway, opts Options, m *hubMetrics, log *logrus.Entry) *appendQueue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &appendQueue{
		roomID:  roomID,
		gateway: gateway,
		opts:    opts,
		metrics: m,
		log:     log.WithField("component", "append_queue"),
		entries: make(chan appendEntry, opts.AppendQueueMax),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

// Pending 返回尚未落盘的变更数。
func (q *appendQueue) Pending() int { return int(q.pending.Load()) }

// Degraded 表示最近一条追加耗尽了重试预算且尚未成功。
func (q *appendQueue) Degraded() bool { return q.degraded.Load() }

// Full 判断队列是否已无空位。调用方 (房间循环) 是唯一的生产者，
// 因此 Full 返回 false 后紧接着的 enqueue 不会阻塞。
func (q *appendQueue) Full() bool { return q.Pending() >= q.opts.AppendQueueMax }

func (q *appendQueue) enqueue(e appendEntry) {
	q.pending.Add(1)
	q.entries <- e
}

// close 停止接收新条目，已入队的条目仍会被写完。
func (q *appendQueue) close() {
	q.closeOnce.Do(func() { close(q.entries) })
}

// wait 等待队列写完。ctx 到期时中止剩余重试并返回 ctx 错误。
func (q *appendQueue) wait(ctx context.Context) error {
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		q.cancel()
		<-q.done
		return ctx.Err()
	}
}

func (q *appendQueue) run() {
	defer close(q.done)
	for e := range q.entries {
		q.commit(e)
		q.pending.Add(-1)
	}
}

func (q *appendQueue) commit(e appendEntry) {
	log := q.log.WithFields(logrus.Fields{"version": e.version, "operation": string(e.op.Kind)})
	write := func() error {
		ctx, cancel := context.WithTimeout(q.ctx, q.opts.AppendTimeout)
		defer cancel()
		return q.gateway.AppendMutation(ctx, q.roomID, e.version, e.actor, e.op)
	}

	var b backoff.BackOff = q.newBackOff()
	b = backoff.WithMaxRetries(b, uint64(q.opts.AppendRetryBudget))
	b = backoff.WithContext(b, q.ctx)
	err := backoff.RetryNotify(write, b, func(err error, next time.Duration) {
		log.WithError(err).Warnf("Append failed, retrying in %s", next)
	})
	if err == nil {
		q.recovered(log)
		return
	}
	if q.ctx.Err() != nil {
		log.WithError(err).Error("Append abandoned during shutdown")
		return
	}

	if !q.degraded.Swap(true) {
		log.WithError(err).Error("Append retry budget exhausted, room is now read-only")
	}
	q.metrics.appendFailures.Add(context.Background(), 1)

	ticker := time.NewTicker(q.opts.DegradedRetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.ctx.Done():
			log.Error("Append abandoned during shutdown")
			return
		case <-ticker.C:
		}
		if err := write(); err != nil {
			log.WithError(err).Warn("Append still failing")
			continue
		}
		q.recovered(log)
		return
	}
}

func (q *appendQueue) recovered(log *logrus.Entry) {
	if q.degraded.Swap(false) {
		log.Info("Append succeeded, room is writable again")
	}
}

func (q *appendQueue) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.opts.AppendRetryInitial
	b.MaxInterval = q.opts.AppendRetryMax
	b.MaxElapsedTime = 0 // 次数由 WithMaxRetries 控制
	return b
}
