package hub

import "time"

// Options 汇总同步引擎的可调参数。零值字段在使用前由 withDefaults 补齐。
type Options struct {
	// 会话
	IdleTimeout    time.Duration // 无任何流量 (含心跳与 pong) 的最长时间
	PingPeriod     time.Duration // 服务端 ping 周期，必须小于 IdleTimeout
	WriteWait      time.Duration // 单次写入超时
	MaxMessageSize int64         // 入站消息大小上限
	SendBuffer     int           // 每个会话的出站队列长度
	ViolationLimit int           // 协议违规次数上限，达到后强制断开

	// 房间
	MailboxSize   int           // 房间邮箱长度
	CallTimeout   time.Duration // 等待房间处理一条消息的最长时间
	LoadTimeout   time.Duration // 加载初始快照的超时
	EvictionGrace time.Duration // 房间变空后的驱逐宽限期

	// 持久化追加队列
	AppendQueueMax        int           // 待追加变更数上限，超过后返回 Overloaded
	AppendRetryBudget     int           // 单条追加的最大重试次数
	AppendTimeout         time.Duration // 单次追加调用超时
	AppendRetryInitial    time.Duration
	AppendRetryMax        time.Duration
	DegradedRetryInterval time.Duration // 只读降级模式下的重试间隔

	NoticeTimeout time.Duration // 投递通知的超时
}

// DefaultOptions 返回默认参数。会话超时与 ping 周期沿用原服务的 100s / 10s。
func DefaultOptions() Options {
	return Options{
		IdleTimeout:    100 * time.Second,
		PingPeriod:     10 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     256,
		ViolationLimit: 5,

		MailboxSize:   256,
		CallTimeout:   5 * time.Second,
		LoadTimeout:   10 * time.Second,
		EvictionGrace: 30 * time.Second,

		AppendQueueMax:        256,
		AppendRetryBudget:     5,
		AppendTimeout:         5 * time.Second,
		AppendRetryInitial:    100 * time.Millisecond,
		AppendRetryMax:        5 * time.Second,
		DegradedRetryInterval: 10 * time.Second,

		NoticeTimeout: 5 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = d.IdleTimeout
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.IdleTimeout {
		o.PingPeriod = o.IdleTimeout * 9 / 10
		if d.PingPeriod < o.PingPeriod {
			o.PingPeriod = d.PingPeriod
		}
	}
	if o.WriteWait <= 0 {
		o.WriteWait = d.WriteWait
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = d.SendBuffer
	}
	if o.ViolationLimit <= 0 {
		o.ViolationLimit = d.ViolationLimit
	}
	if o.MailboxSize <= 0 {
		o.MailboxSize = d.MailboxSize
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = d.CallTimeout
	}
	if o.LoadTimeout <= 0 {
		o.LoadTimeout = d.LoadTimeout
	}
	if o.EvictionGrace <= 0 {
		o.EvictionGrace = d.EvictionGrace
	}
	if o.AppendQueueMax <= 0 {
		o.AppendQueueMax = d.AppendQueueMax
	}
	if o.AppendRetryBudget <= 0 {
		o.AppendRetryBudget = d.AppendRetryBudget
	}
	if o.AppendTimeout <= 0 {
		o.AppendTimeout = d.AppendTimeout
	}
	if o.AppendRetryInitial <= 0 {
		o.AppendRetryInitial = d.AppendRetryInitial
	}
	if o.AppendRetryMax <= 0 {
		o.AppendRetryMax = d.AppendRetryMax
	}
	if o.DegradedRetryInterval <= 0 {
		o.DegradedRetryInterval = d.DegradedRetryInterval
	}
	if o.NoticeTimeout <= 0 {
		o.NoticeTimeout = d.NoticeTimeout
	}
	return o
}
