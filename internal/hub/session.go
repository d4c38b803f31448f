package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"shoplist-sync/internal/domain"
)

// Conn 是会话使用的 WebSocket 连接能力，*websocket.Conn 满足该接口。
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// 加入时遇到房间恰好被驱逐的重试次数
const joinAttempts = 3

// Session 是一条客户端连接。ReadPump 处理入站帧，WritePump 独占连接的写端。
type Session struct {
	id       string
	login    string
	conn     Conn
	registry *Registry
	opts     Options
	log      *logrus.Entry

	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	closeReason atomic.Value // string
	lastVersion atomic.Uint64

	mu   sync.Mutex
	room *Room

	violations int // 仅 ReadPump 访问
}

// NewSession 为已认证用户的连接创建会话。
func NewSession(conn Conn, login string, registry *Registry) *Session {
	id := uuid.NewString()
	return &Session{
		id:       id,
		login:    login,
		conn:     conn,
		registry: registry,
		opts:     registry.opts,
		log:      logrus.WithFields(logrus.Fields{"component": "session", "session_id": id, "user": login}),
		send:     make(chan []byte, registry.opts.SendBuffer),
		done:     make(chan struct{}),
	}
}

func (s *Session) ID() string    { return s.id }
func (s *Session) Login() string { return s.login }

// LastVersion 返回最近一次投递给该会话的房间版本。
func (s *Session) LastVersion() uint64 { return s.lastVersion.Load() }

// Done 在会话关闭时关闭。
func (s *Session) Done() <-chan struct{} { return s.done }

// Run 启动读写协程。
func (s *Session) Run() {
	go s.WritePump()
	go s.ReadPump()
}

// Deliver 实现 Subscriber，不阻塞房间循环。
func (s *Session) Deliver(frame []byte, version uint64) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- frame:
		s.lastVersion.Store(version)
		return true
	default:
		return false
	}
}

// Kick 实现 Subscriber。房间已将会话移除，这里只负责关闭连接。
func (s *Session) Kick(reason string) {
	s.mu.Lock()
	s.room = nil
	s.mu.Unlock()
	s.Close(reason)
}

// Close 关闭会话，可重复调用。
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.closeReason.Store(reason)
		close(s.done)
	})
}

func (s *Session) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) currentRoom() *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// leaveRoom 将会话移出当前房间。必须在释放连接之前调用。
func (s *Session) leaveRoom() {
	s.mu.Lock()
	room := s.room
	s.room = nil
	s.mu.Unlock()
	if room == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.CallTimeout)
	defer cancel()
	if err := room.Detach(ctx, s); err != nil {
		s.log.WithError(err).WithField("room_id", room.ID()).Warn("Detach failed")
	}
}

// ReadPump 读取入站帧直到连接断开或会话关闭。
func (s *Session) ReadPump() {
	defer func() {
		s.leaveRoom()
		s.Close("connection closed")
		s.conn.Close()
		s.log.Info("Session read pump stopped")
	}()

	s.conn.SetReadLimit(s.opts.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout))
	})

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.WithError(err).Warn("Unexpected close")
			} else {
				s.log.WithError(err).Debug("Read loop ended")
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout))
		if messageType != websocket.TextMessage {
			s.violation(fmt.Errorf("%w: only text frames are accepted", domain.ErrInvalidArgument), "")
		} else {
			s.handleFrame(data)
		}
		if s.isClosed() {
			return
		}
	}
}

// WritePump 把出站队列写入连接，并定期发送 ping。
func (s *Session) WritePump() {
	ticker := time.NewTicker(s.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		s.leaveRoom()
		s.conn.Close()
	}()

	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.log.WithError(err).Warn("Write failed")
				s.Close("write failed")
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.opts.WriteWait)); err != nil {
				s.log.WithError(err).Debug("Ping failed")
				s.Close("ping failed")
				return
			}
		case <-s.done:
			s.flush()
			reason, _ := s.closeReason.Load().(string)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
			_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.opts.WriteWait))
			return
		}
	}
}

// flush 尽力写出关闭前已排队的帧，例如最后一条错误帧。
func (s *Session) flush() {
	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

// reply 把会话自己产生的帧 (错误、心跳回执) 放入出站队列。
func (s *Session) reply(frame []byte) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.send <- frame:
	default:
		s.log.Warn("Send buffer full, closing session")
		s.leaveRoom()
		s.Close("send buffer full")
	}
}

func (s *Session) replyError(err error, ref string) {
	s.reply(encodeError(err, ref))
}

// violation 报告协议违规，超过上限后强制断开。
func (s *Session) violation(err error, ref string) {
	s.violations++
	s.log.WithError(err).Warnf("Protocol violation %d/%d", s.violations, s.opts.ViolationLimit)
	s.replyError(err, ref)
	if s.violations >= s.opts.ViolationLimit {
		s.leaveRoom()
		s.Close("too many protocol violations")
	}
}

func (s *Session) handleFrame(data []byte) {
	in, err := DecodeInbound(data)
	if err != nil {
		s.violation(err, "")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.CallTimeout+s.opts.LoadTimeout)
	defer cancel()

	switch in.Type {
	case TypeJoin:
		s.handleJoin(ctx, in.Room)
	case TypeLeave:
		if s.currentRoom() == nil {
			s.violation(domain.ErrNotJoined, in.Ref)
			return
		}
		s.leaveRoom()
	case TypeMutate:
		s.handleMutate(ctx, *in.Op, in.Ref)
	case TypeHeartbeat:
		s.handleHeartbeat(ctx, in.Version)
	case TypeResync:
		room := s.currentRoom()
		if room == nil {
			s.violation(domain.ErrNotJoined, in.Ref)
			return
		}
		if err := room.Resync(ctx, s); err != nil {
			s.roomError(room, err, in.Ref)
		}
	}
}

// handleHeartbeat 回执最后投递的版本。客户端报告的版本超过已投递版本时，
// 说明客户端状态不可信，先推送一份新快照。
func (s *Session) handleHeartbeat(ctx context.Context, clientVersion uint64) {
	delivered := s.lastVersion.Load()
	room := s.currentRoom()
	switch {
	case room != nil && clientVersion > delivered:
		s.log.WithFields(logrus.Fields{
			"room_id":        room.ID(),
			"version":        delivered,
			"client_version": clientVersion,
		}).Warn("Client reports a version never delivered, resyncing")
		if err := room.Resync(ctx, s); err != nil {
			s.roomError(room, err, "")
		}
	case clientVersion > 0 && clientVersion < delivered:
		s.log.WithFields(logrus.Fields{
			"version":        delivered,
			"client_version": clientVersion,
		}).Debug("Client behind delivered version")
	}
	s.reply(encodeHeartbeatAck(s.lastVersion.Load()))
}

func (s *Session) handleJoin(ctx context.Context, roomID string) {
	if current := s.currentRoom(); current != nil {
		if current.ID() == roomID {
			if err := current.Resync(ctx, s); err != nil {
				s.roomError(current, err, "")
			}
			return
		}
		s.leaveRoom()
	}

	ok, err := s.registry.canJoin(ctx, roomID, s.login)
	if err != nil {
		s.log.WithError(err).WithField("room_id", roomID).Error("Membership check failed")
		s.replyError(fmt.Errorf("%w: membership check failed", domain.ErrStorageUnavailable), "")
		return
	}
	if !ok {
		s.replyError(fmt.Errorf("%w: room %s", domain.ErrNotFound, roomID), "")
		return
	}

	for attempt := 0; attempt < joinAttempts; attempt++ {
		room, err := s.registry.Resolve(ctx, roomID)
		if err != nil {
			s.replyError(err, "")
			return
		}
		s.mu.Lock()
		s.room = room
		s.mu.Unlock()

		err = room.Attach(ctx, s)
		if err == nil {
			s.log.WithField("room_id", roomID).Info("Joined room")
			return
		}
		s.mu.Lock()
		if s.room == room {
			s.room = nil
		}
		s.mu.Unlock()
		if !errors.Is(err, domain.ErrEvicted) {
			s.replyError(err, "")
			return
		}
		s.log.WithField("room_id", roomID).Debug("Room evicted during join, retrying")
	}
	s.replyError(fmt.Errorf("%w: room %s kept evicting during join", domain.ErrEvicted, roomID), "")
}

func (s *Session) handleMutate(ctx context.Context, op domain.Op, ref string) {
	room := s.currentRoom()
	if room == nil {
		s.violation(domain.ErrNotJoined, ref)
		return
	}
	if _, _, err := room.Mutate(ctx, s, op); err != nil {
		s.roomError(room, err, ref)
	}
}

// roomError 回复房间返回的错误。房间已不认识该会话时清除本地的房间引用。
func (s *Session) roomError(room *Room, err error, ref string) {
	if errors.Is(err, domain.ErrNotJoined) || errors.Is(err, domain.ErrEvicted) {
		s.mu.Lock()
		if s.room == room {
			s.room = nil
		}
		s.mu.Unlock()
	}
	if errors.Is(err, domain.ErrNotJoined) {
		s.violation(err, ref)
		return
	}
	s.replyError(err, ref)
}
