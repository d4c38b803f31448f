package websocket

import (
	"net/http"

	"shoplist-sync/internal/hub"
	"shoplist-sync/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WebSocketHandler 负责升级连接并为每条连接创建会话。加入房间通过 join 帧完成。
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	registry *hub.Registry
}

// NewWebSocketHandler 创建 WebSocketHandler。allowedOrigins 为空时允许任意来源。
func NewWebSocketHandler(registry *hub.Registry, allowedOrigins []string) *WebSocketHandler {
	if registry == nil {
		panic("Registry cannot be nil for WebSocketHandler")
	}
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = struct{}{}
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(origins) == 0 {
				return true
			}
			_, ok := origins[r.Header.Get("Origin")]
			return ok
		},
	}
	return &WebSocketHandler{upgrader: upgrader, registry: registry}
}

// HandleConnection 处理 GET /ws。需要 Auth 中间件先写入 login。
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	login := c.GetString(middleware.LoginKey)
	if login == "" {
		logrus.Warn("WS Handler: login not found in context")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	logCtx := logrus.WithField("user", login)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写回了 HTTP 错误
		logCtx.WithError(err).Error("WS Handler: Failed to upgrade connection")
		return
	}

	session := hub.NewSession(conn, login, h.registry)
	session.Run()
	logCtx.WithField("session_id", session.ID()).Info("WS Handler: Session started")
}
