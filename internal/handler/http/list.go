package http

import (
	"context"
	"errors"
	"net/http"

	"shoplist-sync/internal/domain"
	"shoplist-sync/internal/hub"
	"shoplist-sync/internal/service"

	"github.com/gin-gonic/gin"
)

// ListHandler 提供清单的只读 HTTP 接口。实时修改只走 WebSocket。
type ListHandler struct {
	registry    *hub.Registry
	roomService *service.RoomService
}

// NewListHandler 创建 ListHandler 实例
func NewListHandler(registry *hub.Registry, roomService *service.RoomService) *ListHandler {
	if registry == nil || roomService == nil {
		panic("Registry and RoomService cannot be nil for ListHandler")
	}
	return &ListHandler{registry: registry, roomService: roomService}
}

// Items 处理 GET /api/rooms/:roomId/items，返回房间当前快照。
func (h *ListHandler) Items(c *gin.Context) {
	login, ok := currentLogin(c)
	if !ok {
		return
	}
	roomID := c.Param("roomId")
	ctx := c.Request.Context()

	if err := h.roomService.RequireMember(ctx, roomID, login); err != nil {
		HandleServiceError(c, err)
		return
	}
	state, err := h.snapshot(ctx, roomID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"room":    roomID,
		"version": state.Version,
		"items":   state.Items,
	})
}

// snapshot 读取房间快照。房间恰好在两步之间被驱逐时重新解析一次。
func (h *ListHandler) snapshot(ctx context.Context, roomID string) (*domain.ListState, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		room, err := h.registry.Resolve(ctx, roomID)
		if err != nil {
			return nil, err
		}
		state, err := room.Snapshot(ctx)
		if err == nil {
			return state, nil
		}
		if !errors.Is(err, domain.ErrEvicted) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// Emojis 处理 GET /api/emojis
func Emojis(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"emojis": domain.DefaultEmojis})
}
