package http

import (
	"net/http"

	"shoplist-sync/internal/domain"
	"shoplist-sync/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RoomHandler 封装了房间目录相关的 HTTP 处理逻辑
type RoomHandler struct {
	roomService *service.RoomService
}

// NewRoomHandler 创建 RoomHandler 实例
func NewRoomHandler(roomService *service.RoomService) *RoomHandler {
	return &RoomHandler{roomService: roomService}
}

// RoomResponse 是房间在 HTTP 接口中的表示
type RoomResponse struct {
	RoomID     string `json:"room_id"`
	Name       string `json:"name"`
	Creator    string `json:"creator"`
	InviteCode string `json:"invite_code"`
}

func toRoomResponse(r *domain.Room) RoomResponse {
	return RoomResponse{RoomID: r.Key, Name: r.Name, Creator: r.CreatorLogin, InviteCode: r.InviteCode}
}

// CreateRoomRequest 定义创建房间请求的结构体
type CreateRoomRequest struct {
	Name string `json:"name" binding:"omitempty,max=100"`
}

// CreateRoom 处理 POST /api/rooms
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	login, ok := currentLogin(c)
	if !ok {
		return
	}
	var req CreateRoomRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input", "details": err.Error()})
			return
		}
	}

	room, err := h.roomService.CreateRoom(c.Request.Context(), login, req.Name)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	logrus.WithFields(logrus.Fields{"user": login, "room_id": room.Key}).Info("Handler.CreateRoom: Room created successfully")
	c.JSON(http.StatusCreated, toRoomResponse(room))
}

// JoinRoomRequest 定义加入房间请求的结构体
type JoinRoomRequest struct {
	InviteCode string `json:"invite_code" binding:"required,len=6"`
}

// JoinRoom 处理 POST /api/rooms/join
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	login, ok := currentLogin(c)
	if !ok {
		return
	}
	var req JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input", "details": err.Error()})
		return
	}

	room, err := h.roomService.JoinRoom(c.Request.Context(), login, req.InviteCode)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRoomResponse(room))
}

// ListRooms 处理 GET /api/rooms
func (h *RoomHandler) ListRooms(c *gin.Context) {
	login, ok := currentLogin(c)
	if !ok {
		return
	}
	rooms, err := h.roomService.ListRooms(c.Request.Context(), login)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	resp := make([]RoomResponse, 0, len(rooms))
	for i := range rooms {
		resp = append(resp, toRoomResponse(&rooms[i]))
	}
	c.JSON(http.StatusOK, gin.H{"rooms": resp})
}
