package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"shoplist-sync/internal/domain"
	httphandler "shoplist-sync/internal/handler/http"
	"shoplist-sync/internal/hub"
	"shoplist-sync/internal/middleware"
	"shoplist-sync/internal/repository"
	"shoplist-sync/internal/repository/mocks"
	"shoplist-sync/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// seededGateway 为 room-1 提供一份持久化状态，其余房间为空。
type seededGateway struct{}

func (seededGateway) LoadSnapshot(_ context.Context, roomID string) (*domain.ListState, error) {
	if roomID != "room-1" {
		return nil, domain.ErrNotFound
	}
	st := domain.NewListState()
	_, err := st.Apply(domain.Op{Kind: domain.OpAddItem, Label: "milk"}, "alice")
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (seededGateway) AppendMutation(context.Context, string, uint64, string, domain.Op) error {
	return nil
}

// withLogin 模拟 Auth 中间件写入用户名。
func withLogin(login string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if login != "" {
			c.Set(middleware.LoginKey, login)
		}
		c.Next()
	}
}

func doJSON(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthHandler_RegisterAndLogin(t *testing.T) {
	userRepo := new(mocks.UserRepository)
	authSvc, err := service.NewAuthService(userRepo, "test-secret", 1)
	require.NoError(t, err)
	h := httphandler.NewAuthHandler(authSvc)

	r := gin.New()
	r.POST("/register", h.Register)
	r.POST("/login", h.Login)

	userRepo.On("Save", mock.Anything, mock.MatchedBy(func(u *domain.User) bool { return u.Login == "alice" })).
		Return(nil).Once()
	userRepo.On("Save", mock.Anything, mock.MatchedBy(func(u *domain.User) bool { return u.Login == "taken" })).
		Return(repository.ErrDuplicateEntry).Once()
	userRepo.On("FindByLogin", mock.Anything, "ghost").Return(nil, repository.ErrUserNotFound).Once()

	w := doJSON(r, http.MethodPost, "/register", gin.H{"login": "alice", "password": "secret1"})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"display_name":"alice"`, "未提供昵称时应使用 login")

	w = doJSON(r, http.MethodPost, "/register", gin.H{"login": "taken", "password": "secret1"})
	assert.Equal(t, http.StatusConflict, w.Code, "重复 login 应返回 409")

	w = doJSON(r, http.MethodPost, "/register", gin.H{"login": "al", "password": "secret1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/login", gin.H{"login": "ghost", "password": "whatever"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	userRepo.AssertExpectations(t)
}

func TestRoomHandler_CreateJoinList(t *testing.T) {
	roomRepo := new(mocks.RoomRepository)
	h := httphandler.NewRoomHandler(service.NewRoomService(roomRepo))

	r := gin.New()
	r.Use(withLogin("alice"))
	r.POST("/rooms", h.CreateRoom)
	r.POST("/rooms/join", h.JoinRoom)
	r.GET("/rooms", h.ListRooms)

	roomRepo.On("IsInviteCodeExists", mock.Anything, mock.AnythingOfType("string")).Return(false, nil).Once()
	roomRepo.On("Save", mock.Anything, mock.AnythingOfType("*domain.Room")).Return(nil).Once()
	roomRepo.On("AddMember", mock.Anything, mock.AnythingOfType("string"), "alice").Return(nil).Once()
	roomRepo.On("FindByInviteCode", mock.Anything, "ZZZ999").Return(nil, repository.ErrRoomNotFound).Once()
	roomRepo.On("ListByMember", mock.Anything, "alice").Return(nil, nil).Once()

	w := doJSON(r, http.MethodPost, "/rooms", gin.H{"name": "Weekend"})
	require.Equal(t, http.StatusCreated, w.Code)
	var created httphandler.RoomResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "Weekend", created.Name)
	assert.Equal(t, "alice", created.Creator)
	assert.NotEmpty(t, created.RoomID)

	w = doJSON(r, http.MethodPost, "/rooms/join", gin.H{"invite_code": "ZZZ999"})
	assert.Equal(t, http.StatusNotFound, w.Code, "无效邀请码应返回 404")

	w = doJSON(r, http.MethodGet, "/rooms", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"rooms":[]}`, w.Body.String(), "没有房间时应返回空数组")
	roomRepo.AssertExpectations(t)
}

func TestRoomHandler_RequiresLogin(t *testing.T) {
	h := httphandler.NewRoomHandler(service.NewRoomService(new(mocks.RoomRepository)))
	r := gin.New()
	r.GET("/rooms", h.ListRooms)

	w := doJSON(r, http.MethodGet, "/rooms", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListHandler_Items(t *testing.T) {
	roomRepo := new(mocks.RoomRepository)
	registry := hub.NewRegistry(seededGateway{}, nil, hub.Options{EvictionGrace: time.Minute})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = registry.Close(ctx)
	})
	h := httphandler.NewListHandler(registry, service.NewRoomService(roomRepo))

	r := gin.New()
	r.Use(withLogin("alice"))
	r.GET("/rooms/:roomId/items", h.Items)

	roomRepo.On("IsMember", mock.Anything, "room-1", "alice").Return(true, nil).Once()
	roomRepo.On("IsMember", mock.Anything, "room-2", "alice").Return(false, nil).Once()

	w := doJSON(r, http.MethodGet, "/rooms/room-1/items", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Version uint64        `json:"version"`
		Items   []domain.Item `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, uint64(1), body.Version)
	require.Len(t, body.Items, 1)
	assert.Equal(t, "milk", body.Items[0].Label)

	w = doJSON(r, http.MethodGet, "/rooms/room-2/items", nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "非成员不应看到房间是否存在")
	roomRepo.AssertExpectations(t)
}

func TestEmojis(t *testing.T) {
	r := gin.New()
	r.GET("/emojis", httphandler.Emojis)

	w := doJSON(r, http.MethodGet, "/emojis", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "👍")
}

func TestHandleServiceError_StatusCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"认证失败", service.ErrAuthenticationFailed, http.StatusUnauthorized},
		{"重复注册", service.ErrRegistrationFailed, http.StatusConflict},
		{"参数非法", fmt.Errorf("wrap: %w", domain.ErrInvalidArgument), http.StatusBadRequest},
		{"房间不存在", service.ErrRoomNotFound, http.StatusNotFound},
		{"存储不可用", domain.ErrStorageUnavailable, http.StatusServiceUnavailable},
		{"房间过载", domain.ErrOverloaded, http.StatusServiceUnavailable},
		{"房间已驱逐", fmt.Errorf("room r: %w", domain.ErrEvicted), http.StatusServiceUnavailable},
		{"未知错误", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			httphandler.HandleServiceError(c, tc.err)
			assert.Equal(t, tc.code, w.Code)
		})
	}
}
