package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"shoplist-sync/internal/domain"
	"shoplist-sync/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const maxRoomNameLength = 100

// RoomService 管理房间目录和成员关系，同时为同步引擎提供加入校验。
type RoomService struct {
	roomRepo repository.RoomRepository
}

// NewRoomService 创建 RoomService 实例。
func NewRoomService(roomRepo repository.RoomRepository) *RoomService {
	if roomRepo == nil {
		panic("RoomRepository cannot be nil for RoomService")
	}
	return &RoomService{roomRepo: roomRepo}
}

// CreateRoom 创建一个新房间，创建者自动成为成员。
func (s *RoomService) CreateRoom(ctx context.Context, creator, name string) (*domain.Room, error) {
	logCtx := logrus.WithField("user", creator)

	name = strings.TrimSpace(name)
	if name == "" {
		name = "Shopping list"
	}
	if utf8.RuneCountInString(name) > maxRoomNameLength {
		return nil, fmt.Errorf("%w: room name longer than %d characters", ErrInvalidInput, maxRoomNameLength)
	}

	// 1. 生成唯一的邀请码
	inviteCode, err := s.generateUniqueInviteCode(ctx)
	if err != nil {
		logCtx.WithError(err).Error("Failed to generate unique invite code")
		return nil, ErrInternalServer
	}

	// 2. 保存房间
	room := &domain.Room{
		Key:          uuid.NewString(),
		Name:         name,
		CreatorLogin: creator,
		InviteCode:   inviteCode,
	}
	logCtx = logCtx.WithField("room_id", room.Key)
	if err := s.roomRepo.Save(ctx, room); err != nil {
		logCtx.WithError(err).Error("Failed to save new room to database")
		return nil, ErrInternalServer
	}

	// 3. 创建者成为成员
	if err := s.roomRepo.AddMember(ctx, room.Key, creator); err != nil {
		logCtx.WithError(err).Error("Failed to add creator as room member")
		return nil, ErrInternalServer
	}

	logCtx.Info("Room created successfully")
	return room, nil
}

// JoinRoom 通过邀请码加入房间。重复加入不报错。
func (s *RoomService) JoinRoom(ctx context.Context, login, inviteCode string) (*domain.Room, error) {
	logCtx := logrus.WithFields(logrus.Fields{"user": login, "invite_code": inviteCode})

	code := strings.ToUpper(strings.TrimSpace(inviteCode))
	if code == "" {
		return nil, ErrInvalidInviteCode
	}
	room, err := s.roomRepo.FindByInviteCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			logCtx.Warn("Failed to find room by invite code: Not found")
			return nil, ErrInvalidInviteCode
		}
		logCtx.WithError(err).Error("Failed to find room by invite code: Repository error")
		return nil, ErrInternalServer
	}
	logCtx = logCtx.WithField("room_id", room.Key)

	if err := s.roomRepo.AddMember(ctx, room.Key, login); err != nil {
		logCtx.WithError(err).Error("Failed to add room member")
		return nil, ErrInternalServer
	}

	logCtx.Info("User joined room successfully")
	return room, nil
}

// ListRooms 返回用户加入的所有房间。
func (s *RoomService) ListRooms(ctx context.Context, login string) ([]domain.Room, error) {
	rooms, err := s.roomRepo.ListByMember(ctx, login)
	if err != nil {
		logrus.WithError(err).WithField("user", login).Error("Failed to list rooms")
		return nil, ErrInternalServer
	}
	if rooms == nil {
		rooms = []domain.Room{}
	}
	return rooms, nil
}

// FindRoom 根据房间标识查找房间。
func (s *RoomService) FindRoom(ctx context.Context, roomKey string) (*domain.Room, error) {
	room, err := s.roomRepo.FindByKey(ctx, roomKey)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return nil, ErrRoomNotFound
		}
		logrus.WithError(err).WithField("room_id", roomKey).Error("FindRoom: Repository error")
		return nil, ErrInternalServer
	}
	return room, nil
}

// RequireMember 在用户不是房间成员时返回错误。
// 房间不存在与非成员都返回 ErrRoomNotFound，不泄露房间是否存在。
func (s *RoomService) RequireMember(ctx context.Context, roomKey, login string) error {
	ok, err := s.CanJoin(ctx, roomKey, login)
	if err != nil {
		return ErrInternalServer
	}
	if !ok {
		return ErrRoomNotFound
	}
	return nil
}

// CanJoin 判断用户能否加入房间的实时会话。
func (s *RoomService) CanJoin(ctx context.Context, roomKey, login string) (bool, error) {
	ok, err := s.roomRepo.IsMember(ctx, roomKey, login)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"room_id": roomKey, "user": login}).Error("Membership check failed")
		return false, fmt.Errorf("membership check for room %s: %w", roomKey, err)
	}
	return ok, nil
}

// Members 返回房间所有成员的 login。
func (s *RoomService) Members(ctx context.Context, roomKey string) ([]string, error) {
	members, err := s.roomRepo.ListMembers(ctx, roomKey)
	if err != nil {
		return nil, fmt.Errorf("list members of room %s: %w", roomKey, err)
	}
	return members, nil
}

// --- 私有辅助函数 ---

// generateUniqueInviteCode 生成 6 位大写字母数字邀请码，最多尝试 10 次。
func (s *RoomService) generateUniqueInviteCode(ctx context.Context) (string, error) {
	const letters = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	const codeLength = 6
	const maxAttempts = 10

	b := make([]byte, codeLength)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if _, err := rand.Read(b); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		for i := range b {
			b[i] = letters[int(b[i])%len(letters)]
		}
		code := string(b)

		exists, err := s.roomRepo.IsInviteCodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("database error checking invite code: %w", err)
		}
		if !exists {
			return code, nil
		}
		logrus.WithField("invite_code", code).Warnf("Generated invite code already exists, retrying (attempt %d)...", attempt+1)
	}
	return "", fmt.Errorf("failed to generate a unique invite code after %d attempts", maxAttempts)
}
