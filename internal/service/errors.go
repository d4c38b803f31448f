package service

import "errors"

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrRoomNotFound         = errors.New("room not found")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrRegistrationFailed   = errors.New("registration failed: login already exists")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInvalidInviteCode    = errors.New("invalid invite code")
	ErrNotMember            = errors.New("not a member of this room")
	ErrInternalServer       = errors.New("internal server error")
)
