package domain

import "time"

// Room 是房间目录中的一条记录 (房间元数据，不含清单状态)。
type Room struct {
	ID           uint      `gorm:"primaryKey"`
	Key          string    `gorm:"size:191;uniqueIndex;not null"` // 房间标识符，同步引擎使用
	Name         string    `gorm:"size:191;not null"`
	CreatorLogin string    `gorm:"size:191;index;not null"`
	InviteCode   string    `gorm:"size:191;uniqueIndex;not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// RoomMember 表示用户加入了某个房间。
type RoomMember struct {
	ID        uint      `gorm:"primaryKey"`
	RoomKey   string    `gorm:"size:191;not null;uniqueIndex:idx_room_member,priority:1"`
	Login     string    `gorm:"size:191;not null;uniqueIndex:idx_room_member,priority:2;index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}
