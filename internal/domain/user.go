package domain

import "time"

// User 表示应用程序中的用户。Login 是稳定的用户标识。
type User struct {
	ID          uint      `gorm:"primaryKey"`
	Login       string    `gorm:"type:varchar(191);uniqueIndex:idx_login;not null"`
	Password    string    `gorm:"type:text;not null"` // bcrypt 哈希
	DisplayName string    `gorm:"type:varchar(191)"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}
