package setup

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"shoplist-sync/internal/domain"
)

// MigrateDB 迁移所有表结构。
// 模型中的字符串索引列都限定为 varchar(191)，AutoMigrate 即可处理 utf8mb4 的索引长度限制。
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}

	models := []interface{}{
		&domain.User{},
		&domain.Room{},
		&domain.RoomMember{},
		&domain.Mutation{},
		&domain.Snapshot{},
	}
	for _, model := range models {
		if err := db.AutoMigrate(model); err != nil {
			logrus.Errorf("Failed to auto-migrate %T: %v", model, err)
			return fmt.Errorf("failed to auto-migrate %T: %w", model, err)
		}
	}

	logrus.Info("Database migration completed successfully")
	return nil
}
