package database

import (
	"fmt"

	"gorm.io/gorm"
)

// 表达式索引与部分索引无法通过结构体标签声明，迁移后单独创建。
var indexStatements = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_moves_active_name ON moves (lower(name)) WHERE deleted_at IS NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_moves_slug ON moves (lower(slug))`,
}

// Migrate 创建或升级全部表结构。
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&Account{},
		&Profile{},
		&Move{},
		&MoveTranslation{},
		&Step{},
		&StepTranslation{},
		&UserMoveStatus{},
		&MoveNote{},
		&MoveEvent{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	for _, stmt := range indexStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}
