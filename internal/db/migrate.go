package db

import (
	"fmt"

	"github.com/zulandar/blockyard/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model managed by Blockyard.
func AllModels() []interface{} {
	return []interface{}{
		&models.Unit{},
		&models.UnitEvent{},
		&models.Repair{},
		&models.Attachment{},
		&models.User{},
		&models.Printer{},
		&models.PrintJob{},
		&models.PrintEvent{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// Reset drops every Blockyard table and recreates the schema.
func Reset(db *gorm.DB) error {
	all := AllModels()
	// Children first so foreign keys never block the drop.
	for i := len(all) - 1; i >= 0; i-- {
		if err := db.Migrator().DropTable(all[i]); err != nil {
			return fmt.Errorf("db: drop %T: %w", all[i], err)
		}
	}
	return AutoMigrate(db)
}
