package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/zulandar/roundtable/internal/config"
	"github.com/zulandar/roundtable/internal/models"
)

// AllModels returns every GORM model that needs a table.
func AllModels() []interface{} {
	return []interface{}{
		&models.Room{},
		&models.RoomMessage{},
		&models.PaymentHold{},
		&models.AgentLog{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// Prepare creates the database if the driver needs it, connects, and
// migrates.
func Prepare(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if cfg.Driver == "mysql" {
		admin, err := ConnectAdmin(cfg.Host, cfg.Port)
		if err != nil {
			return nil, err
		}
		if err := CreateDatabase(admin, cfg.Name); err != nil {
			return nil, err
		}
	}
	gdb, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(gdb); err != nil {
		return nil, err
	}
	return gdb, nil
}
