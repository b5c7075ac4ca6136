package persistence

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/agentforge/runtime/internal/infrastructure/config"
	"github.com/agentforge/runtime/internal/infrastructure/persistence/models"
)

// NewDBConnection opens the gorm connection for cfg.Type (sqlite|postgres)
// and runs AutoMigrate for every table the runtime owns.
func NewDBConnection(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Type {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := autoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.EventModel{},
		&models.SnapshotModel{},
		&models.KVModel{},
		&models.BlueprintModel{},
		&models.AgentRecordModel{},
		&models.ScheduleModel{},
		&models.ScheduleRunModel{},
		&models.AgencyVarModel{},
		&models.AgencyModel{},
	)
}
