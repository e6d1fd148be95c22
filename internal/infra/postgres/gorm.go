package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/sifan077/shortlinkd/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ItemRecord is the row layout of every kv table. All logical tables share
// kv_items and are told apart by the tbl column.
type ItemRecord struct {
	Tbl    string  `gorm:"column:tbl;primaryKey;size:255;uniqueIndex:idx_kv_items_gsi1,priority:1"`
	PK     string  `gorm:"column:pk;primaryKey;type:text"`
	SK     string  `gorm:"column:sk;primaryKey;type:text"`
	GSI1PK *string `gorm:"column:gsi1pk;type:text;uniqueIndex:idx_kv_items_gsi1,priority:2"`
	GSI1SK *string `gorm:"column:gsi1sk;type:text"`
	Attrs  string  `gorm:"column:attrs;type:jsonb;not null;default:'{}'"`
}

// TableName pins the physical table name.
func (ItemRecord) TableName() string { return "kv_items" }

// NewGorm returns a gorm.DB configured for the application's Postgres instance.
func NewGorm(cfg config.PostgresConfig) (*gorm.DB, error) {
	dsn := ConnString(cfg)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Warn),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: open gorm connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres: retrieve sql db: %w", err)
	}

	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// Migrate creates or updates the kv_items table.
func Migrate(ctx context.Context, db *gorm.DB) error {
	return AutoMigrate(ctx, db, &ItemRecord{})
}

// AutoMigrate uses GORM to perform schema migrations for the provided models.
func AutoMigrate(ctx context.Context, db *gorm.DB, models ...interface{}) error {
	if db == nil || len(models) == 0 {
		return nil
	}

	if err := db.WithContext(ctx).AutoMigrate(models...); err != nil {
		return fmt.Errorf("postgres: auto migrate: %w", err)
	}

	return nil
}

// CloseGorm releases the connection pool behind db.
func CloseGorm(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
