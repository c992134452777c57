package db

import (
	"fmt"

	"github.com/zulandar/bolttrack/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Barcode{},
		&models.Size{},
		&models.Roll{},
		&models.RollTransaction{},
		&models.MissedScan{},
		&models.Session{},
		&models.SessionScanner{},
		&models.Scanner{},
		&models.Employee{},
		&models.AuditLog{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedSizes inserts the configured size codes, leaving existing rows alone.
func SeedSizes(db *gorm.DB, sizes []string) error {
	for _, code := range sizes {
		size := models.Size{Code: code}
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoNothing: true,
		}).Create(&size)
		if result.Error != nil {
			return fmt.Errorf("db: seed size %q: %w", code, result.Error)
		}
	}
	return nil
}
