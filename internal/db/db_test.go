package db

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/zulandar/bolttrack/internal/config"
	"github.com/zulandar/bolttrack/internal/models"
	"gorm.io/gorm"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.DatabaseConfig
		database string
		want     string
	}{
		{
			name:     "default local",
			cfg:      config.DatabaseConfig{Host: "127.0.0.1", Port: 3306, User: "root"},
			database: "bolttrack_mill",
			want:     "root@tcp(127.0.0.1:3306)/bolttrack_mill?parseTime=true",
		},
		{
			name:     "with password",
			cfg:      config.DatabaseConfig{Host: "10.0.0.5", Port: 3307, User: "stock", Password: "pw"},
			database: "bolttrack_b",
			want:     "stock:pw@tcp(10.0.0.5:3307)/bolttrack_b?parseTime=true",
		},
		{
			name:     "admin without database",
			cfg:      config.DatabaseConfig{Host: "db.internal", Port: 3306, User: "root"},
			database: "",
			want:     "root@tcp(db.internal:3306)/?parseTime=true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DSN(tt.cfg, tt.database)
			if got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"})
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if !strings.Contains(err.Error(), "unsupported driver") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestOpenSQLite_RequiresPath(t *testing.T) {
	if _, err := OpenSQLite(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestAutoMigrate_SQLite(t *testing.T) {
	gormDB, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := AutoMigrate(gormDB); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	for _, m := range AllModels() {
		if !gormDB.Migrator().HasTable(m) {
			t.Errorf("table for %T not created", m)
		}
	}
}

func TestAllModels_Count(t *testing.T) {
	if n := len(AllModels()); n != 10 {
		t.Errorf("AllModels() returned %d models, want 10", n)
	}
}

func TestSeedSizes_Idempotent(t *testing.T) {
	gormDB, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := AutoMigrate(gormDB); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	for range 2 {
		if err := SeedSizes(gormDB, []string{"38", "40"}); err != nil {
			t.Fatalf("SeedSizes: %v", err)
		}
	}
	var count int64
	gormDB.Model(&models.Size{}).Count(&count)
	if count != 2 {
		t.Errorf("size rows = %d, want 2", count)
	}
}

func TestIsDuplicate(t *testing.T) {
	gormDB, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := AutoMigrate(gormDB); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	bc := models.Barcode{Year: 2026, Size: "40", Sequence: 1, FullBarcode: "26-40-0001", Status: models.BarcodeUnused}
	if err := gormDB.Create(&bc).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	dup := models.Barcode{Year: 2026, Size: "40", Sequence: 1, FullBarcode: "26-40-0001", Status: models.BarcodeUnused}
	err = gormDB.Create(&dup).Error
	if !IsDuplicate(err) {
		t.Errorf("IsDuplicate(%v) = false, want true", err)
	}

	if IsDuplicate(nil) {
		t.Error("IsDuplicate(nil) = true")
	}
	if IsDuplicate(errors.New("connection refused")) {
		t.Error("plain error reported as duplicate")
	}
	if !IsDuplicate(fmt.Errorf("wrap: %w", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})) {
		t.Error("mysql 1062 not reported as duplicate")
	}
	if !IsDuplicate(fmt.Errorf("wrap: %w", gorm.ErrDuplicatedKey)) {
		t.Error("gorm.ErrDuplicatedKey not reported as duplicate")
	}
}

func TestCreateDatabase_Signature(t *testing.T) {
	var fn func(*gorm.DB, string) error = CreateDatabase
	if fn == nil {
		t.Fatal("CreateDatabase function is nil")
	}
}
