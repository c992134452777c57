package scanner

import (
	"testing"
	"time"

	"github.com/zulandar/bolttrack/internal/apperr"
	"github.com/zulandar/bolttrack/internal/db"
	"github.com/zulandar/bolttrack/internal/models"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gormDB, err := db.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return gormDB
}

func TestRegister_CreateThenRefresh(t *testing.T) {
	gormDB := openTestDB(t)

	s, err := Register(gormDB, "dev-1", "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if s.Name != "dev-1" || s.Status != models.ScannerActive || s.LastSeen == nil {
		t.Errorf("created = %+v", s)
	}

	s, err = Register(gormDB, "dev-1", "Dock 1")
	if err != nil {
		t.Fatalf("Register again: %v", err)
	}
	if s.Name != "Dock 1" {
		t.Errorf("Name = %q, want Dock 1", s.Name)
	}
	s, _ = Register(gormDB, "dev-1", "")
	if s.Name != "Dock 1" {
		t.Errorf("empty name overwrote: %q", s.Name)
	}

	list, _ := List(gormDB)
	if len(list) != 1 {
		t.Errorf("scanners = %d, want 1", len(list))
	}
	if _, err := Register(gormDB, " ", "x"); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("blank id err = %v, want validation", err)
	}
}

func TestLabel(t *testing.T) {
	gormDB := openTestDB(t)
	Register(gormDB, "dev-1", "Dock 1")

	tests := map[string]string{"dev-1": "Dock 1", "dev-2": "dev-2", "": ""}
	for id, want := range tests {
		if got := Label(gormDB, id); got != want {
			t.Errorf("Label(%q) = %q, want %q", id, got, want)
		}
	}
}

func TestLive(t *testing.T) {
	gormDB := openTestDB(t)
	Register(gormDB, "a", "")
	Register(gormDB, "b", "")
	now := time.Now().UTC()
	if err := Seen(gormDB, "b", now.Add(-10*time.Minute)); err != nil {
		t.Fatalf("Seen: %v", err)
	}

	n, err := Live(gormDB, []string{"a", "b", "c"}, 2*time.Minute, now)
	if err != nil {
		t.Fatalf("Live: %v", err)
	}
	if n != 1 {
		t.Errorf("Live = %d, want 1", n)
	}
	if n, _ := Live(gormDB, nil, time.Minute, now); n != 0 {
		t.Errorf("Live(nil) = %d", n)
	}
}

func TestDelete(t *testing.T) {
	gormDB := openTestDB(t)
	Register(gormDB, "dev-1", "")
	if err := Delete(gormDB, "dev-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := Delete(gormDB, "dev-1"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("second Delete err = %v, want not found", err)
	}
}
