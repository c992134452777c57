package gap

import (
	"reflect"
	"testing"

	"github.com/zulandar/bolttrack/internal/db"
	"github.com/zulandar/bolttrack/internal/ledger"
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

func stock(t *testing.T, gormDB *gorm.DB, codes ...string) {
	t.Helper()
	for _, c := range codes {
		r := models.Roll{Barcode: c, Status: models.StatusIn, Metre: 10, Weight: 5, Percentage: 100}
		if err := gormDB.Create(&r).Error; err != nil {
			t.Fatalf("create roll %s: %v", c, err)
		}
	}
}

func TestCheck(t *testing.T) {
	gormDB := openTestDB(t)
	stock(t, gormDB, "26-40-0001")

	tests := []struct {
		code    string
		missing string
	}{
		{"26-40-0001", ""},
		{"26-40-0002", ""},
		{"26-40-0004", "26-40-0003"},
		{"bogus", ""},
		{"26-40-1", ""},
	}
	for _, tt := range tests {
		hint, err := Check(gormDB, tt.code)
		if err != nil {
			t.Fatalf("Check(%s): %v", tt.code, err)
		}
		got := ""
		if hint != nil {
			got = hint.Missing
		}
		if got != tt.missing {
			t.Errorf("Check(%s) missing = %q, want %q", tt.code, got, tt.missing)
		}
	}

	var n int64
	gormDB.Model(&models.MissedScan{}).Count(&n)
	if n != 0 {
		t.Errorf("Check wrote %d ledger rows", n)
	}
}

func TestRecord_Idempotent(t *testing.T) {
	gormDB := openTestDB(t)

	for range 3 {
		warning, err := Record(gormDB, "26-40-0003")
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
		if warning != Warning("26-40-0002") {
			t.Errorf("warning = %q", warning)
		}
	}

	var rows []models.MissedScan
	gormDB.Find(&rows)
	if len(rows) != 1 {
		t.Fatalf("ledger rows = %d, want 1", len(rows))
	}
	if rows[0].Barcode != "26-40-0002" || rows[0].Status != models.MissedPending {
		t.Errorf("row = %+v", rows[0])
	}

	// Stocking the predecessor resolves it exactly once.
	stock(t, gormDB, "26-40-0002")
	removed, _ := ledger.Resolve(gormDB, "26-40-0002")
	if !removed {
		t.Error("resolve did not remove the gap entry")
	}
	warning, err := Record(gormDB, "26-40-0003")
	if err != nil || warning != "" {
		t.Errorf("Record after fill = %q, %v", warning, err)
	}
}

func TestRecord_DamagedStaysTerminal(t *testing.T) {
	gormDB := openTestDB(t)
	Record(gormDB, "26-40-0003")
	if _, _, err := ledger.MarkDamaged(gormDB, "26-40-0002"); err != nil {
		t.Fatalf("MarkDamaged: %v", err)
	}

	warning, err := Record(gormDB, "26-40-0003")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if warning != Warning("26-40-0002") {
		t.Errorf("warning for damaged predecessor = %q", warning)
	}
	row, _ := ledger.Get(gormDB, "26-40-0002")
	if row.Status != models.MissedDamaged {
		t.Errorf("status = %q, want DAMAGED", row.Status)
	}
}

func TestRecord_FirstSequence(t *testing.T) {
	gormDB := openTestDB(t)
	warning, err := Record(gormDB, "26-40-0001")
	if err != nil || warning != "" {
		t.Errorf("Record(0001) = %q, %v", warning, err)
	}
}

func TestScan(t *testing.T) {
	gormDB := openTestDB(t)
	stock(t, gormDB, "26-40-0001", "26-40-0004", "26-40-0007", "26-400-0009", "27-40-0005")

	report, err := Scan(gormDB, 2026, "40")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if report.Max != 7 {
		t.Errorf("Max = %d, want 7", report.Max)
	}
	want := []string{"26-40-0002", "26-40-0003", "26-40-0005", "26-40-0006"}
	if !reflect.DeepEqual(report.Missing, want) {
		t.Errorf("Missing = %v, want %v", report.Missing, want)
	}

	empty, err := Scan(gormDB, 2026, "38")
	if err != nil {
		t.Fatalf("Scan empty: %v", err)
	}
	if empty.Max != 0 || len(empty.Missing) != 0 {
		t.Errorf("empty bucket = %+v", empty)
	}
}

func TestBuckets(t *testing.T) {
	gormDB := openTestDB(t)
	stock(t, gormDB, "27-40-0001", "26-40-0002", "26-38-0001", "26-40-0003", "legacy-code")

	got, err := Buckets(gormDB)
	if err != nil {
		t.Fatalf("Buckets: %v", err)
	}
	want := []Bucket{{2026, "38"}, {2026, "40"}, {2027, "40"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Buckets = %v, want %v", got, want)
	}
}
