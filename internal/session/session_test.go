package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zulandar/bolttrack/internal/apperr"
	"github.com/zulandar/bolttrack/internal/audit"
	"github.com/zulandar/bolttrack/internal/db"
	"github.com/zulandar/bolttrack/internal/employee"
	"github.com/zulandar/bolttrack/internal/events"
	"github.com/zulandar/bolttrack/internal/models"
	"github.com/zulandar/bolttrack/internal/roll"
	"github.com/zulandar/bolttrack/internal/scanner"
	"github.com/zulandar/bolttrack/internal/session"
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

func TestCreate(t *testing.T) {
	gormDB := openTestDB(t)
	rec := &events.Recorder{}
	mem := &audit.Memory{}
	svc := session.New(gormDB, rec, mem, nil)

	sess, err := svc.Create(context.Background(), session.CreateOpts{Direction: "in", TargetSize: "40", CreatedBy: "Asha", ScannerID: "dev-1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.Direction != models.StatusIn || sess.Status != models.SessionActive || len(sess.ID) != 36 {
		t.Errorf("session = %+v", sess)
	}
	got, _ := session.Get(gormDB, sess.ID)
	if len(got.Scanners) != 1 {
		t.Errorf("creator scanner not joined: %+v", got.Scanners)
	}
	if n := len(rec.OfType(events.TypeSessionUpdate)); n != 1 {
		t.Errorf("session events = %d, want 1", n)
	}
	if mem.Count(audit.ActionSessionCreate) != 1 {
		t.Error("SESSION_CREATE not audited")
	}

	// Concurrent sessions of the same kind are allowed.
	if _, err := svc.Create(context.Background(), session.CreateOpts{Direction: "IN", TargetSize: "40"}); err != nil {
		t.Errorf("second session rejected: %v", err)
	}

	for _, opts := range []session.CreateOpts{
		{Direction: "UP", TargetSize: "40"},
		{Direction: "IN", TargetSize: ""},
	} {
		if _, err := svc.Create(context.Background(), opts); !apperr.Is(err, apperr.KindValidation) {
			t.Errorf("Create(%+v) err = %v, want validation", opts, err)
		}
	}
}

func TestJoin_IdempotentAndActiveOnly(t *testing.T) {
	gormDB := openTestDB(t)
	rec := &events.Recorder{}
	svc := session.New(gormDB, rec, nil, nil)
	ctx := context.Background()
	sess, _ := svc.Create(ctx, session.CreateOpts{Direction: "OUT", TargetSize: "40"})

	for range 3 {
		if _, err := svc.Join(ctx, sess.ID, "dev-1"); err != nil {
			t.Fatalf("Join: %v", err)
		}
	}
	svc.Join(ctx, sess.ID, "dev-2")
	got, _ := session.Get(gormDB, sess.ID)
	if len(got.Scanners) != 2 {
		t.Errorf("scanners = %d, want 2", len(got.Scanners))
	}
	// CREATED plus one UPDATE per new member.
	if n := len(rec.OfType(events.TypeSessionUpdate)); n != 3 {
		t.Errorf("session events = %d, want 3", n)
	}

	if _, err := svc.Join(ctx, "missing", "dev-1"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("join unknown err = %v, want not found", err)
	}
	svc.End(ctx, sess.ID, session.EndOpts{})
	if _, err := svc.Join(ctx, sess.ID, "dev-3"); !apperr.Is(err, apperr.KindConflict) {
		t.Errorf("join completed err = %v, want conflict", err)
	}
}

func TestEnd(t *testing.T) {
	gormDB := openTestDB(t)
	svc := session.New(gormDB, nil, nil, nil)
	ctx := context.Background()
	sess, _ := svc.Create(ctx, session.CreateOpts{Direction: "IN", TargetSize: "40"})

	ended, err := svc.End(ctx, sess.ID, session.EndOpts{})
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if ended.Status != models.SessionCompleted || ended.EndedAt == nil {
		t.Errorf("ended = %+v", ended)
	}
	if ended.TotalCount != nil {
		t.Error("totals stamped without being requested")
	}
	if _, err := svc.End(ctx, sess.ID, session.EndOpts{}); !apperr.Is(err, apperr.KindConflict) {
		t.Errorf("second End err = %v, want conflict", err)
	}
	if _, err := svc.End(ctx, "missing", session.EndOpts{}); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("End unknown err = %v, want not found", err)
	}
}

func TestScenarioF_SummaryAfterEnd(t *testing.T) {
	gormDB := openTestDB(t)
	ctx := context.Background()
	sessions := session.New(gormDB, nil, nil, nil)
	rolls := roll.New(gormDB, nil, nil, nil)
	asha, _ := employee.Add(gormDB, "Asha")

	sess, _ := sessions.Create(ctx, session.CreateOpts{Direction: "IN", TargetSize: "40"})
	if _, err := rolls.StockIn(ctx, roll.TxRequest{
		Barcode: "26-40-0001", Metre: 10.5, Weight: 5.25, SessionID: sess.ID,
		Identity: roll.Identity{EmployeeID: asha.EmployeeID, ScannerID: "dev-1"},
	}); err != nil {
		t.Fatalf("StockIn 1: %v", err)
	}
	if _, err := rolls.StockIn(ctx, roll.TxRequest{
		Barcode: "26-40-0002", Metre: 20, Weight: 9.75, SessionID: sess.ID,
	}); err != nil {
		t.Fatalf("StockIn 2: %v", err)
	}
	// Outside the session.
	rolls.StockIn(ctx, roll.TxRequest{Barcode: "26-40-0003", Metre: 99, Weight: 99})

	preview, err := session.BuildPreview(gormDB, sess.ID)
	if err != nil {
		t.Fatalf("BuildPreview: %v", err)
	}
	if preview.Count != 2 || !preview.Metre.Equal(decimal.RequireFromString("30.5")) || !preview.Weight.Equal(decimal.RequireFromString("15")) {
		t.Errorf("preview totals = %d / %s / %s", preview.Count, preview.Metre, preview.Weight)
	}
	if preview.Items[0].Barcode != "26-40-0002" {
		t.Errorf("items not newest first: %s", preview.Items[0].Barcode)
	}

	if _, err := sessions.End(ctx, sess.ID, session.EndOpts{StampTotals: true}); err != nil {
		t.Fatalf("End: %v", err)
	}

	first, err := session.BuildSummary(gormDB, sess.ID)
	if err != nil {
		t.Fatalf("BuildSummary: %v", err)
	}
	second, _ := session.BuildSummary(gormDB, sess.ID)

	for _, s := range []*session.Summary{first, second} {
		if s.Count != 2 || !s.Metre.Equal(preview.Metre) || !s.Weight.Equal(preview.Weight) {
			t.Errorf("summary totals = %d / %s / %s", s.Count, s.Metre, s.Weight)
		}
		if len(s.ByEmployee) != 2 {
			t.Fatalf("by employee = %+v", s.ByEmployee)
		}
		names := map[string]int64{}
		for _, a := range s.ByEmployee {
			names[a.Name] = a.Count
		}
		if names["Asha"] != 1 || names[session.UnknownActor] != 1 {
			t.Errorf("by employee = %v", names)
		}
	}

	var stored models.Session
	gormDB.First(&stored, "id = ?", sess.ID)
	if stored.TotalCount == nil || *stored.TotalCount != 2 || !stored.TotalMetre.Valid {
		t.Errorf("stamped totals = %+v", stored)
	}
}

func TestSummary_RecomputedNotCached(t *testing.T) {
	gormDB := openTestDB(t)
	ctx := context.Background()
	sessions := session.New(gormDB, nil, nil, nil)
	rolls := roll.New(gormDB, nil, nil, nil)

	sess, _ := sessions.Create(ctx, session.CreateOpts{Direction: "IN", TargetSize: "40"})
	rolls.StockIn(ctx, roll.TxRequest{Barcode: "26-40-0001", Metre: 10, Weight: 5, SessionID: sess.ID})
	sessions.End(ctx, sess.ID, session.EndOpts{StampTotals: true})

	m := 4.0
	if _, err := rolls.AdminUpdate(ctx, "26-40-0001", roll.UpdateRequest{Metre: &m}); err != nil {
		t.Fatalf("AdminUpdate: %v", err)
	}
	s, _ := session.BuildSummary(gormDB, sess.ID)
	if !s.Metre.Equal(decimal.NewFromInt(4)) {
		t.Errorf("summary metre = %s, want recomputed 4", s.Metre)
	}
}

func TestListActiveAndHistory(t *testing.T) {
	gormDB := openTestDB(t)
	ctx := context.Background()
	sessions := session.New(gormDB, nil, nil, nil)
	rolls := roll.New(gormDB, nil, nil, nil)
	scanner.Register(gormDB, "dev-1", "")

	a, _ := sessions.Create(ctx, session.CreateOpts{Direction: "OUT", TargetSize: "40"})
	b, _ := sessions.Create(ctx, session.CreateOpts{Direction: "IN", TargetSize: "38"})
	rolls.StockIn(ctx, roll.TxRequest{Barcode: "26-38-0001", Metre: 1, Weight: 1, SessionID: b.ID,
		Identity: roll.Identity{ScannerID: "dev-1"}})
	sessions.Join(ctx, b.ID, "dev-ghost")

	active, err := session.ListActive(gormDB, 2*time.Minute, time.Now().UTC())
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("active = %d, want 2", len(active))
	}
	for _, s := range active {
		if s.ID == b.ID && (s.Scanned != 1 || s.LiveScanners != 1) {
			t.Errorf("session b = scanned %d, live %d; want 1, 1", s.Scanned, s.LiveScanners)
		}
	}

	sessions.End(ctx, a.ID, session.EndOpts{})
	hist, err := session.History(gormDB, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 1 || hist[0].ID != a.ID {
		t.Errorf("history = %+v", hist)
	}
	active, _ = session.ListActive(gormDB, 2*time.Minute, time.Now().UTC())
	if len(active) != 1 {
		t.Errorf("active after end = %d, want 1", len(active))
	}
}

func TestPreview_RestockedRollListedOnce(t *testing.T) {
	gormDB := openTestDB(t)
	ctx := context.Background()
	sessions := session.New(gormDB, nil, nil, nil)
	rolls := roll.New(gormDB, nil, nil, nil)

	sess, _ := sessions.Create(ctx, session.CreateOpts{Direction: "IN", TargetSize: "40"})
	in := roll.TxRequest{Barcode: "26-40-0001", Metre: 10, Weight: 5, SessionID: sess.ID}
	if _, err := rolls.StockIn(ctx, in); err != nil {
		t.Fatalf("StockIn: %v", err)
	}
	if _, err := rolls.StockOut(ctx, roll.TxRequest{Barcode: "26-40-0001"}); err != nil {
		t.Fatalf("StockOut: %v", err)
	}
	if _, err := rolls.StockIn(ctx, in); err != nil {
		t.Fatalf("re-stock: %v", err)
	}

	p, err := session.BuildPreview(gormDB, sess.ID)
	if err != nil {
		t.Fatalf("BuildPreview: %v", err)
	}
	if len(p.Items) != 1 || p.Items[0].Barcode != "26-40-0001" {
		t.Errorf("items = %+v, want one item for 26-40-0001", p.Items)
	}
	if p.Count != 2 || !p.Metre.Equal(decimal.NewFromInt(20)) {
		t.Errorf("totals = %d / %s, want 2 entries / 20", p.Count, p.Metre)
	}

	s, _ := session.BuildSummary(gormDB, sess.ID)
	if len(s.Items) != 1 || s.Count != 2 || len(s.ByEmployee) != 1 || s.ByEmployee[0].Count != 2 {
		t.Errorf("summary = %+v", s)
	}

	active, _ := session.ListActive(gormDB, 2*time.Minute, time.Now().UTC())
	if len(active) != 1 || active[0].Scanned != 1 {
		t.Errorf("active scanned = %+v, want 1 roll", active)
	}
}
