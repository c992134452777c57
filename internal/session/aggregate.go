package session

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zulandar/bolttrack/internal/models"
	"github.com/zulandar/bolttrack/internal/scanner"
	"gorm.io/gorm"
)

// UnknownActor groups entries with no employee name.
const UnknownActor = "Unknown"

// Item is one history entry recorded under a session, joined with the
// roll's current measurements.
type Item struct {
	EntryID      uint      `json:"entry_id"`
	Barcode      string    `json:"barcode"`
	Status       string    `json:"status"`
	Metre        float64   `json:"metre"`
	Weight       float64   `json:"weight"`
	Percentage   float64   `json:"percentage"`
	ScannedAt    time.Time `json:"scanned_at"`
	EmployeeID   string    `json:"employee_id,omitempty"`
	EmployeeName string    `json:"employee_name,omitempty"`
	ScannerID    string    `json:"scanner_id,omitempty"`
}

// Totals is an aggregate over session items.
type Totals struct {
	Count  int64           `json:"count"`
	Metre  decimal.Decimal `json:"total_metre"`
	Weight decimal.Decimal `json:"total_weight"`
}

func (t *Totals) add(it Item) {
	t.Count++
	t.Metre = t.Metre.Add(decimal.NewFromFloat(it.Metre))
	t.Weight = t.Weight.Add(decimal.NewFromFloat(it.Weight))
}

// Preview is the pre-close view of a session.
type Preview struct {
	Session *models.Session `json:"session"`
	Totals
	Items []Item `json:"items"`
}

// ActorTotals is one per-employee bucket of a summary.
type ActorTotals struct {
	Name string `json:"name"`
	Totals
}

// Summary groups a session's entries by employee.
type Summary struct {
	Session *models.Session `json:"session"`
	Totals
	ByEmployee []ActorTotals `json:"by_employee"`
	Items      []Item        `json:"items"`
}

// Items returns one item per roll whose history references the session,
// annotated with its most recent matching entry, newest first. Entries of
// deleted rolls are gone with their roll.
func Items(gormDB *gorm.DB, id string) ([]Item, error) {
	entries, err := entries(gormDB, id)
	if err != nil {
		return nil, err
	}
	return byRoll(entries), nil
}

// entries returns every history entry that references the session, newest
// first.
func entries(gormDB *gorm.DB, id string) ([]Item, error) {
	var out []Item
	err := gormDB.Table("roll_transactions AS t").
		Select(`t.id AS entry_id, t.roll_barcode AS barcode, t.status AS status, t.at AS scanned_at,
			t.employee_id AS employee_id, t.employee_name AS employee_name, t.scanner_id AS scanner_id,
			r.metre AS metre, r.weight AS weight, r.percentage AS percentage`).
		Joins("JOIN rolls r ON r.barcode = t.roll_barcode").
		Where("t.session_id = ?", id).
		Order("t.at DESC, t.id DESC").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("session: items of %s: %w", id, err)
	}
	return out, nil
}

// byRoll keeps the first entry per barcode of a newest-first list.
func byRoll(entries []Item) []Item {
	seen := make(map[string]bool, len(entries))
	out := make([]Item, 0, len(entries))
	for _, it := range entries {
		if seen[it.Barcode] {
			continue
		}
		seen[it.Barcode] = true
		out = append(out, it)
	}
	return out
}

// totals sums every matching history entry, so a roll scanned twice under
// the session counts twice.
func totals(gormDB *gorm.DB, id string) (Totals, error) {
	all, err := entries(gormDB, id)
	if err != nil {
		return Totals{}, err
	}
	var t Totals
	for _, it := range all {
		t.add(it)
	}
	return t, nil
}

// BuildPreview computes the current aggregate of a session without writing.
// Totals cover every matching entry; Items list each roll once.
func BuildPreview(gormDB *gorm.DB, id string) (*Preview, error) {
	p, _, err := build(gormDB, id)
	return p, err
}

func build(gormDB *gorm.DB, id string) (*Preview, []Item, error) {
	sess, err := Get(gormDB, id)
	if err != nil {
		return nil, nil, err
	}
	all, err := entries(gormDB, id)
	if err != nil {
		return nil, nil, err
	}
	p := &Preview{Session: sess, Items: byRoll(all)}
	for _, it := range all {
		p.add(it)
	}
	return p, all, nil
}

// BuildSummary groups a session's entries by employee name. It works the
// same before and after the session ends.
func BuildSummary(gormDB *gorm.DB, id string) (*Summary, error) {
	p, all, err := build(gormDB, id)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*ActorTotals)
	for _, it := range all {
		name := it.EmployeeName
		if name == "" {
			name = UnknownActor
		}
		a, ok := byName[name]
		if !ok {
			a = &ActorTotals{Name: name}
			byName[name] = a
		}
		a.add(it)
	}
	out := make([]ActorTotals, 0, len(byName))
	for _, a := range byName {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return &Summary{Session: p.Session, Totals: p.Totals, ByEmployee: out, Items: p.Items}, nil
}

// Active is an ACTIVE session with live counters.
type Active struct {
	models.Session
	Scanned      int64 `json:"scanned"`
	LiveScanners int64 `json:"live_scanners"`
}

// ListActive returns ACTIVE sessions, newest first. Scanned counts distinct
// rolls. A scanner is live when it was seen within staleAfter of now.
func ListActive(gormDB *gorm.DB, staleAfter time.Duration, now time.Time) ([]Active, error) {
	var sessions []models.Session
	err := gormDB.Preload("Scanners").Where("status = ?", models.SessionActive).
		Order("created_at DESC").Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("session: list active: %w", err)
	}

	out := make([]Active, 0, len(sessions))
	for _, sess := range sessions {
		a := Active{Session: sess}
		err := gormDB.Model(&models.RollTransaction{}).Where("session_id = ?", sess.ID).
			Distinct("roll_barcode").Count(&a.Scanned).Error
		if err != nil {
			return nil, fmt.Errorf("session: count scans of %s: %w", sess.ID, err)
		}
		ids := make([]string, len(sess.Scanners))
		for i, sc := range sess.Scanners {
			ids[i] = sc.ScannerID
		}
		live, err := scanner.Live(gormDB, ids, staleAfter, now)
		if err != nil {
			return nil, err
		}
		a.LiveScanners = live
		out = append(out, a)
	}
	return out, nil
}

// History returns COMPLETED sessions, most recently ended first.
func History(gormDB *gorm.DB, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []models.Session
	err := gormDB.Where("status = ?", models.SessionCompleted).
		Order("ended_at DESC, created_at DESC").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("session: history: %w", err)
	}
	return out, nil
}
