// Package stats answers dashboard queries. Every figure is computed from the
// roll, history and ledger tables on each call.
package stats

import (
	"fmt"
	"time"

	"github.com/zulandar/bolttrack/internal/apperr"
	"github.com/zulandar/bolttrack/internal/ledger"
	"github.com/zulandar/bolttrack/internal/models"
	"gorm.io/gorm"
)

// List kinds.
const (
	KindStockIn    = "stockIn"
	KindStockOut   = "stockOut"
	KindTotalRolls = "totalRolls"
	KindMissing    = "missing"
	KindRecent     = "recent"
)

const (
	listLimit   = 100
	recentLimit = 50
)

// Window bounds a dashboard query. Zero times are open ends.
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) apply(q *gorm.DB, column string) *gorm.DB {
	if !w.From.IsZero() {
		q = q.Where(column+" >= ?", w.From)
	}
	if !w.To.IsZero() {
		q = q.Where(column+" < ?", w.To)
	}
	return q
}

// Dashboard is the headline count set.
type Dashboard struct {
	TotalRolls    int64 `json:"total_rolls"`
	StockIn       int64 `json:"stock_in"`
	StockOut      int64 `json:"stock_out"`
	PendingMissed int64 `json:"pending_missed"`
}

// BuildDashboard counts rolls by status. With a window, the roll total
// covers rolls first stocked in it and the IN/OUT figures count history
// entries recorded in it.
func BuildDashboard(gormDB *gorm.DB, w Window) (*Dashboard, error) {
	var d Dashboard
	if err := w.apply(gormDB.Model(&models.Roll{}), "created_at").Count(&d.TotalRolls).Error; err != nil {
		return nil, fmt.Errorf("stats: count rolls: %w", err)
	}

	windowed := !w.From.IsZero() || !w.To.IsZero()
	for status, dst := range map[string]*int64{models.StatusIn: &d.StockIn, models.StatusOut: &d.StockOut} {
		var q *gorm.DB
		if windowed {
			q = w.apply(gormDB.Model(&models.RollTransaction{}), "at").
				Where("status = ? AND action <> ?", status, models.ActionEdit)
		} else {
			q = gormDB.Model(&models.Roll{}).Where("status = ?", status)
		}
		if err := q.Count(dst).Error; err != nil {
			return nil, fmt.Errorf("stats: count %s: %w", status, err)
		}
	}

	n, err := ledger.CountPending(gormDB)
	if err != nil {
		return nil, err
	}
	d.PendingMissed = n
	return &d, nil
}

// List returns the rows behind one dashboard figure.
func List(gormDB *gorm.DB, kind string) (any, error) {
	switch kind {
	case KindStockIn, KindStockOut, KindTotalRolls:
		q := gormDB.Model(&models.Roll{}).Order("updated_at DESC").Limit(listLimit)
		switch kind {
		case KindStockIn:
			q = q.Where("status = ?", models.StatusIn)
		case KindStockOut:
			q = q.Where("status = ?", models.StatusOut)
		}
		var rolls []models.Roll
		if err := q.Find(&rolls).Error; err != nil {
			return nil, fmt.Errorf("stats: list %s: %w", kind, err)
		}
		return rolls, nil
	case KindMissing:
		return ledger.ListPending(gormDB, listLimit)
	case KindRecent:
		var entries []models.RollTransaction
		if err := gormDB.Order("at DESC, id DESC").Limit(recentLimit).Find(&entries).Error; err != nil {
			return nil, fmt.Errorf("stats: list recent: %w", err)
		}
		return entries, nil
	default:
		return nil, apperr.Validation("unknown list %q", kind)
	}
}
