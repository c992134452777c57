// Package ledger tracks missed scans: barcodes that were allocated or
// expected but are not currently stocked in.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/bolttrack/internal/apperr"
	"github.com/zulandar/bolttrack/internal/barcode"
	"github.com/zulandar/bolttrack/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Entry builds a PENDING ledger row for code.
func Entry(code barcode.Code, at time.Time) models.MissedScan {
	return models.MissedScan{
		Barcode:    code.String(),
		Year:       code.Year,
		Size:       code.Size,
		Sequence:   code.Sequence,
		DetectedAt: at,
		Status:     models.MissedPending,
	}
}

// Seed inserts PENDING rows for codes, leaving any existing row for the same
// barcode untouched. It returns how many rows were inserted.
func Seed(db *gorm.DB, codes []barcode.Code) (int64, error) {
	if len(codes) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([]models.MissedScan, len(codes))
	for i, c := range codes {
		rows[i] = Entry(c, now)
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "barcode"}},
		DoNothing: true,
	}).Create(&rows)
	if result.Error != nil {
		return 0, fmt.Errorf("ledger: seed %d entries: %w", len(codes), result.Error)
	}
	return result.RowsAffected, nil
}

// Resolve removes the ledger row for barcode. A missing row is not an error.
func Resolve(db *gorm.DB, code string) (bool, error) {
	result := db.Where("barcode = ?", code).Delete(&models.MissedScan{})
	if result.Error != nil {
		return false, fmt.Errorf("ledger: resolve %s: %w", code, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// MarkDamaged moves a ledger row to DAMAGED. DAMAGED is terminal.
func MarkDamaged(db *gorm.DB, code string) (*models.MissedScan, bool, error) {
	var row models.MissedScan
	if err := db.Where("barcode = ?", code).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, apperr.NotFound("missed scan not found: %s", code)
		}
		return nil, false, apperr.Internal(err, "ledger: get %s", code)
	}
	result := db.Model(&models.MissedScan{}).
		Where("barcode = ? AND status <> ?", code, models.MissedDamaged).
		Update("status", models.MissedDamaged)
	if result.Error != nil {
		return nil, false, apperr.Internal(result.Error, "ledger: mark damaged %s", code)
	}
	row.Status = models.MissedDamaged
	return &row, result.RowsAffected > 0, nil
}

// Get returns the ledger row for barcode, or nil when there is none.
func Get(db *gorm.DB, code string) (*models.MissedScan, error) {
	var row models.MissedScan
	if err := db.Where("barcode = ?", code).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("ledger: get %s: %w", code, err)
	}
	return &row, nil
}

// ListPending returns PENDING rows, newest detection first.
func ListPending(db *gorm.DB, limit int) ([]models.MissedScan, error) {
	q := db.Where("status = ?", models.MissedPending).Order("detected_at DESC, barcode DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []models.MissedScan
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("ledger: list pending: %w", err)
	}
	return rows, nil
}

// CountPending returns the number of PENDING rows.
func CountPending(db *gorm.DB) (int64, error) {
	var n int64
	if err := db.Model(&models.MissedScan{}).Where("status = ?", models.MissedPending).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("ledger: count pending: %w", err)
	}
	return n, nil
}
