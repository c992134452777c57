package models

import "time"

// Missed-scan statuses. RESOLVED is never stored: resolution deletes the row.
const (
	MissedPending  = "PENDING"
	MissedResolved = "RESOLVED"
	MissedDamaged  = "DAMAGED"
)

// MissedScan is an outstanding barcode: allocated or expected, but not
// currently stocked in. One row per barcode.
type MissedScan struct {
	Barcode    string    `gorm:"primaryKey;size:32" json:"barcode"`
	Year       int       `gorm:"index:idx_missed_bucket,priority:1" json:"year"`
	Size       string    `gorm:"size:16;index:idx_missed_bucket,priority:2" json:"size"`
	Sequence   int       `json:"sequence"`
	DetectedAt time.Time `gorm:"index" json:"detected_at"`
	Status     string    `gorm:"size:8;not null;index" json:"status"`
}
