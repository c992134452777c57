package models

import "time"

// Barcode status values. Used is an observational hint; the roll table is
// authoritative for presence.
const (
	BarcodeUnused = "Unused"
	BarcodeUsed   = "Used"
)

// Barcode is an immutable allocation record for one printed label.
type Barcode struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Year        int       `gorm:"not null;uniqueIndex:idx_barcode_bucket_seq,priority:1" json:"year"`
	Size        string    `gorm:"size:16;not null;uniqueIndex:idx_barcode_bucket_seq,priority:2" json:"size"`
	Sequence    int       `gorm:"not null;uniqueIndex:idx_barcode_bucket_seq,priority:3" json:"sequence"`
	FullBarcode string    `gorm:"size:32;not null;uniqueIndex" json:"full_barcode"`
	Status      string    `gorm:"size:8;not null" json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Size is a registered size code printed in the middle segment of a barcode.
type Size struct {
	Code      string    `gorm:"primaryKey;size:16" json:"code"`
	CreatedAt time.Time `json:"created_at"`
}
