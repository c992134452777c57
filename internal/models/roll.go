package models

import "time"

// Roll and transaction status values.
const (
	StatusIn  = "IN"
	StatusOut = "OUT"
)

// Transaction actions recorded on history entries.
const (
	ActionScan  = "SCAN"
	ActionBatch = "BATCH"
	ActionEdit  = "EDIT"
)

// Roll is a physical cloth roll keyed by its barcode. Status always equals
// the status of the newest History entry.
type Roll struct {
	Barcode    string    `gorm:"primaryKey;size:32" json:"barcode"`
	Status     string    `gorm:"size:4;not null;index" json:"status"`
	Metre      float64   `gorm:"not null" json:"metre"`
	Weight     float64   `gorm:"not null" json:"weight"`
	Percentage float64   `gorm:"not null" json:"percentage"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"index" json:"updated_at"`

	History []RollTransaction `gorm:"foreignKey:RollBarcode;references:Barcode" json:"history,omitempty"`
}

// RollTransaction is one append-only history entry of a Roll. Rows are
// inserted, never updated; ID order is commit order.
type RollTransaction struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	RollBarcode  string    `gorm:"size:32;not null;index" json:"barcode"`
	Status       string    `gorm:"size:4;not null" json:"status"`
	Action       string    `gorm:"size:8" json:"action,omitempty"`
	Details      string    `gorm:"type:text" json:"details,omitempty"`
	EmployeeID   string    `gorm:"size:32" json:"employee_id,omitempty"`
	EmployeeName string    `gorm:"size:128" json:"employee_name,omitempty"`
	ScannerID    string    `gorm:"size:64" json:"scanner_id,omitempty"`
	SessionID    *string   `gorm:"size:36;index" json:"session_id,omitempty"`
	At           time.Time `gorm:"not null;index" json:"at"`
}
