package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Session statuses.
const (
	SessionActive    = "ACTIVE"
	SessionCompleted = "COMPLETED"
)

// Session scopes one stock-in or stock-out run for a target size. The rolls
// scanned under it are found through RollTransaction.SessionID; the Total*
// columns are a completion snapshot and are never read back for summaries.
type Session struct {
	ID          string              `gorm:"primaryKey;size:36" json:"id"`
	Direction   string              `gorm:"size:4;not null" json:"type"`
	TargetSize  string              `gorm:"size:16;not null" json:"target_size"`
	Status      string              `gorm:"size:12;not null;index" json:"status"`
	CreatedBy   string              `gorm:"size:64" json:"created_by"`
	CreatedAt   time.Time           `json:"created_at"`
	EndedAt     *time.Time          `json:"ended_at,omitempty"`
	TotalCount  *int64              `json:"total_count,omitempty"`
	TotalMetre  decimal.NullDecimal `gorm:"type:decimal(14,3)" json:"total_metre"`
	TotalWeight decimal.NullDecimal `gorm:"type:decimal(14,3)" json:"total_weight"`

	Scanners []SessionScanner `gorm:"foreignKey:SessionID" json:"scanners,omitempty"`
}

// SessionScanner records a scanner's membership in a session. The composite
// key makes the membership a set.
type SessionScanner struct {
	SessionID string    `gorm:"primaryKey;size:36" json:"session_id"`
	ScannerID string    `gorm:"primaryKey;size:64" json:"scanner_id"`
	JoinedAt  time.Time `gorm:"not null;index" json:"joined_at"`
}
