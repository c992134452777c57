package models

import "time"

// Scanner and employee statuses.
const (
	ScannerActive      = "ACTIVE"
	ScannerDisabled    = "DISABLED"
	EmployeeActive     = "ACTIVE"
	EmployeeTerminated = "TERMINATED"
)

// Scanner is a paired handheld device. ID is the device-generated UUID.
type Scanner struct {
	ID       string     `gorm:"primaryKey;size:64" json:"scanner_id"`
	Name     string     `gorm:"size:128" json:"name"`
	Status   string     `gorm:"size:12;not null" json:"status"`
	PairedAt time.Time  `json:"paired_at"`
	LastSeen *time.Time `gorm:"index" json:"last_seen,omitempty"`
}

// Employee is an operator whose name is snapshotted onto history entries.
type Employee struct {
	ID          uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	EmployeeID  string     `gorm:"size:16;not null;uniqueIndex" json:"employee_id"`
	Name        string     `gorm:"size:128;not null" json:"name"`
	Status      string     `gorm:"size:12;not null" json:"status"`
	LastScanner string     `gorm:"size:128" json:"last_scanner,omitempty"`
	LastActive  *time.Time `gorm:"index" json:"last_active,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// AuditLog is one recorded mutation. Details holds a JSON object.
type AuditLog struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Action     string    `gorm:"size:32;not null;index" json:"action"`
	Actor      string    `gorm:"size:128" json:"actor"`
	EmployeeID string    `gorm:"size:32" json:"employee_id,omitempty"`
	Details    string    `gorm:"type:text" json:"details"`
	IPAddress  string    `gorm:"size:64" json:"ip_address,omitempty"`
	At         time.Time `gorm:"not null;index" json:"at"`
}
