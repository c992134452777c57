package roll

import (
	"github.com/zulandar/bolttrack/internal/allocator"
	"github.com/zulandar/bolttrack/internal/apperr"
	"github.com/zulandar/bolttrack/internal/gap"
	"github.com/zulandar/bolttrack/internal/ledger"
	"github.com/zulandar/bolttrack/internal/models"
	"gorm.io/gorm"
)

// Scan status values reported to scanners before they transact.
const (
	ScanInvalid  = "INVALID"
	ScanNew      = "NEW"
	ScanExisting = "EXISTING"
)

// ScanStatus is the pre-flight view of a barcode.
type ScanStatus struct {
	Barcode string             `json:"barcode"`
	Status  string             `json:"status"`
	Roll    *models.Roll       `json:"roll,omitempty"`
	Missed  *models.MissedScan `json:"missed,omitempty"`
	Gap     *gap.Hint          `json:"gap,omitempty"`
}

// Status reports whether code is stocked (EXISTING), known but not stocked
// (NEW, with a gap hint when its predecessor is missing) or unknown to the
// allocator and the ledger (INVALID). It never writes.
func Status(gormDB *gorm.DB, code string) (*ScanStatus, error) {
	code, err := cleanBarcode(code)
	if err != nil {
		return nil, err
	}
	out := &ScanStatus{Barcode: code}

	state, r, err := Lookup(gormDB, code)
	if err != nil {
		return nil, apperr.Internal(err, "roll: status %s", code)
	}
	if state != Absent {
		out.Status = ScanExisting
		out.Roll = r
		return out, nil
	}

	missed, err := ledger.Get(gormDB, code)
	if err != nil {
		return nil, apperr.Internal(err, "roll: status %s", code)
	}
	issued, err := allocator.Lookup(gormDB, code)
	if err != nil {
		return nil, apperr.Internal(err, "roll: status %s", code)
	}
	if missed == nil && issued == nil {
		out.Status = ScanInvalid
		return out, nil
	}

	out.Status = ScanNew
	out.Missed = missed
	if out.Gap, err = gap.Check(gormDB, code); err != nil {
		return nil, apperr.Internal(err, "roll: status %s", code)
	}
	return out, nil
}
