// Package gap detects holes in barcode sequences.
//
// Check and Record look exactly one sequence back. Longer runs of missing
// barcodes surface either through repeated checks as later barcodes are
// stocked in, or through Scan, which compares a whole bucket.
package gap

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zulandar/bolttrack/internal/barcode"
	"github.com/zulandar/bolttrack/internal/ledger"
	"github.com/zulandar/bolttrack/internal/metrics"
	"github.com/zulandar/bolttrack/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Warning returns the advisory text for a skipped barcode.
func Warning(missing string) string {
	return fmt.Sprintf("Sequence Gap: %s was skipped and added to Missing List.", missing)
}

// Hint is the read-only result of a pre-flight check.
type Hint struct {
	Missing string `json:"missing"`
	Message string `json:"message"`
}

// Check reports whether the predecessor of code has never been stocked in.
// It does not write anything. Malformed barcodes and sequence 1 yield nil.
func Check(db *gorm.DB, code string) (*Hint, error) {
	prev, ok := predecessor(code)
	if !ok {
		return nil, nil
	}
	stocked, err := exists(db, prev)
	if err != nil {
		return nil, err
	}
	if stocked {
		return nil, nil
	}
	return &Hint{Missing: prev.String(), Message: fmt.Sprintf("Previous sequence %s was not scanned.", prev)}, nil
}

// Record runs the commit-time check for code inside tx. When the predecessor
// has never been stocked in it ensures a ledger row for it and returns the
// warning. An existing row keeps its status, so a DAMAGED predecessor stays
// DAMAGED.
func Record(tx *gorm.DB, code string) (string, error) {
	prev, ok := predecessor(code)
	if !ok {
		return "", nil
	}
	stocked, err := exists(tx, prev)
	if err != nil {
		return "", err
	}
	if stocked {
		return "", nil
	}

	row := ledger.Entry(prev, time.Now().UTC())
	result := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "barcode"}},
		DoNothing: true,
	}).Create(&row)
	if result.Error != nil {
		return "", fmt.Errorf("gap: record %s: %w", prev, result.Error)
	}
	if result.RowsAffected > 0 {
		metrics.GapsDetected.Inc()
	}
	return Warning(prev.String()), nil
}

func predecessor(code string) (barcode.Code, bool) {
	c, err := barcode.Parse(code)
	if err != nil {
		return barcode.Code{}, false
	}
	return c.Prev()
}

func exists(db *gorm.DB, c barcode.Code) (bool, error) {
	var n int64
	if err := db.Model(&models.Roll{}).Where("barcode = ?", c.String()).Count(&n).Error; err != nil {
		return false, fmt.Errorf("gap: check %s: %w", c, err)
	}
	return n > 0, nil
}

// Report is the result of a full bucket scan.
type Report struct {
	Year    int      `json:"year"`
	Size    string   `json:"size"`
	Max     int      `json:"max_sequence"`
	Missing []string `json:"missing"`
}

// Scan returns every sequence in [1, max] of the bucket with no stocked roll,
// where max is the highest stocked sequence. It does not write anything.
func Scan(db *gorm.DB, year int, size string) (*Report, error) {
	prefix := fmt.Sprintf("%02d-%s-", year%100, size)
	var codes []string
	if err := db.Model(&models.Roll{}).Where("barcode LIKE ?", prefix+"%").Pluck("barcode", &codes).Error; err != nil {
		return nil, fmt.Errorf("gap: scan %s: %w", strings.TrimSuffix(prefix, "-"), err)
	}

	seen := make(map[int]bool, len(codes))
	max := 0
	for _, s := range codes {
		c, err := barcode.Parse(s)
		if err != nil || c.Size != size {
			continue
		}
		seen[c.Sequence] = true
		if c.Sequence > max {
			max = c.Sequence
		}
	}

	report := &Report{Year: year, Size: size, Max: max, Missing: []string{}}
	for seq := 1; seq < max; seq++ {
		if !seen[seq] {
			report.Missing = append(report.Missing, barcode.Format(year, size, seq))
		}
	}
	return report, nil
}

// Bucket identifies a (year, size) pair.
type Bucket struct {
	Year int
	Size string
}

// Buckets returns every bucket that has at least one stocked roll, ordered by
// year then size.
func Buckets(db *gorm.DB) ([]Bucket, error) {
	var codes []string
	if err := db.Model(&models.Roll{}).Pluck("barcode", &codes).Error; err != nil {
		return nil, fmt.Errorf("gap: list buckets: %w", err)
	}
	set := make(map[Bucket]bool)
	for _, s := range codes {
		c, err := barcode.Parse(s)
		if err != nil {
			continue
		}
		set[Bucket{Year: c.Year, Size: c.Size}] = true
	}
	out := make([]Bucket, 0, len(set))
	for b := range set {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Size < out[j].Size
	})
	return out, nil
}
