// Package allocator issues sequential barcodes per (year, size) bucket.
//
// Sequences are dense: a batch starts right after the highest sequence
// already issued for the bucket. The (year, size, sequence) unique index is
// the only guard against concurrent allocations; a batch that loses the race
// fails as a whole with a conflict.
package allocator

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/zulandar/bolttrack/internal/apperr"
	"github.com/zulandar/bolttrack/internal/audit"
	"github.com/zulandar/bolttrack/internal/barcode"
	"github.com/zulandar/bolttrack/internal/config"
	"github.com/zulandar/bolttrack/internal/db"
	"github.com/zulandar/bolttrack/internal/events"
	"github.com/zulandar/bolttrack/internal/ledger"
	"github.com/zulandar/bolttrack/internal/logging"
	"github.com/zulandar/bolttrack/internal/metrics"
	"github.com/zulandar/bolttrack/internal/models"
	"gorm.io/gorm"
)

// Allocator issues barcodes.
type Allocator struct {
	DB       *gorm.DB
	Events   events.Publisher
	Audit    audit.Sink
	Log      *logrus.Entry
	MaxBatch int
}

// Request is one allocation call.
type Request struct {
	Year       int
	Size       string
	Quantity   int
	Actor      string
	EmployeeID string
	IPAddress  string
}

// Result is a committed allocation.
type Result struct {
	Barcodes     []models.Barcode `json:"barcodes"`
	LastSequence int              `json:"last_sequence"`
}

// New creates an Allocator. Nil collaborators are replaced with no-ops.
func New(gormDB *gorm.DB, pub events.Publisher, sink audit.Sink, log *logrus.Entry, maxBatch int) *Allocator {
	if pub == nil {
		pub = events.Discard{}
	}
	if sink == nil {
		sink = &audit.Memory{}
	}
	if log == nil {
		log = logging.Discard()
	}
	if maxBatch <= 0 {
		maxBatch = config.DefaultMaxBatch
	}
	return &Allocator{DB: gormDB, Events: pub, Audit: sink, Log: log, MaxBatch: maxBatch}
}

// Allocate issues req.Quantity consecutive barcodes for (req.Year, req.Size).
func (a *Allocator) Allocate(ctx context.Context, req Request) (*Result, error) {
	if err := a.validate(req); err != nil {
		return nil, err
	}
	gormDB := a.DB.WithContext(ctx)
	if err := checkRegistered(gormDB, req.Size); err != nil {
		return nil, err
	}

	var rows []models.Barcode
	err := gormDB.Transaction(func(tx *gorm.DB) error {
		last, err := lastSequence(tx, req.Year, req.Size)
		if err != nil {
			return apperr.Internal(err, "allocator: read last sequence")
		}
		start := last + 1
		end := last + req.Quantity
		if end > barcode.MaxSequence {
			return apperr.Validation("bucket %02d-%s exhausted: %d more barcodes would exceed sequence %d",
				req.Year%100, req.Size, req.Quantity, barcode.MaxSequence)
		}
		rows = make([]models.Barcode, 0, req.Quantity)
		for seq := start; seq <= end; seq++ {
			rows = append(rows, models.Barcode{
				Year:        req.Year,
				Size:        req.Size,
				Sequence:    seq,
				FullBarcode: barcode.Format(req.Year, req.Size, seq),
				Status:      models.BarcodeUnused,
			})
		}
		if err := tx.CreateInBatches(&rows, 100).Error; err != nil {
			if db.IsDuplicate(err) {
				metrics.AllocationConflicts.Inc()
				return apperr.ConflictWrap(err, "sequence %d-%d for %d/%s was taken by a concurrent allocation; refresh and retry",
					start, end, req.Year, req.Size)
			}
			return apperr.Internal(err, "allocator: insert barcodes")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := &Result{Barcodes: rows, LastSequence: rows[len(rows)-1].Sequence}
	a.afterCommit(gormDB, req, res)
	return res, nil
}

// afterCommit runs the best-effort side effects of an allocation.
func (a *Allocator) afterCommit(gormDB *gorm.DB, req Request, res *Result) {
	codes := make([]barcode.Code, len(res.Barcodes))
	list := make([]string, len(res.Barcodes))
	for i, b := range res.Barcodes {
		codes[i] = barcode.Code{Year: b.Year, Size: b.Size, Sequence: b.Sequence}
		list[i] = b.FullBarcode
	}
	if _, err := ledger.Seed(gormDB, codes); err != nil {
		a.Log.WithError(err).WithField("size", req.Size).Warn("ledger seeding failed")
	}

	metrics.BarcodesAllocated.WithLabelValues(req.Size).Add(float64(len(res.Barcodes)))
	a.Events.Publish(events.Event{
		Type: events.TypeSequenceUpdate,
		Data: events.SequenceUpdate{Year: req.Year, Size: req.Size, LastSequence: res.LastSequence},
	})
	a.Audit.Record(audit.Entry{
		Action:     audit.ActionBarcodeGenerate,
		Actor:      req.Actor,
		EmployeeID: req.EmployeeID,
		IPAddress:  req.IPAddress,
		Details: map[string]any{
			"year":     req.Year,
			"size":     req.Size,
			"quantity": req.Quantity,
			"first":    list[0],
			"last":     list[len(list)-1],
		},
	})
	a.Log.WithFields(logrus.Fields{
		"year":  req.Year,
		"size":  req.Size,
		"count": len(list),
		"last":  res.LastSequence,
	}).Info("barcodes allocated")
}

func (a *Allocator) validate(req Request) error {
	if req.Quantity <= 0 {
		return apperr.Validation("quantity must be positive, got %d", req.Quantity)
	}
	if req.Quantity > a.MaxBatch {
		return apperr.Validation("quantity %d exceeds the batch limit of %d", req.Quantity, a.MaxBatch)
	}
	if req.Year < 2000 || req.Year > 2099 {
		return apperr.Validation("year %d out of range 2000-2099", req.Year)
	}
	if !barcode.ValidSize(req.Size) {
		return apperr.Validation("invalid size %q", req.Size)
	}
	return nil
}

// checkRegistered rejects sizes missing from a non-empty size registry.
func checkRegistered(gormDB *gorm.DB, size string) error {
	var total int64
	if err := gormDB.Model(&models.Size{}).Count(&total).Error; err != nil {
		return apperr.Internal(err, "allocator: count sizes")
	}
	if total == 0 {
		return nil
	}
	var s models.Size
	if err := gormDB.Where("code = ?", size).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.Validation("size %q is not registered", size)
		}
		return apperr.Internal(err, "allocator: get size %s", size)
	}
	return nil
}

func lastSequence(gormDB *gorm.DB, year int, size string) (int, error) {
	var last int
	err := gormDB.Model(&models.Barcode{}).
		Where("year = ? AND size = ?", year, size).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&last).Error
	if err != nil {
		return 0, fmt.Errorf("allocator: last sequence %d/%s: %w", year, size, err)
	}
	return last, nil
}

// Sequence is the watermark of one bucket.
type Sequence struct {
	Year int    `json:"year"`
	Size string `json:"size"`
	Last int    `json:"last_sequence"`
	Next int    `json:"next_sequence"`
}

// NextSequence returns the last issued and next free sequence for a bucket.
func NextSequence(gormDB *gorm.DB, year int, size string) (*Sequence, error) {
	last, err := lastSequence(gormDB, year, size)
	if err != nil {
		return nil, err
	}
	return &Sequence{Year: year, Size: size, Last: last, Next: last + 1}, nil
}

// Lookup returns the allocation record for code, or nil when the barcode was
// never issued.
func Lookup(gormDB *gorm.DB, code string) (*models.Barcode, error) {
	var b models.Barcode
	if err := gormDB.Where("full_barcode = ?", code).First(&b).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("allocator: lookup %s: %w", code, err)
	}
	return &b, nil
}

// MarkUsed flips the observational status of code to Used.
func MarkUsed(gormDB *gorm.DB, code string) error {
	err := gormDB.Model(&models.Barcode{}).
		Where("full_barcode = ? AND status = ?", code, models.BarcodeUnused).
		Update("status", models.BarcodeUsed).Error
	if err != nil {
		return fmt.Errorf("allocator: mark used %s: %w", code, err)
	}
	return nil
}
