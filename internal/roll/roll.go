// Package roll owns the IN/OUT lifecycle of physical rolls and their
// append-only transaction history.
//
// Every transition runs in one database transaction that re-reads the roll
// and guards its update with the expected status, so concurrent scans of the
// same barcode end in a conflict rather than a double stock-in or stock-out.
// Audit, session membership, employee activity and real-time events follow
// the commit and never fail it.
package roll

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zulandar/bolttrack/internal/allocator"
	"github.com/zulandar/bolttrack/internal/apperr"
	"github.com/zulandar/bolttrack/internal/audit"
	"github.com/zulandar/bolttrack/internal/barcode"
	"github.com/zulandar/bolttrack/internal/db"
	"github.com/zulandar/bolttrack/internal/employee"
	"github.com/zulandar/bolttrack/internal/events"
	"github.com/zulandar/bolttrack/internal/gap"
	"github.com/zulandar/bolttrack/internal/ledger"
	"github.com/zulandar/bolttrack/internal/logging"
	"github.com/zulandar/bolttrack/internal/metrics"
	"github.com/zulandar/bolttrack/internal/models"
	"github.com/zulandar/bolttrack/internal/scanner"
	"github.com/zulandar/bolttrack/internal/session"
	"gorm.io/gorm"
)

// DefaultPercentage is the quality recorded when a stock-in omits it.
const DefaultPercentage = 100.0

// MaxBatchOut caps the barcodes accepted by one batch stock-out.
const MaxBatchOut = 500

// Service runs roll transitions.
type Service struct {
	DB     *gorm.DB
	Events events.Publisher
	Audit  audit.Sink
	Log    *logrus.Entry
}

// New creates a Service. Nil collaborators are replaced with no-ops.
func New(gormDB *gorm.DB, pub events.Publisher, sink audit.Sink, log *logrus.Entry) *Service {
	if pub == nil {
		pub = events.Discard{}
	}
	if sink == nil {
		sink = &audit.Memory{}
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Service{DB: gormDB, Events: pub, Audit: sink, Log: log}
}

// Identity is who is behind a request. The values are opaque labels.
type Identity struct {
	ScannerID  string
	EmployeeID string
	IPAddress  string
}

// TxRequest is a single scanner transaction.
type TxRequest struct {
	Barcode string
	// Type is IN or OUT. PENDING and MISSING are accepted as IN.
	Type       string
	Metre      float64
	Weight     float64
	Percentage *float64
	SessionID  string
	Details    string
	Identity
}

// Result is a committed transition.
type Result struct {
	Roll    *models.Roll           `json:"roll"`
	Entry   models.RollTransaction `json:"entry"`
	Warning string                 `json:"warning,omitempty"`
}

// ParseType maps a transaction type to its operation.
func ParseType(t string) (Op, error) {
	switch strings.ToUpper(strings.TrimSpace(t)) {
	case models.StatusIn, "PENDING", "MISSING":
		return OpStockIn, nil
	case models.StatusOut:
		return OpStockOut, nil
	default:
		return OpStockIn, apperr.Validation("transaction type must be IN or OUT, got %q", t)
	}
}

// Transact dispatches req to StockIn or StockOut by its type.
func (s *Service) Transact(ctx context.Context, req TxRequest) (*Result, error) {
	op, err := ParseType(req.Type)
	if err != nil {
		return nil, err
	}
	if op == OpStockOut {
		return s.StockOut(ctx, req)
	}
	return s.StockIn(ctx, req)
}

// StockIn records a roll arriving: Absent->IN creates the roll, OUT->IN
// re-stocks it with fresh measurements.
func (s *Service) StockIn(ctx context.Context, req TxRequest) (res *Result, err error) {
	defer func() { observe("in", err) }()

	code, err := cleanBarcode(req.Barcode)
	if err != nil {
		return nil, err
	}
	if !(req.Metre > 0) {
		return nil, apperr.Validation("metre must be greater than 0")
	}
	if !(req.Weight > 0) {
		return nil, apperr.Validation("weight must be greater than 0")
	}
	pct := DefaultPercentage
	if req.Percentage != nil {
		pct = *req.Percentage
		if pct < 0 {
			return nil, apperr.Validation("percentage must not be negative")
		}
	}

	gormDB := s.DB.WithContext(ctx)
	if err := checkSession(gormDB, req.SessionID, OpStockIn); err != nil {
		return nil, err
	}
	who := s.resolve(gormDB, req.Identity)
	now := time.Now().UTC()

	var (
		roll    models.Roll
		entry   models.RollTransaction
		warning string
	)
	err = gormDB.Transaction(func(tx *gorm.DB) error {
		state, current, err := Lookup(tx, code)
		if err != nil {
			return apperr.Internal(err, "roll: stock in %s", code)
		}
		if _, err := Next(state, OpStockIn, code); err != nil {
			return err
		}

		details := req.Details
		switch state {
		case Absent:
			roll = models.Roll{
				Barcode:    code,
				Status:     models.StatusIn,
				Metre:      req.Metre,
				Weight:     req.Weight,
				Percentage: pct,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := tx.Create(&roll).Error; err != nil {
				if db.IsDuplicate(err) {
					return apperr.ConflictWrap(err, "roll %s already exists in stock", code)
				}
				return apperr.Internal(err, "roll: create %s", code)
			}
			if details == "" {
				details = "Stock in"
			}
		case Out:
			result := tx.Model(&models.Roll{}).
				Where("barcode = ? AND status = ?", code, models.StatusOut).
				Updates(map[string]interface{}{
					"status":     models.StatusIn,
					"metre":      req.Metre,
					"weight":     req.Weight,
					"percentage": pct,
					"updated_at": now,
				})
			if result.Error != nil {
				return apperr.Internal(result.Error, "roll: restock %s", code)
			}
			if result.RowsAffected == 0 {
				return apperr.Conflict("roll %s already exists in stock", code)
			}
			roll = *current
			roll.Status = models.StatusIn
			roll.Metre, roll.Weight, roll.Percentage = req.Metre, req.Weight, pct
			roll.UpdatedAt = now
			if details == "" {
				details = "Re-stock"
			}
		}

		entry = newEntry(code, models.StatusIn, models.ActionScan, details, who, req.ScannerID, req.SessionID, now)
		if err := tx.Create(&entry).Error; err != nil {
			return apperr.Internal(err, "roll: append history %s", code)
		}
		warning = s.recordGap(tx, code)
		if _, err := ledger.Resolve(tx, code); err != nil {
			return apperr.Internal(err, "roll: resolve missed scan %s", code)
		}
		if err := allocator.MarkUsed(tx, code); err != nil {
			return apperr.Internal(err, "roll: mark used %s", code)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(gormDB, audit.ActionStockIn, who, req.Identity, req.SessionID, map[string]any{
		"barcode":    code,
		"metre":      roll.Metre,
		"weight":     roll.Weight,
		"percentage": roll.Percentage,
		"session_id": req.SessionID,
		"warning":    warning,
	})
	s.publish(models.StatusIn, &roll, req.SessionID, who, now)
	return &Result{Roll: &roll, Entry: entry, Warning: warning}, nil
}

// StockOut records an IN roll leaving.
func (s *Service) StockOut(ctx context.Context, req TxRequest) (res *Result, err error) {
	defer func() { observe("out", err) }()

	code, err := cleanBarcode(req.Barcode)
	if err != nil {
		return nil, err
	}
	gormDB := s.DB.WithContext(ctx)
	if err := checkSession(gormDB, req.SessionID, OpStockOut); err != nil {
		return nil, err
	}
	who := s.resolve(gormDB, req.Identity)
	now := time.Now().UTC()

	details := req.Details
	if details == "" {
		details = "Stock out"
	}
	roll, entry, err := s.checkOut(gormDB, code, models.ActionScan, details, who, req.ScannerID, req.SessionID, now)
	if err != nil {
		return nil, err
	}

	s.record(gormDB, audit.ActionStockOut, who, req.Identity, req.SessionID, map[string]any{
		"barcode":    code,
		"session_id": req.SessionID,
	})
	s.publish(models.StatusOut, roll, req.SessionID, who, now)
	return &Result{Roll: roll, Entry: entry}, nil
}

// checkOut runs the IN->OUT transition in its own transaction.
func (s *Service) checkOut(gormDB *gorm.DB, code, action, details string, who actor, scannerID, sessionID string, now time.Time) (*models.Roll, models.RollTransaction, error) {
	var (
		roll  models.Roll
		entry models.RollTransaction
	)
	err := gormDB.Transaction(func(tx *gorm.DB) error {
		state, current, err := Lookup(tx, code)
		if err != nil {
			return apperr.Internal(err, "roll: stock out %s", code)
		}
		if _, err := Next(state, OpStockOut, code); err != nil {
			return err
		}
		result := tx.Model(&models.Roll{}).
			Where("barcode = ? AND status = ?", code, models.StatusIn).
			Updates(map[string]interface{}{"status": models.StatusOut, "updated_at": now})
		if result.Error != nil {
			return apperr.Internal(result.Error, "roll: stock out %s", code)
		}
		if result.RowsAffected == 0 {
			return apperr.Conflict("roll %s is already checked out", code)
		}
		roll = *current
		roll.Status = models.StatusOut
		roll.UpdatedAt = now

		entry = newEntry(code, models.StatusOut, action, details, who, scannerID, sessionID, now)
		if err := tx.Create(&entry).Error; err != nil {
			return apperr.Internal(err, "roll: append history %s", code)
		}
		return nil
	})
	if err != nil {
		return nil, entry, err
	}
	return &roll, entry, nil
}

// BatchRequest is a multi-barcode stock-out.
type BatchRequest struct {
	Barcodes  []string
	SessionID string
	Identity
}

// BatchFailure is one rejected batch item.
type BatchFailure struct {
	Barcode string `json:"barcode"`
	Error   string `json:"error"`
	Kind    string `json:"kind"`
}

// BatchResult lists the outcome of every batch item.
type BatchResult struct {
	Success []string       `json:"success"`
	Failed  []BatchFailure `json:"failed"`
}

// BatchStockOut checks out each barcode independently and in order. Item
// failures are reported, never fatal to the rest of the batch.
func (s *Service) BatchStockOut(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if len(req.Barcodes) == 0 {
		return nil, apperr.Validation("barcodes are required")
	}
	if len(req.Barcodes) > MaxBatchOut {
		return nil, apperr.Validation("batch of %d exceeds the limit of %d", len(req.Barcodes), MaxBatchOut)
	}
	gormDB := s.DB.WithContext(ctx)
	if err := checkSession(gormDB, req.SessionID, OpStockOut); err != nil {
		return nil, err
	}
	who := s.resolve(gormDB, req.Identity)
	now := time.Now().UTC()

	res := &BatchResult{Success: []string{}, Failed: []BatchFailure{}}
	for _, raw := range req.Barcodes {
		code, err := cleanBarcode(raw)
		if err == nil {
			_, _, err = s.checkOut(gormDB, code, models.ActionBatch, "Batch stock out", who, req.ScannerID, req.SessionID, now)
		}
		observe("batch_out", err)
		if err != nil {
			res.Failed = append(res.Failed, BatchFailure{
				Barcode: raw,
				Error:   apperr.Message(err),
				Kind:    apperr.KindOf(err).String(),
			})
			continue
		}
		res.Success = append(res.Success, code)
		s.record(gormDB, audit.ActionStockOut, who, req.Identity, req.SessionID, map[string]any{
			"barcode":    code,
			"session_id": req.SessionID,
			"batch":      true,
		})
	}

	if len(res.Success) > 0 {
		s.Events.Publish(events.Event{
			Type: events.TypeBatchStockOut,
			Data: events.BatchStockOut{
				Count:     len(res.Success),
				Barcodes:  res.Success,
				SessionID: req.SessionID,
				Timestamp: now,
				Actor:     who.label,
			},
		})
	}
	s.Log.WithFields(logrus.Fields{
		"success": len(res.Success),
		"failed":  len(res.Failed),
		"session": req.SessionID,
	}).Info("batch stock out")
	return res, nil
}

// UpdateRequest is an administrative correction. Nil fields are left alone.
type UpdateRequest struct {
	Metre      *float64
	Weight     *float64
	Percentage *float64
	Status     string
	Identity
}

// AdminUpdate edits a roll directly, bypassing the transition guards. The
// edit is still appended to history.
func (s *Service) AdminUpdate(ctx context.Context, code string, req UpdateRequest) (res *Result, err error) {
	defer func() { observe("edit", err) }()

	status := strings.ToUpper(strings.TrimSpace(req.Status))
	if status != "" && status != models.StatusIn && status != models.StatusOut {
		return nil, apperr.Validation("status must be IN or OUT, got %q", req.Status)
	}
	if req.Metre == nil && req.Weight == nil && req.Percentage == nil && status == "" {
		return nil, apperr.Validation("no fields to update")
	}
	if req.Metre != nil && !(*req.Metre > 0) {
		return nil, apperr.Validation("metre must be greater than 0")
	}
	if req.Weight != nil && !(*req.Weight > 0) {
		return nil, apperr.Validation("weight must be greater than 0")
	}
	if req.Percentage != nil && *req.Percentage < 0 {
		return nil, apperr.Validation("percentage must not be negative")
	}

	gormDB := s.DB.WithContext(ctx)
	who := s.resolve(gormDB, req.Identity)
	now := time.Now().UTC()

	var (
		roll    models.Roll
		entry   models.RollTransaction
		changes []string
	)
	err = gormDB.Transaction(func(tx *gorm.DB) error {
		state, current, err := Lookup(tx, code)
		if err != nil {
			return apperr.Internal(err, "roll: update %s", code)
		}
		if state == Absent {
			return apperr.NotFound("roll not found: %s", code)
		}
		roll = *current
		updates := map[string]interface{}{"updated_at": now}
		if req.Metre != nil {
			changes = append(changes, fmt.Sprintf("metre %g -> %g", roll.Metre, *req.Metre))
			updates["metre"] = *req.Metre
			roll.Metre = *req.Metre
		}
		if req.Weight != nil {
			changes = append(changes, fmt.Sprintf("weight %g -> %g", roll.Weight, *req.Weight))
			updates["weight"] = *req.Weight
			roll.Weight = *req.Weight
		}
		if req.Percentage != nil {
			changes = append(changes, fmt.Sprintf("percentage %g -> %g", roll.Percentage, *req.Percentage))
			updates["percentage"] = *req.Percentage
			roll.Percentage = *req.Percentage
		}
		if status != "" {
			changes = append(changes, fmt.Sprintf("status %s -> %s", roll.Status, status))
			updates["status"] = status
			roll.Status = status
		}
		roll.UpdatedAt = now
		if err := tx.Model(&models.Roll{}).Where("barcode = ?", code).Updates(updates).Error; err != nil {
			return apperr.Internal(err, "roll: update %s", code)
		}

		entry = newEntry(code, roll.Status, models.ActionEdit, "Manual edit: "+strings.Join(changes, ", "), who, req.ScannerID, "", now)
		if err := tx.Create(&entry).Error; err != nil {
			return apperr.Internal(err, "roll: append history %s", code)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(gormDB, audit.ActionInventoryEdit, who, req.Identity, "", map[string]any{
		"barcode": code,
		"changes": changes,
	})
	s.publish(models.ActionEdit, &roll, "", who, now)
	return &Result{Roll: &roll, Entry: entry}, nil
}

// Delete removes a roll and its history. A barcode the allocator issued goes
// back to the missed-scan ledger as PENDING; the returned flag reports that.
func (s *Service) Delete(ctx context.Context, code string, ident Identity) (reseeded bool, err error) {
	defer func() { observe("delete", err) }()

	gormDB := s.DB.WithContext(ctx)
	who := s.resolve(gormDB, ident)
	var removed models.Roll

	err = gormDB.Transaction(func(tx *gorm.DB) error {
		state, current, err := Lookup(tx, code)
		if err != nil {
			return apperr.Internal(err, "roll: delete %s", code)
		}
		if state == Absent {
			return apperr.NotFound("roll not found: %s", code)
		}
		removed = *current
		if err := tx.Where("roll_barcode = ?", code).Delete(&models.RollTransaction{}).Error; err != nil {
			return apperr.Internal(err, "roll: delete history %s", code)
		}
		if err := tx.Where("barcode = ?", code).Delete(&models.Roll{}).Error; err != nil {
			return apperr.Internal(err, "roll: delete %s", code)
		}

		issued, err := allocator.Lookup(tx, code)
		if err != nil {
			return apperr.Internal(err, "roll: delete %s", code)
		}
		if issued == nil {
			return nil
		}
		c := barcode.Code{Year: issued.Year, Size: issued.Size, Sequence: issued.Sequence}
		if _, err := ledger.Seed(tx, []barcode.Code{c}); err != nil {
			return apperr.Internal(err, "roll: reseed %s", code)
		}
		if err := tx.Model(&models.Barcode{}).Where("full_barcode = ?", code).
			Update("status", models.BarcodeUnused).Error; err != nil {
			return apperr.Internal(err, "roll: reset barcode %s", code)
		}
		reseeded = true
		return nil
	})
	if err != nil {
		return false, err
	}

	s.record(gormDB, audit.ActionDelete, who, ident, "", map[string]any{
		"barcode":  code,
		"status":   removed.Status,
		"reseeded": reseeded,
	})
	s.publish("DELETE", &removed, "", who, time.Now().UTC())
	return reseeded, nil
}

// MarkDamaged moves a missed-scan ledger row to DAMAGED. Audit and the
// ledger_update event follow only when the status actually changed.
func (s *Service) MarkDamaged(ctx context.Context, code string, ident Identity) (row *models.MissedScan, err error) {
	defer func() { observe("mark_damaged", err) }()

	gormDB := s.DB.WithContext(ctx)
	row, changed, err := ledger.MarkDamaged(gormDB, code)
	if err != nil {
		return nil, err
	}
	if !changed {
		return row, nil
	}

	who := s.resolve(gormDB, ident)
	s.Audit.Record(audit.Entry{
		Action:     audit.ActionMarkDamaged,
		Actor:      who.label,
		EmployeeID: who.employeeID,
		IPAddress:  ident.IPAddress,
		Details:    map[string]any{"barcode": row.Barcode},
	})
	s.Events.Publish(events.Event{
		Type: events.TypeLedgerUpdate,
		Data: events.LedgerUpdate{
			Barcode:   row.Barcode,
			Status:    row.Status,
			Timestamp: time.Now().UTC(),
			Actor:     who.label,
		},
	})
	return row, nil
}

// Get returns a roll with its history in commit order.
func Get(gormDB *gorm.DB, code string) (*models.Roll, error) {
	var r models.Roll
	err := gormDB.Preload("History", func(db *gorm.DB) *gorm.DB {
		return db.Order("id ASC")
	}).Where("barcode = ?", code).First(&r).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("roll not found: %s", code)
		}
		return nil, apperr.Internal(err, "roll: get %s", code)
	}
	return &r, nil
}

// actor is the resolved identity snapshotted onto history.
type actor struct {
	employeeID   string
	employeeName string
	label        string
}

func (s *Service) resolve(gormDB *gorm.DB, id Identity) actor {
	a := actor{employeeID: id.EmployeeID}
	if id.EmployeeID != "" {
		e, err := employee.Get(gormDB, id.EmployeeID)
		switch {
		case err == nil:
			a.employeeName = e.Name
		case !apperr.Is(err, apperr.KindNotFound):
			s.Log.WithError(err).WithField("employee", id.EmployeeID).Warn("employee lookup failed")
		}
	}
	switch {
	case a.employeeName != "":
		a.label = a.employeeName
	case id.EmployeeID != "":
		a.label = id.EmployeeID
	default:
		a.label = id.ScannerID
	}
	return a
}

// record runs the per-transition side effects. Failures are logged only.
func (s *Service) record(gormDB *gorm.DB, action string, who actor, id Identity, sessionID string, details map[string]any) {
	s.Audit.Record(audit.Entry{
		Action:     action,
		Actor:      who.label,
		EmployeeID: who.employeeID,
		IPAddress:  id.IPAddress,
		Details:    details,
	})

	now := time.Now().UTC()
	if sessionID != "" && id.ScannerID != "" {
		if _, err := session.AddScanner(gormDB, sessionID, id.ScannerID); err != nil {
			s.Log.WithError(err).WithField("session", sessionID).Warn("session auto-join failed")
		}
	}
	if err := scanner.Seen(gormDB, id.ScannerID, now); err != nil {
		s.Log.WithError(err).Warn("scanner last-seen update failed")
	}
	if who.employeeID == "" {
		return
	}
	label := scanner.Label(gormDB, id.ScannerID)
	if label == "" && sessionID != "" {
		first, err := session.FirstScanner(gormDB, sessionID)
		if err != nil {
			s.Log.WithError(err).WithField("session", sessionID).Warn("session scanner lookup failed")
		}
		label = scanner.Label(gormDB, first)
	}
	if err := employee.Touch(gormDB, who.employeeID, label, now); err != nil {
		s.Log.WithError(err).WithField("employee", who.employeeID).Warn("employee activity update failed")
	}
}

// recordGap runs the gap check under a savepoint. A failed check is rolled
// back to the savepoint and logged; the stock-in goes ahead without a
// warning.
func (s *Service) recordGap(tx *gorm.DB, code string) string {
	const savepoint = "gap_record"
	log := s.Log.WithField("barcode", code)
	if err := tx.SavePoint(savepoint).Error; err != nil {
		log.WithError(err).Warn("gap check skipped")
		return ""
	}
	warning, err := gap.Record(tx, code)
	if err != nil {
		if rbErr := tx.RollbackTo(savepoint).Error; rbErr != nil {
			log.WithError(rbErr).Warn("gap savepoint rollback failed")
		}
		log.WithError(err).Warn("gap check failed")
		return ""
	}
	return warning
}

func (s *Service) publish(typ string, r *models.Roll, sessionID string, who actor, at time.Time) {
	s.Events.Publish(events.Event{
		Type: events.TypeStockUpdate,
		Data: events.StockUpdate{
			Type:       typ,
			Barcode:    r.Barcode,
			Metre:      r.Metre,
			Weight:     r.Weight,
			Percentage: r.Percentage,
			SessionID:  sessionID,
			Timestamp:  at,
			Actor:      who.label,
		},
	})
}

func newEntry(code, status, action, details string, who actor, scannerID, sessionID string, at time.Time) models.RollTransaction {
	e := models.RollTransaction{
		RollBarcode:  code,
		Status:       status,
		Action:       action,
		Details:      details,
		EmployeeID:   who.employeeID,
		EmployeeName: who.employeeName,
		ScannerID:    scannerID,
		At:           at,
	}
	if sessionID != "" {
		e.SessionID = &sessionID
	}
	return e
}

// checkSession verifies that a transaction may be attached to sessionID.
func checkSession(gormDB *gorm.DB, sessionID string, op Op) error {
	if sessionID == "" {
		return nil
	}
	var sess models.Session
	if err := gormDB.Where("id = ?", sessionID).First(&sess).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("session not found: %s", sessionID)
		}
		return apperr.Internal(err, "roll: get session %s", sessionID)
	}
	if sess.Status != models.SessionActive {
		return apperr.Conflict("session %s is %s", sessionID, sess.Status)
	}
	want := models.StatusIn
	if op == OpStockOut {
		want = models.StatusOut
	}
	if sess.Direction != want {
		return apperr.Validation("session %s is a stock-%s session", sessionID, strings.ToLower(sess.Direction))
	}
	return nil
}

func cleanBarcode(raw string) (string, error) {
	code := strings.TrimSpace(raw)
	if code == "" {
		return "", apperr.Validation("barcode is required")
	}
	if len(code) > 32 {
		return "", apperr.Validation("barcode %q is longer than 32 characters", code)
	}
	return code, nil
}

func observe(typ string, err error) {
	result := "ok"
	if err != nil {
		result = apperr.KindOf(err).String()
	}
	metrics.Transitions.WithLabelValues(typ, result).Inc()
}
