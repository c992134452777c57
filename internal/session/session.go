// Package session groups roll transactions into operator sessions.
//
// A session never stores the list of rolls scanned under it. Membership is
// derived from RollTransaction.SessionID, and every total is recomputed from
// history on each call.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/zulandar/bolttrack/internal/apperr"
	"github.com/zulandar/bolttrack/internal/audit"
	"github.com/zulandar/bolttrack/internal/barcode"
	"github.com/zulandar/bolttrack/internal/events"
	"github.com/zulandar/bolttrack/internal/logging"
	"github.com/zulandar/bolttrack/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service runs session lifecycle operations.
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

// CreateOpts holds parameters for opening a session.
type CreateOpts struct {
	Direction  string
	TargetSize string
	CreatedBy  string
	ScannerID  string
	IPAddress  string
}

// Create opens a new ACTIVE session. Any number of sessions may be active,
// including several for the same direction and size.
func (s *Service) Create(ctx context.Context, opts CreateOpts) (*models.Session, error) {
	dir := strings.ToUpper(strings.TrimSpace(opts.Direction))
	if dir != models.StatusIn && dir != models.StatusOut {
		return nil, apperr.Validation("session type must be IN or OUT, got %q", opts.Direction)
	}
	if !barcode.ValidSize(opts.TargetSize) {
		return nil, apperr.Validation("invalid target size %q", opts.TargetSize)
	}

	sess := models.Session{
		ID:         uuid.NewString(),
		Direction:  dir,
		TargetSize: opts.TargetSize,
		Status:     models.SessionActive,
		CreatedBy:  opts.CreatedBy,
	}
	gormDB := s.DB.WithContext(ctx)
	if err := gormDB.Create(&sess).Error; err != nil {
		return nil, apperr.Internal(err, "session: create")
	}
	if opts.ScannerID != "" {
		if _, err := AddScanner(gormDB, sess.ID, opts.ScannerID); err != nil {
			s.Log.WithError(err).WithField("session", sess.ID).Warn("creator scanner join failed")
		}
	}

	s.Events.Publish(events.Event{
		Type: events.TypeSessionUpdate,
		Data: events.SessionUpdate{Action: events.SessionCreated, SessionID: sess.ID, Session: sess},
	})
	s.Audit.Record(audit.Entry{
		Action:    audit.ActionSessionCreate,
		Actor:     opts.CreatedBy,
		IPAddress: opts.IPAddress,
		Details:   map[string]any{"session_id": sess.ID, "type": dir, "target_size": opts.TargetSize},
	})
	s.Log.WithFields(logrus.Fields{"session": sess.ID, "type": dir, "size": opts.TargetSize}).Info("session created")
	return &sess, nil
}

// Get returns a session with its scanners.
func Get(gormDB *gorm.DB, id string) (*models.Session, error) {
	var sess models.Session
	err := gormDB.Preload("Scanners", func(db *gorm.DB) *gorm.DB {
		return db.Order("joined_at ASC")
	}).Where("id = ?", id).First(&sess).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("session not found: %s", id)
		}
		return nil, apperr.Internal(err, "session: get %s", id)
	}
	return &sess, nil
}

// AddScanner adds scannerID to the session's participant set. It reports
// whether the scanner was newly added.
func AddScanner(gormDB *gorm.DB, sessionID, scannerID string) (bool, error) {
	row := models.SessionScanner{SessionID: sessionID, ScannerID: scannerID, JoinedAt: time.Now().UTC()}
	result := gormDB.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if result.Error != nil {
		return false, fmt.Errorf("session: add scanner %s to %s: %w", scannerID, sessionID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// FirstScanner returns the earliest scanner to join the session, or "".
func FirstScanner(gormDB *gorm.DB, sessionID string) (string, error) {
	var ids []string
	err := gormDB.Model(&models.SessionScanner{}).Where("session_id = ?", sessionID).
		Order("joined_at ASC").Limit(1).Pluck("scanner_id", &ids).Error
	if err != nil {
		return "", fmt.Errorf("session: first scanner of %s: %w", sessionID, err)
	}
	if len(ids) == 0 {
		return "", nil
	}
	return ids[0], nil
}

// Join idempotently adds scannerID to an ACTIVE session.
func (s *Service) Join(ctx context.Context, id, scannerID string) (*models.Session, error) {
	if strings.TrimSpace(scannerID) == "" {
		return nil, apperr.Validation("scanner id is required to join a session")
	}
	gormDB := s.DB.WithContext(ctx)
	sess, err := Get(gormDB, id)
	if err != nil {
		return nil, err
	}
	if sess.Status != models.SessionActive {
		return nil, apperr.Conflict("session %s is %s", id, sess.Status)
	}
	added, err := AddScanner(gormDB, id, scannerID)
	if err != nil {
		return nil, apperr.Internal(err, "session: join %s", id)
	}
	if !added {
		return sess, nil
	}
	sess, err = Get(gormDB, id)
	if err != nil {
		return nil, err
	}
	s.Events.Publish(events.Event{
		Type: events.TypeSessionUpdate,
		Data: events.SessionUpdate{Action: events.SessionUpdated, SessionID: id, Session: sess},
	})
	return sess, nil
}

// EndOpts holds parameters for ending a session.
type EndOpts struct {
	// StampTotals stores the computed totals on the session row as a
	// snapshot. Summaries never read the snapshot back.
	StampTotals bool
	Actor       string
	IPAddress   string
}

// End moves an ACTIVE session to COMPLETED.
func (s *Service) End(ctx context.Context, id string, opts EndOpts) (*models.Session, error) {
	gormDB := s.DB.WithContext(ctx)
	now := time.Now().UTC()

	err := gormDB.Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{"status": models.SessionCompleted, "ended_at": now}
		if opts.StampTotals {
			t, err := totals(tx, id)
			if err != nil {
				return apperr.Internal(err, "session: totals for %s", id)
			}
			updates["total_count"] = t.Count
			updates["total_metre"] = t.Metre
			updates["total_weight"] = t.Weight
		}
		result := tx.Model(&models.Session{}).
			Where("id = ? AND status = ?", id, models.SessionActive).
			Updates(updates)
		if result.Error != nil {
			return apperr.Internal(result.Error, "session: end %s", id)
		}
		if result.RowsAffected > 0 {
			return nil
		}
		if _, err := Get(tx, id); err != nil {
			return err
		}
		return apperr.Conflict("session %s is already completed", id)
	})
	if err != nil {
		return nil, err
	}

	sess, err := Get(gormDB, id)
	if err != nil {
		return nil, err
	}
	s.Events.Publish(events.Event{
		Type: events.TypeSessionUpdate,
		Data: events.SessionUpdate{Action: events.SessionEnded, SessionID: id, Session: sess},
	})
	s.Audit.Record(audit.Entry{
		Action:    audit.ActionSessionEnd,
		Actor:     opts.Actor,
		IPAddress: opts.IPAddress,
		Details:   map[string]any{"session_id": id, "stamp_totals": opts.StampTotals},
	})
	s.Log.WithField("session", id).Info("session ended")
	return sess, nil
}
