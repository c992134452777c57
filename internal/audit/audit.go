// Package audit records who changed what. Recording is asynchronous and
// best-effort; a failed write never fails the mutation being audited.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zulandar/bolttrack/internal/logging"
	"github.com/zulandar/bolttrack/internal/metrics"
	"github.com/zulandar/bolttrack/internal/models"
	"gorm.io/gorm"
)

// Action tags.
const (
	ActionBarcodeGenerate = "BARCODE_GENERATE"
	ActionStockIn         = "STOCK_IN"
	ActionStockOut        = "STOCK_OUT"
	ActionDelete          = "DELETE"
	ActionMarkDamaged     = "MARK_DAMAGED"
	ActionInventoryEdit   = "INVENTORY_EDIT"
	ActionSessionCreate   = "SESSION_CREATE"
	ActionSessionEnd      = "SESSION_END"
)

// DefaultActor labels mutations with no identified operator.
const DefaultActor = "System"

// Entry is one audit record before persistence.
type Entry struct {
	Action     string
	Actor      string
	EmployeeID string
	Details    map[string]any
	IPAddress  string
	At         time.Time
}

// Sink accepts audit entries. Record must not block.
type Sink interface {
	Record(Entry)
}

// Writer persists entries from a queue in the background.
type Writer struct {
	db    *gorm.DB
	queue chan Entry
	log   *logrus.Entry
}

// NewWriter creates a Writer with the given queue depth.
func NewWriter(db *gorm.DB, queueSize int, log *logrus.Entry) *Writer {
	if queueSize <= 0 {
		queueSize = 256
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Writer{db: db, queue: make(chan Entry, queueSize), log: log}
}

// Record enqueues e, dropping it when the queue is full.
func (w *Writer) Record(e Entry) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	select {
	case w.queue <- e:
	default:
		metrics.AuditDropped.Inc()
		w.log.WithField("action", e.Action).Warn("audit queue full, entry dropped")
	}
}

// Run persists queued entries until ctx is cancelled, then drains what is
// left in the queue.
func (w *Writer) Run(ctx context.Context) error {
	for {
		select {
		case e := <-w.queue:
			w.persist(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-w.queue:
					w.persist(e)
				default:
					return nil
				}
			}
		}
	}
}

func (w *Writer) persist(e Entry) {
	if err := Write(w.db, e); err != nil {
		metrics.AuditDropped.Inc()
		w.log.WithError(err).WithField("action", e.Action).Error("audit write failed")
	}
}

// Write persists e synchronously.
func Write(db *gorm.DB, e Entry) error {
	details := "{}"
	if len(e.Details) > 0 {
		data, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("audit: marshal details: %w", err)
		}
		details = string(data)
	}
	actor := e.Actor
	if actor == "" {
		actor = DefaultActor
	}
	at := e.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	row := models.AuditLog{
		Action:     e.Action,
		Actor:      actor,
		EmployeeID: e.EmployeeID,
		Details:    details,
		IPAddress:  e.IPAddress,
		At:         at,
	}
	if err := db.Create(&row).Error; err != nil {
		return fmt.Errorf("audit: write %s: %w", e.Action, err)
	}
	return nil
}

// List returns the newest audit rows, at most limit.
func List(db *gorm.DB, limit int) ([]models.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.AuditLog
	if err := db.Order("at DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	return rows, nil
}

// Prune deletes audit rows older than cutoff and returns how many went.
func Prune(db *gorm.DB, cutoff time.Time) (int64, error) {
	result := db.Where("at < ?", cutoff).Delete(&models.AuditLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("audit: prune: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Memory is a Sink that keeps entries in memory.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

// Record keeps e.
func (m *Memory) Record(e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
}

// Entries returns a copy of the recorded entries.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Count returns how many entries carry action.
func (m *Memory) Count(action string) int {
	n := 0
	for _, e := range m.Entries() {
		if e.Action == action {
			n++
		}
	}
	return n
}
