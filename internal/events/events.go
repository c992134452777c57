// Package events fans real-time notifications out to subscribers. Delivery
// is best-effort: publishing never blocks and never fails the caller.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/zulandar/bolttrack/internal/logging"
	"github.com/zulandar/bolttrack/internal/metrics"
)

// Event names sent to clients.
const (
	TypeSequenceUpdate  = "sequence_update"
	TypeStockUpdate     = "stock_update"
	TypeBatchStockOut   = "batch_stock_out"
	TypeSessionUpdate   = "session_update"
	TypeIntegrityReport = "integrity_report"
	TypeLedgerUpdate    = "ledger_update"
)

// Event is one named notification. Origin identifies the process that
// produced it so relays do not echo events back.
type Event struct {
	Type   string    `json:"event"`
	Data   any       `json:"data"`
	At     time.Time `json:"at"`
	Origin string    `json:"origin,omitempty"`
}

// Publisher accepts events for asynchronous delivery.
type Publisher interface {
	Publish(Event)
}

// SequenceUpdate carries the new last-sequence watermark for a bucket.
type SequenceUpdate struct {
	Year         int    `json:"year"`
	Size         string `json:"size"`
	LastSequence int    `json:"last_sequence"`
}

// StockUpdate describes one roll transition.
type StockUpdate struct {
	Type       string    `json:"type"`
	Barcode    string    `json:"barcode"`
	Metre      float64   `json:"metre"`
	Weight     float64   `json:"weight"`
	Percentage float64   `json:"percentage"`
	SessionID  string    `json:"session_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Actor      string    `json:"actor,omitempty"`
}

// BatchStockOut summarizes a batch dispatch.
type BatchStockOut struct {
	Count     int       `json:"count"`
	Barcodes  []string  `json:"barcodes"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor,omitempty"`
}

// LedgerUpdate describes a missed-scan ledger status change.
type LedgerUpdate struct {
	Barcode   string    `json:"barcode"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor,omitempty"`
}

// SessionUpdate describes a session lifecycle change.
type SessionUpdate struct {
	Action    string `json:"action"` // CREATED, UPDATE, ENDED
	SessionID string `json:"session_id"`
	Session   any    `json:"session,omitempty"`
}

// Session lifecycle actions.
const (
	SessionCreated = "CREATED"
	SessionUpdated = "UPDATE"
	SessionEnded   = "ENDED"
)

// IntegrityReport is the result of a scheduled gap sweep.
type IntegrityReport struct {
	Buckets int            `json:"buckets"`
	Gaps    map[string]int `json:"gaps"`
}

// Bus is an in-process fan-out hub. Publish enqueues; Run dispatches to
// subscribers, dropping events for subscribers that are not keeping up.
type Bus struct {
	id    string
	queue chan Event
	log   *logrus.Entry

	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBus creates a bus with the given queue depth.
func NewBus(queueSize int, log *logrus.Entry) *Bus {
	if queueSize <= 0 {
		queueSize = 256
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Bus{
		id:    uuid.NewString(),
		queue: make(chan Event, queueSize),
		log:   log,
		subs:  make(map[int]chan Event),
	}
}

// ID identifies this bus as an event origin.
func (b *Bus) ID() string { return b.id }

// Publish enqueues e. It never blocks; a full queue drops the event.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if e.Origin == "" {
		e.Origin = b.id
	}
	select {
	case b.queue <- e:
	default:
		metrics.BroadcastDropped.WithLabelValues("queue").Inc()
		b.log.WithField("event", e.Type).Warn("broadcast queue full, event dropped")
	}
}

// Subscribe registers a subscriber with the given buffer. The returned
// cancel func unregisters it and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Run dispatches queued events until ctx is cancelled.
func (b *Bus) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-b.queue:
			b.dispatch(e)
		}
	}
}

func (b *Bus) dispatch(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			metrics.BroadcastDropped.WithLabelValues("subscriber").Inc()
		}
	}
}

// Recorder is a Publisher that keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish records e.
func (r *Recorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events with the given type.
func (r *Recorder) OfType(typ string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// Discard is a Publisher that drops everything.
type Discard struct{}

// Publish drops e.
func (Discard) Publish(Event) {}
