// Package scheduler runs the periodic maintenance jobs: the integrity sweep
// over every barcode bucket and the audit retention prune.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/zulandar/bolttrack/internal/audit"
	"github.com/zulandar/bolttrack/internal/events"
	"github.com/zulandar/bolttrack/internal/gap"
	"github.com/zulandar/bolttrack/internal/logging"
	"github.com/zulandar/bolttrack/internal/metrics"
	"gorm.io/gorm"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextRun returns the duration until expr next fires. Returns 0 on parse
// error.
func NextRun(expr string) time.Duration {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0
	}
	d := time.Until(sched.Next(time.Now()))
	if d < 0 {
		return 0
	}
	return d
}

// Scheduler owns the cron jobs.
type Scheduler struct {
	DB            *gorm.DB
	Events        events.Publisher
	Log           *logrus.Entry
	Schedule      string
	RetentionDays int
}

// New creates a Scheduler.
func New(gormDB *gorm.DB, pub events.Publisher, log *logrus.Entry, schedule string, retentionDays int) *Scheduler {
	if pub == nil {
		pub = events.Discard{}
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Scheduler{DB: gormDB, Events: pub, Log: log, Schedule: schedule, RetentionDays: retentionDays}
}

// Run starts the jobs and blocks until ctx is cancelled. Both jobs share
// the integrity schedule.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(cron.WithParser(cronParser))
	if _, err := c.AddFunc(s.Schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.Log.WithError(err).Error("integrity sweep failed")
		}
		if _, err := s.Prune(ctx, time.Now().UTC()); err != nil {
			s.Log.WithError(err).Error("audit prune failed")
		}
	}); err != nil {
		return fmt.Errorf("scheduler: schedule %q: %w", s.Schedule, err)
	}

	s.Log.WithField("next_in", NextRun(s.Schedule).Round(time.Second).String()).Info("scheduler started")
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// Sweep scans every bucket with stocked rolls for sequence gaps, updates the
// outstanding gauge and publishes an integrity report. It never writes to
// the ledger.
func (s *Scheduler) Sweep(ctx context.Context) (*events.IntegrityReport, error) {
	gormDB := s.DB.WithContext(ctx)
	buckets, err := gap.Buckets(gormDB)
	if err != nil {
		return nil, err
	}

	report := &events.IntegrityReport{Buckets: len(buckets), Gaps: make(map[string]int)}
	for _, b := range buckets {
		r, err := gap.Scan(gormDB, b.Year, b.Size)
		if err != nil {
			return nil, err
		}
		metrics.OutstandingGaps.WithLabelValues(strconv.Itoa(b.Year), b.Size).Set(float64(len(r.Missing)))
		if len(r.Missing) == 0 {
			continue
		}
		report.Gaps[fmt.Sprintf("%02d-%s", b.Year%100, b.Size)] = len(r.Missing)
		s.Log.WithFields(logrus.Fields{
			"year":    b.Year,
			"size":    b.Size,
			"missing": len(r.Missing),
			"max":     r.Max,
		}).Warn("sequence gaps outstanding")
	}

	s.Events.Publish(events.Event{Type: events.TypeIntegrityReport, Data: *report})
	s.Log.WithFields(logrus.Fields{"buckets": report.Buckets, "with_gaps": len(report.Gaps)}).Info("integrity sweep complete")
	return report, nil
}

// Prune deletes audit rows older than the retention window.
func (s *Scheduler) Prune(ctx context.Context, now time.Time) (int64, error) {
	if s.RetentionDays <= 0 {
		return 0, nil
	}
	n, err := audit.Prune(s.DB.WithContext(ctx), now.AddDate(0, 0, -s.RetentionDays))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.Log.WithField("deleted", n).Info("audit log pruned")
	}
	return n, nil
}
