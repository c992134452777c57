package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/zulandar/bolttrack/internal/audit"
	"github.com/zulandar/bolttrack/internal/config"
	"github.com/zulandar/bolttrack/internal/db"
	"github.com/zulandar/bolttrack/internal/logging"
	"golang.org/x/term"
	"gorm.io/gorm"
)

// env is what every data command needs: config, store and a logger.
type env struct {
	cfg *config.Config
	db  *gorm.DB
	log *logrus.Logger
}

func configPath(cmd *cobra.Command) string {
	p, _ := cmd.Flags().GetString("config")
	return p
}

func loadConfig(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	path := configPath(cmd)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func connectFromConfig(cmd *cobra.Command) (*env, error) {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, db: gormDB, log: log}, nil
}

// auditSink writes audit entries inline. One-shot commands exit before an
// async writer would drain.
type auditSink struct {
	db  *gorm.DB
	log *logrus.Entry
}

func (s auditSink) Record(e audit.Entry) {
	if err := audit.Write(s.db, e); err != nil {
		s.log.WithError(err).Warn("audit write failed")
	}
}

func (e *env) audit() audit.Sink {
	return auditSink{db: e.db, log: logging.Component(e.log, "audit")}
}

// actor is the label recorded for CLI operations.
func actor() string {
	if u := os.Getenv("USER"); u != "" {
		return "cli:" + u
	}
	return audit.DefaultActor
}

// newTable returns a table writer sized to the terminal when out is one.
func newTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	if f, ok := out.(*os.File); ok {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			t.SetAllowedRowLength(width)
		}
	}
	return t
}

func isTerminal(in io.Reader) bool {
	f, ok := in.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
