package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/bolttrack/internal/api"
	"github.com/zulandar/bolttrack/internal/audit"
	"github.com/zulandar/bolttrack/internal/db"
	"github.com/zulandar/bolttrack/internal/events"
	"github.com/zulandar/bolttrack/internal/logging"
	"github.com/zulandar/bolttrack/internal/scheduler"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, event streams and scheduled jobs",
		Long: `Starts the scanner and desktop HTTP API with its SSE and WebSocket streams,
the nightly integrity sweep and audit prune, and, when broadcast.redis_addr is
set, the Redis relay that shares events between sites.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, port)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, port int) error {
	e, err := connectFromConfig(cmd)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(e.db); err != nil {
		return err
	}
	if err := db.SeedSizes(e.db, e.cfg.Barcode.Sizes); err != nil {
		return err
	}
	if port == 0 {
		port = e.cfg.Server.Port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus(e.cfg.Broadcast.QueueSize, logging.Component(e.log, "events"))
	writer := audit.NewWriter(e.db, e.cfg.Broadcast.QueueSize, logging.Component(e.log, "audit"))
	sched := scheduler.New(e.db, bus, logging.Component(e.log, "scheduler"), e.cfg.Integrity.Schedule, e.cfg.Audit.RetentionDays)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bus.Run(ctx) })
	g.Go(func() error { return writer.Run(ctx) })
	g.Go(func() error { return sched.Run(ctx) })

	if addr := e.cfg.Broadcast.RedisAddr; addr != "" {
		client, err := events.Dial(ctx, addr)
		if err != nil {
			return err
		}
		defer client.Close()
		relay := events.NewRedisRelay(client, e.cfg.Broadcast.RedisChannel, bus, logging.Component(e.log, "relay"))
		g.Go(func() error { return relay.Run(ctx) })
	}

	g.Go(func() error {
		return api.Start(ctx, api.StartOpts{
			Options: api.Options{
				DB:         e.db,
				Bus:        bus,
				Audit:      writer,
				Log:        logging.Component(e.log, "api"),
				MaxBatch:   e.cfg.Barcode.MaxBatch,
				StaleAfter: e.cfg.Server.ScannerStaleAfter,
			},
			Port: port,
		})
	})

	fmt.Fprintf(cmd.OutOrStdout(), "bolttrack %s serving site %q on :%d\n", Version, e.cfg.Site, port)
	return g.Wait()
}
