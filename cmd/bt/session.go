package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/zulandar/bolttrack/internal/events"
	"github.com/zulandar/bolttrack/internal/logging"
	"github.com/zulandar/bolttrack/internal/session"
)

func (e *env) sessions() *session.Service {
	return session.New(e.db, events.Discard{}, e.audit(), logging.Component(e.log, "session"))
}

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Stock session commands",
	}

	cmd.AddCommand(newSessionCreateCmd())
	cmd.AddCommand(newSessionListCmd())
	cmd.AddCommand(newSessionJoinCmd())
	cmd.AddCommand(newSessionPreviewCmd())
	cmd.AddCommand(newSessionEndCmd())
	cmd.AddCommand(newSessionSummaryCmd())
	return cmd
}

func newSessionCreateCmd() *cobra.Command {
	var (
		createdBy string
		scanner   string
	)

	cmd := &cobra.Command{
		Use:   "create <IN|OUT> <size>",
		Short: "Open a stock-in or stock-out session for a size",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connectFromConfig(cmd)
			if err != nil {
				return err
			}
			if createdBy == "" {
				createdBy = actor()
			}
			sess, err := e.sessions().Create(cmd.Context(), session.CreateOpts{
				Direction:  args[0],
				TargetSize: args[1],
				CreatedBy:  createdBy,
				ScannerID:  scanner,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s session %s for size %s\n", sess.Direction, sess.ID, sess.TargetSize)
			return nil
		},
	}

	cmd.Flags().StringVar(&createdBy, "created-by", "", "who opened the session")
	cmd.Flags().StringVar(&scanner, "scanner", "", "scanner that joins the session on creation")
	return cmd
}

func newSessionListCmd() *cobra.Command {
	var (
		history bool
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active sessions, or completed ones with --history",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connectFromConfig(cmd)
			if err != nil {
				return err
			}
			t := newTable(cmd.OutOrStdout())
			if history {
				list, err := session.History(e.db, limit)
				if err != nil {
					return err
				}
				t.AppendHeader(table.Row{"ID", "Type", "Size", "Created By", "Created", "Ended"})
				for _, s := range list {
					t.AppendRow(table.Row{s.ID, s.Direction, s.TargetSize, dash(s.CreatedBy), formatTime(&s.CreatedAt), formatTime(s.EndedAt)})
				}
				t.Render()
				return nil
			}

			list, err := session.ListActive(e.db, e.cfg.Server.ScannerStaleAfter, time.Now().UTC())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No active sessions.")
				return nil
			}
			t.AppendHeader(table.Row{"ID", "Type", "Size", "Scanned", "Scanners", "Live", "Created"})
			for _, a := range list {
				t.AppendRow(table.Row{a.ID, a.Direction, a.TargetSize, a.Scanned, len(a.Scanners), a.LiveScanners, formatTime(&a.CreatedAt)})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().BoolVar(&history, "history", false, "show completed sessions")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows with --history")
	return cmd
}

func newSessionJoinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join <session-id> <scanner-id>",
		Short: "Add a scanner to an active session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connectFromConfig(cmd)
			if err != nil {
				return err
			}
			sess, err := e.sessions().Join(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s has %d scanners\n", sess.ID, len(sess.Scanners))
			return nil
		},
	}
}

func newSessionPreviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preview <session-id>",
		Short: "Show a session's items and running totals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connectFromConfig(cmd)
			if err != nil {
				return err
			}
			p, err := session.BuildPreview(e.db, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printSessionHeader(out, p.Session.ID, p.Session.Direction, p.Session.TargetSize, p.Session.Status)
			printItems(out, p.Items, p.Totals)
			return nil
		},
	}
}

func newSessionEndCmd() *cobra.Command {
	var stamp bool

	cmd := &cobra.Command{
		Use:   "end <session-id>",
		Short: "Complete an active session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connectFromConfig(cmd)
			if err != nil {
				return err
			}
			sess, err := e.sessions().End(cmd.Context(), args[0], session.EndOpts{StampTotals: stamp, Actor: actor()})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s %s at %s\n", sess.ID, sess.Status, formatTime(sess.EndedAt))
			return nil
		},
	}

	cmd.Flags().BoolVar(&stamp, "stamp-totals", false, "record the completion totals on the session")
	return cmd
}

func newSessionSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary <session-id>",
		Short: "Summarize a session by employee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connectFromConfig(cmd)
			if err != nil {
				return err
			}
			s, err := session.BuildSummary(e.db, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printSessionHeader(out, s.Session.ID, s.Session.Direction, s.Session.TargetSize, s.Session.Status)

			t := newTable(out)
			t.AppendHeader(table.Row{"Employee", "Rolls", "Metre", "Weight"})
			for _, a := range s.ByEmployee {
				t.AppendRow(table.Row{a.Name, a.Count, a.Metre.StringFixed(2), a.Weight.StringFixed(2)})
			}
			t.AppendFooter(table.Row{"Total", s.Count, s.Metre.StringFixed(2), s.Weight.StringFixed(2)})
			t.Render()
			return nil
		},
	}
}

func printSessionHeader(out io.Writer, id, direction, size, status string) {
	fmt.Fprintf(out, "Session: %s\n", id)
	fmt.Fprintf(out, "Type:    %s\n", direction)
	fmt.Fprintf(out, "Size:    %s\n", size)
	fmt.Fprintf(out, "Status:  %s\n\n", status)
}

func printItems(out io.Writer, items []session.Item, totals session.Totals) {
	t := newTable(out)
	t.AppendHeader(table.Row{"Barcode", "Status", "Metre", "Weight", "%", "Employee", "Scanned"})
	for _, it := range items {
		t.AppendRow(table.Row{it.Barcode, it.Status, fmt.Sprintf("%.2f", it.Metre), fmt.Sprintf("%.2f", it.Weight), fmt.Sprintf("%.0f", it.Percentage), dash(it.EmployeeName), formatTime(&it.ScannedAt)})
	}
	t.AppendFooter(table.Row{"Total", totals.Count, totals.Metre.StringFixed(2), totals.Weight.StringFixed(2), "", "", ""})
	t.Render()
}
