package main

import (
	"encoding/json"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/zulandar/bolttrack/internal/audit"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit log commands",
	}
	cmd.AddCommand(newAuditListCmd())
	return cmd
}

func newAuditListCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show recent audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connectFromConfig(cmd)
			if err != nil {
				return err
			}
			rows, err := audit.List(e.db, limit)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"At", "Action", "Actor", "Details"})
			for _, r := range rows {
				t.AppendRow(table.Row{formatTime(&r.At), r.Action, dash(r.Actor), truncate(r.Details, 60)})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "maximum rows")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}
