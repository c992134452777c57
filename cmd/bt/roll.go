package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/zulandar/bolttrack/internal/events"
	"github.com/zulandar/bolttrack/internal/ledger"
	"github.com/zulandar/bolttrack/internal/logging"
	"github.com/zulandar/bolttrack/internal/roll"
)

func (e *env) rolls() *roll.Service {
	return roll.New(e.db, events.Discard{}, e.audit(), logging.Component(e.log, "roll"))
}

func newRollCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roll",
		Short: "Roll stock commands",
	}

	cmd.AddCommand(newRollShowCmd())
	cmd.AddCommand(newRollInCmd())
	cmd.AddCommand(newRollOutCmd())
	cmd.AddCommand(newRollUpdateCmd())
	cmd.AddCommand(newRollDeleteCmd())
	return cmd
}

func newRollShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <barcode>",
		Short: "Show a roll and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connectFromConfig(cmd)
			if err != nil {
				return err
			}
			r, err := roll.Get(e.db, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Roll:       %s\n", r.Barcode)
			fmt.Fprintf(out, "Status:     %s\n", r.Status)
			fmt.Fprintf(out, "Metre:      %.2f\n", r.Metre)
			fmt.Fprintf(out, "Weight:     %.2f\n", r.Weight)
			fmt.Fprintf(out, "Percentage: %.0f\n", r.Percentage)
			fmt.Fprintf(out, "Updated:    %s\n\n", formatTime(&r.UpdatedAt))

			t := newTable(out)
			t.AppendHeader(table.Row{"#", "At", "Status", "Action", "Employee", "Scanner", "Details"})
			for _, h := range r.History {
				t.AppendRow(table.Row{h.ID, formatTime(&h.At), h.Status, dash(h.Action), dash(h.EmployeeName), dash(h.ScannerID), truncate(dash(h.Details), 50)})
			}
			t.Render()
			return nil
		},
	}
}

type txFlags struct {
	employee string
	scanner  string
	session  string
	metre    float64
	weight   float64
	pct      float64
	details  string
}

func (f *txFlags) identity() roll.Identity {
	return roll.Identity{ScannerID: f.scanner, EmployeeID: f.employee}
}

func newRollInCmd() *cobra.Command {
	var f txFlags

	cmd := &cobra.Command{
		Use:   "in <barcode>",
		Short: "Stock a roll in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connectFromConfig(cmd)
			if err != nil {
				return err
			}
			req := roll.TxRequest{
				Barcode:   args[0],
				Metre:     f.metre,
				Weight:    f.weight,
				SessionID: f.session,
				Details:   f.details,
				Identity:  f.identity(),
			}
			if cmd.Flags().Changed("percentage") {
				req.Percentage = &f.pct
			}
			res, err := e.rolls().StockIn(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s IN (%.2f m, %.2f kg)\n", res.Roll.Barcode, res.Roll.Metre, res.Roll.Weight)
			if res.Warning != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), res.Warning)
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&f.metre, "metre", 0, "roll length in metres")
	cmd.Flags().Float64Var(&f.weight, "weight", 0, "roll weight in kg")
	cmd.Flags().Float64Var(&f.pct, "percentage", roll.DefaultPercentage, "quality percentage")
	cmd.Flags().StringVar(&f.details, "details", "", "free-form note")
	addIdentityFlags(cmd, &f)
	cmd.MarkFlagRequired("metre")
	cmd.MarkFlagRequired("weight")
	return cmd
}

func newRollOutCmd() *cobra.Command {
	var f txFlags

	cmd := &cobra.Command{
		Use:   "out <barcode>...",
		Short: "Stock one or more rolls out",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connectFromConfig(cmd)
			if err != nil {
				return err
			}
			res, err := e.rolls().BatchStockOut(cmd.Context(), roll.BatchRequest{
				Barcodes:  args,
				SessionID: f.session,
				Identity:  f.identity(),
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, code := range res.Success {
				fmt.Fprintf(out, "%s OUT\n", code)
			}
			for _, fail := range res.Failed {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", fail.Barcode, fail.Error)
			}
			if len(res.Failed) > 0 {
				return fmt.Errorf("%d of %d rolls failed", len(res.Failed), len(args))
			}
			return nil
		},
	}

	addIdentityFlags(cmd, &f)
	return cmd
}

func addIdentityFlags(cmd *cobra.Command, f *txFlags) {
	cmd.Flags().StringVar(&f.employee, "employee", "", "employee ID performing the scan")
	cmd.Flags().StringVar(&f.scanner, "scanner", "", "scanner ID performing the scan")
	cmd.Flags().StringVar(&f.session, "session", "", "session ID to record under")
}

func newRollUpdateCmd() *cobra.Command {
	var (
		f      txFlags
		status string
	)

	cmd := &cobra.Command{
		Use:   "update <barcode>",
		Short: "Correct a roll's measurements or status",
		Long:  "Applies an administrative edit. Only the flags given are changed; the edit is recorded in the roll's history.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connectFromConfig(cmd)
			if err != nil {
				return err
			}
			req := roll.UpdateRequest{Status: status, Identity: f.identity()}
			if cmd.Flags().Changed("metre") {
				req.Metre = &f.metre
			}
			if cmd.Flags().Changed("weight") {
				req.Weight = &f.weight
			}
			if cmd.Flags().Changed("percentage") {
				req.Percentage = &f.pct
			}
			res, err := e.rolls().AdminUpdate(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s updated: %s\n", res.Roll.Barcode, res.Entry.Details)
			return nil
		},
	}

	cmd.Flags().Float64Var(&f.metre, "metre", 0, "new length in metres")
	cmd.Flags().Float64Var(&f.weight, "weight", 0, "new weight in kg")
	cmd.Flags().Float64Var(&f.pct, "percentage", 0, "new quality percentage")
	cmd.Flags().StringVar(&status, "status", "", "new status (IN or OUT)")
	cmd.Flags().StringVar(&f.employee, "employee", "", "employee ID making the edit")
	return cmd
}

func newRollDeleteCmd() *cobra.Command {
	var employee string

	cmd := &cobra.Command{
		Use:   "delete <barcode>",
		Short: "Delete a roll and its history",
		Long:  "Removes the roll. If its barcode was issued by the allocator it returns to the missed-scan ledger.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connectFromConfig(cmd)
			if err != nil {
				return err
			}
			reseeded, err := e.rolls().Delete(cmd.Context(), args[0], roll.Identity{EmployeeID: employee})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			if reseeded {
				fmt.Fprintf(cmd.OutOrStdout(), "%s returned to the missing list\n", args[0])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&employee, "employee", "", "employee ID performing the delete")
	return cmd
}

func newMissingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "missing",
		Short: "Missed-scan ledger commands",
	}

	cmd.AddCommand(newMissingListCmd())
	cmd.AddCommand(newMissingDamageCmd())
	return cmd
}

func newMissingListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending ledger entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connectFromConfig(cmd)
			if err != nil {
				return err
			}
			rows, err := ledger.ListPending(e.db, limit)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No missing scans.")
				return nil
			}
			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Barcode", "Size", "Detected"})
			for _, m := range rows {
				t.AppendRow(table.Row{m.Barcode, m.Size, formatTime(&m.DetectedAt)})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows (0 for all)")
	return cmd
}

func newMissingDamageCmd() *cobra.Command {
	var employee string

	cmd := &cobra.Command{
		Use:   "damage <barcode>",
		Short: "Mark a ledger entry as damaged",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connectFromConfig(cmd)
			if err != nil {
				return err
			}
			ident := roll.Identity{EmployeeID: employee}
			if employee == "" {
				ident.ScannerID = actor()
			}
			row, err := e.rolls().MarkDamaged(cmd.Context(), args[0], ident)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s marked %s\n", row.Barcode, row.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&employee, "employee", "", "employee ID recorded in the audit log")
	return cmd
}
