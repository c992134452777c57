package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/zulandar/bolttrack/internal/allocator"
	"github.com/zulandar/bolttrack/internal/events"
	"github.com/zulandar/bolttrack/internal/gap"
	"github.com/zulandar/bolttrack/internal/logging"
)

func newBarcodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "barcode",
		Short: "Barcode allocation commands",
	}

	cmd.AddCommand(newBarcodeNextCmd())
	cmd.AddCommand(newBarcodeGenerateCmd())
	cmd.AddCommand(newBarcodeGapsCmd())
	return cmd
}

func newBarcodeNextCmd() *cobra.Command {
	var year int

	cmd := &cobra.Command{
		Use:   "next <size>",
		Short: "Show the last issued and next sequence for a size",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connectFromConfig(cmd)
			if err != nil {
				return err
			}
			seq, err := allocator.NextSequence(e.db, year, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d %s: last %04d, next %04d\n", seq.Year, seq.Size, seq.Last, seq.Next)
			return nil
		},
	}

	cmd.Flags().IntVar(&year, "year", time.Now().Year(), "allocation year")
	return cmd
}

func newBarcodeGenerateCmd() *cobra.Command {
	var (
		year     int
		quantity int
		employee string
	)

	cmd := &cobra.Command{
		Use:   "generate <size>",
		Short: "Allocate a contiguous batch of barcodes",
		Long: `Reserves the next quantity sequence numbers for size and year. Every issued
code is added to the missed-scan ledger until the roll is stocked in.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connectFromConfig(cmd)
			if err != nil {
				return err
			}
			alloc := allocator.New(e.db, events.Discard{}, e.audit(), logging.Component(e.log, "allocator"), e.cfg.Barcode.MaxBatch)
			who := employee
			if who == "" {
				who = actor()
			}
			res, err := alloc.Allocate(cmd.Context(), allocator.Request{
				Year:       year,
				Size:       args[0],
				Quantity:   quantity,
				Actor:      who,
				EmployeeID: employee,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, b := range res.Barcodes {
				fmt.Fprintln(out, b.FullBarcode)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Allocated %d barcodes, last sequence %04d\n", len(res.Barcodes), res.LastSequence)
			return nil
		},
	}

	cmd.Flags().IntVar(&year, "year", time.Now().Year(), "allocation year")
	cmd.Flags().IntVarP(&quantity, "quantity", "n", 1, "number of barcodes to allocate")
	cmd.Flags().StringVar(&employee, "employee", "", "employee ID recorded in the audit log")
	return cmd
}

func newBarcodeGapsCmd() *cobra.Command {
	var (
		year int
		size string
	)

	cmd := &cobra.Command{
		Use:   "gaps",
		Short: "Report sequence gaps among stocked rolls",
		Long:  "Lists codes below the highest stocked sequence that have never been stocked in. Without --size every bucket is scanned.",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connectFromConfig(cmd)
			if err != nil {
				return err
			}

			var buckets []gap.Bucket
			if size != "" {
				buckets = []gap.Bucket{{Year: year, Size: size}}
			} else if buckets, err = gap.Buckets(e.db); err != nil {
				return err
			}

			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Year", "Size", "Max", "Missing", "Codes"})
			total := 0
			for _, b := range buckets {
				r, err := gap.Scan(e.db, b.Year, b.Size)
				if err != nil {
					return err
				}
				total += len(r.Missing)
				t.AppendRow(table.Row{r.Year, r.Size, r.Max, len(r.Missing), truncate(strings.Join(r.Missing, " "), 60)})
			}
			if len(buckets) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No stocked rolls.")
				return nil
			}
			t.AppendFooter(table.Row{"", "", "Total", total, ""})
			t.Render()
			return nil
		},
	}

	cmd.Flags().IntVar(&year, "year", time.Now().Year(), "bucket year (with --size)")
	cmd.Flags().StringVar(&size, "size", "", "limit to one size")
	return cmd
}
