package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/zulandar/bolttrack/internal/size"
)

func newSizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "size",
		Short: "Size registry commands",
	}

	cmd.AddCommand(newSizeListCmd())
	cmd.AddCommand(newSizeAddCmd())
	cmd.AddCommand(newSizeDeleteCmd())
	return cmd
}

func newSizeListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sizes with stock counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connectFromConfig(cmd)
			if err != nil {
				return err
			}
			list, err := size.AllStats(e.db)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sizes registered.")
				return nil
			}
			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Size", "Generated", "In Stock", "Out"})
			for _, s := range list {
				t.AppendRow(table.Row{s.Size, s.Generated, s.InStock, s.OutStock})
			}
			t.Render()
			return nil
		},
	}
}

func newSizeAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <code>",
		Short: "Register a size",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connectFromConfig(cmd)
			if err != nil {
				return err
			}
			s, err := size.Add(e.db, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added size %s\n", s.Code)
			return nil
		},
	}
}

func newSizeDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <code>",
		Short: "Remove a size that has no barcodes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connectFromConfig(cmd)
			if err != nil {
				return err
			}
			if err := size.Delete(e.db, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted size %s\n", args[0])
			return nil
		},
	}
}
