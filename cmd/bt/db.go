package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/bolttrack/internal/config"
	"github.com/zulandar/bolttrack/internal/db"
	"gorm.io/gorm"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	cmd.AddCommand(newDBResetCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the bolttrack database",
		Long:  "Creates the database when using MySQL, migrates all tables and seeds the configured sizes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Loaded config for site %q from %s\n", cfg.Site, configPath(cmd))
			if err := initDatabase(cmd, cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "\nBolttrack database initialized successfully.")
			return nil
		},
	}
}

func initDatabase(cmd *cobra.Command, cfg *config.Config) error {
	out := cmd.OutOrStdout()

	if cfg.Database.Driver == "mysql" {
		adminDB, err := db.ConnectAdmin(cfg.Database)
		if err != nil {
			return err
		}
		if err := db.CreateDatabase(adminDB, cfg.Database.Name); err != nil {
			return err
		}
		fmt.Fprintf(out, "Database %s ready\n", cfg.Database.Name)
	}

	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		return err
	}
	return migrateAndSeed(cmd, gormDB, cfg)
}

func migrateAndSeed(cmd *cobra.Command, gormDB *gorm.DB, cfg *config.Config) error {
	out := cmd.OutOrStdout()
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))

	if err := db.SeedSizes(gormDB, cfg.Barcode.Sizes); err != nil {
		return err
	}
	if len(cfg.Barcode.Sizes) > 0 {
		fmt.Fprintf(out, "Seeded %d sizes: %s\n", len(cfg.Barcode.Sizes), strings.Join(cfg.Barcode.Sizes, " "))
	}
	return nil
}

func newDBResetCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop and re-initialize the bolttrack database",
		Long: `Drops the bolttrack database (or removes the SQLite file) and re-initializes
it from config. All rolls, history and ledger entries are lost.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBReset(cmd, yes)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompt")
	return cmd
}

func runDBReset(cmd *cobra.Command, skipConfirm bool) error {
	out := cmd.OutOrStdout()
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	target := cfg.Database.Name
	if cfg.Database.Driver == "sqlite" {
		target = cfg.Database.Path
	}

	if !skipConfirm {
		if !isTerminal(cmd.InOrStdin()) && cmd.InOrStdin() == os.Stdin {
			return errors.New("refusing to reset without --yes on non-interactive input")
		}
		if !confirmReset(cmd, target) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	switch cfg.Database.Driver {
	case "mysql":
		adminDB, err := db.ConnectAdmin(cfg.Database)
		if err != nil {
			return err
		}
		if err := db.DropDatabase(adminDB, target); err != nil {
			return err
		}
	default:
		if target != ":memory:" {
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove %s: %w", target, err)
			}
		}
	}
	fmt.Fprintf(out, "Dropped database %s\n", target)

	if err := initDatabase(cmd, cfg); err != nil {
		return err
	}
	fmt.Fprintln(out, "\nBolttrack database reset and re-initialized successfully.")
	return nil
}

func confirmReset(cmd *cobra.Command, name string) bool {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "WARNING: This will permanently delete all data in database %q.\n", name)
	fmt.Fprintln(out, "This action cannot be undone.")
	fmt.Fprintln(out)
	fmt.Fprint(out, "Type \"yes\" to confirm: ")

	scanner := bufio.NewScanner(cmd.InOrStdin())
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()) == "yes"
	}
	return false
}
