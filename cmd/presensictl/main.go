// Command presensictl administers a presensi database from the shell:
// schema migrations, accounts, payroll and the maintenance jobs the server
// otherwise runs on a schedule.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/presensi-qr/internal/config"
	"github.com/iliyamo/presensi-qr/internal/database"
	"github.com/iliyamo/presensi-qr/internal/logger"
	"github.com/iliyamo/presensi-qr/internal/sitetime"
)

var Version = "dev"

func main() {
	config.LoadDotEnv()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries the state shared by every subcommand.  The database is
// opened on first use.
type app struct {
	driver     string
	sqlitePath string
	timeout    time.Duration

	cfg  config.Config
	db   *sql.DB
	zone sitetime.Zone
	log  logger.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "presensictl",
		Short:         "Administer the QR attendance database",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.db != nil {
				return a.db.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.driver, "driver", "", "database driver, mysql or sqlite (default $DB_DRIVER)")
	root.PersistentFlags().StringVar(&a.sqlitePath, "sqlite", "", "SQLite file; implies --driver sqlite (default $SQLITE_PATH)")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 30*time.Second, "deadline for each command")

	root.AddCommand(migrateCmd(a))
	root.AddCommand(userCmd(a))
	root.AddCommand(allowanceCmd(a))
	root.AddCommand(summaryCmd(a))
	root.AddCommand(sweepCmd(a))
	root.AddCommand(qrCmd(a))
	root.AddCommand(scanCmd(a))
	return root
}

func (a *app) load() error {
	cfg, err := config.LoadTooling()
	if err != nil {
		return err
	}
	if a.driver != "" {
		cfg.DBDriver = a.driver
	}
	if a.sqlitePath != "" {
		cfg.DBDriver = config.DriverSQLite
		cfg.SQLitePath = a.sqlitePath
	}
	zone, err := sitetime.New(cfg.Engine.SiteOffset)
	if err != nil {
		return err
	}
	a.cfg, a.zone = cfg, zone
	a.log = logger.New("presensictl", cfg.LogLevel)
	return nil
}

func (a *app) open() (*sql.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	if err := a.cfg.ValidateDB(); err != nil {
		return nil, err
	}
	var err error
	if a.cfg.DBDriver == config.DriverSQLite {
		a.db, err = database.OpenSQLite(a.cfg.SQLitePath)
	} else {
		a.db, err = database.Open(a.cfg.DBUser, a.cfg.DBPass, a.cfg.DBHost, a.cfg.DBPort, a.cfg.DBName)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", a.cfg.DBDriver, err)
	}
	return a.db, nil
}

func (a *app) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), a.timeout)
}

func (a *app) dialect() string {
	if a.cfg.DBDriver == config.DriverSQLite {
		return database.DialectSQLite
	}
	return database.DialectMySQL
}

func migrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.open()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			applied, err := database.Migrate(ctx, db, a.dialect())
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			return nil
		},
	}
}
