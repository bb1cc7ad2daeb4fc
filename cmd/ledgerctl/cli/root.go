// Package cli implements ledgerctl, the operator command line for the ledger.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/odyssey-erp/ledger/internal/app"
	"github.com/odyssey-erp/ledger/internal/platform/db"
	"github.com/odyssey-erp/ledger/internal/shared"
)

// Connector opens the services a command runs against. The returned func
// releases them.
type Connector func(ctx context.Context, settings *viper.Viper) (*app.Services, func(), error)

// Options customises the command tree, mainly for tests.
type Options struct {
	Stdout  io.Writer
	Stderr  io.Writer
	Connect Connector
	Migrate func(dsn string) error
}

type runtime struct {
	opts     Options
	settings *viper.Viper
}

// NewRootCommand builds the ledgerctl command tree.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Connect == nil {
		opts.Connect = connectPostgres
	}
	if opts.Migrate == nil {
		opts.Migrate = db.Migrate
	}
	rt := &runtime{opts: opts, settings: viper.New()}
	rt.settings.SetDefault("actor", shared.SystemActor)
	rt.settings.SetDefault("currency", "PEN")
	rt.settings.SetDefault("rate_side", "SELL")
	_ = rt.settings.BindEnv("dsn", "PG_DSN")
	_ = rt.settings.BindEnv("actor", "LEDGER_ACTOR")
	_ = rt.settings.BindEnv("currency", "LEDGER_FUNCTIONAL_CURRENCY")
	_ = rt.settings.BindEnv("rate_side", "LEDGER_FX_RATE_SIDE")

	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate the ledger: migrations, chart seeding, periods and exchange rates",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(opts.Stdout)
	root.SetErr(opts.Stderr)
	root.PersistentFlags().String("dsn", "", "PostgreSQL connection string (env PG_DSN)")
	root.PersistentFlags().String("actor", "", "identity recorded on changes (env LEDGER_ACTOR)")
	_ = rt.settings.BindPFlag("dsn", root.PersistentFlags().Lookup("dsn"))
	_ = rt.settings.BindPFlag("actor", root.PersistentFlags().Lookup("actor"))

	root.AddCommand(
		rt.migrateCommand(),
		rt.seedChartCommand(),
		rt.openPeriodCommand(),
		rt.closePeriodCommand(),
		rt.importRatesCommand(),
	)
	return root
}

func (rt *runtime) actor() string {
	if actor := rt.settings.GetString("actor"); actor != "" {
		return actor
	}
	return shared.SystemActor
}

// withServices opens the services, runs fn with the actor in context and
// releases them.
func (rt *runtime) withServices(cmd *cobra.Command, fn func(ctx context.Context, svc *app.Services) error) error {
	ctx := shared.ContextWithActor(cmd.Context(), rt.actor())
	svc, release, err := rt.opts.Connect(ctx, rt.settings)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx, svc)
}

func (rt *runtime) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dsn := rt.settings.GetString("dsn")
			if dsn == "" {
				return errors.New("--dsn or PG_DSN is required")
			}
			if err := rt.opts.Migrate(dsn); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func connectPostgres(ctx context.Context, settings *viper.Viper) (*app.Services, func(), error) {
	dsn := settings.GetString("dsn")
	if dsn == "" {
		return nil, nil, errors.New("--dsn or PG_DSN is required")
	}
	pool, err := db.New(ctx, dsn, db.Options{MaxConns: 2})
	if err != nil {
		return nil, nil, err
	}
	cfg := &app.Config{
		FunctionalCurrency: settings.GetString("currency"),
		FXRateSide:         settings.GetString("rate_side"),
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	svc := app.NewServices(app.Deps{Config: cfg, Logger: logger, Stores: app.PostgresStores(pool)})
	return svc, pool.Close, nil
}
