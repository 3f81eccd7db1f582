// Package cli wires the cobra command tree: the HTTP server plus one-shot
// scan, plan, compare, cycle and seed commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/config"
	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/db"
	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/engine"
	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/esi"
	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/logger"
	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/metrics"
	"github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/report"
)

const defaultConfigFile = "config.yaml"

// app is the state shared by every command once the root pre-run has loaded
// the config.
type app struct {
	version    string
	configPath string

	cfg *config.Config
	db  *db.DB
	esi *esi.Client
	out *report.Printer
}

// NewRootCommand creates the root command.
func NewRootCommand(version string) *cobra.Command {
	a := &app{version: version}

	rootCmd := &cobra.Command{
		Use:   "eve-trade",
		Short: "Cross-region trade planner for EVE Online hubs",
		Long: `eve-trade finds price spreads between the main trade hubs, splits capital
across destination hubs and packs shipments under cargo and budget limits.

Examples:
  eve-trade seed --file seed.yaml --history
  eve-trade scan --source jita --dest amarr --limit 20
  eve-trade plan --capital 2000000000 --strategy hybrid
  eve-trade compare --source jita --dest dodixie --budget 500000000
  eve-trade cycles advance <cycle-id>
  eve-trade serve`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.out = report.NewWriter(cmd.OutOrStdout())
			return a.load()
		},
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("EVE_CONFIG"),
		"Path to the YAML config (default config.yaml when present)")

	rootCmd.AddCommand(newServeCommand(a))
	rootCmd.AddCommand(newScanCommand(a))
	rootCmd.AddCommand(newCompareCommand(a))
	rootCmd.AddCommand(newPlanCommand(a))
	rootCmd.AddCommand(newCyclesCommand(a))
	rootCmd.AddCommand(newSeedCommand(a))

	return rootCmd
}

// Execute runs the root command until it finishes or the process is interrupted.
func Execute(version string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand(version).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func (a *app) load() error {
	path := a.configPath
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	a.cfg = cfg

	// Tables go to stdout, so logs go to stderr.
	logger.Setup(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if !cfg.Metrics.Enabled {
		metrics.Disable()
		return nil
	}
	if err := metrics.Init(); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}

// open connects the database and the ESI client and mirrors the configured
// hubs into the hub directory. Callers defer close.
func (a *app) open(ctx context.Context) error {
	database, err := db.Open(a.cfg.Database.Path)
	if err != nil {
		return err
	}
	if err := database.SetHubs(ctx, a.cfg.HubDefinitions()); err != nil {
		database.Close()
		return fmt.Errorf("sync hubs: %w", err)
	}
	a.db = database
	a.esi = esi.NewClient(a.cfg.ESIOptions())
	return nil
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
		a.db = nil
	}
}

func (a *app) analyzer() *engine.Analyzer {
	return engine.NewAnalyzer(a.cfg.EngineSettings(), a.db.Collaborators(a.esi))
}

func (a *app) registry() *engine.Registry {
	return engine.DefaultRegistry(a.cfg.EngineSettings())
}

// explain turns the sentinel errors users can fix into actionable messages.
func explain(err error) error {
	switch {
	case errors.Is(err, engine.ErrUnknownHub):
		return fmt.Errorf("%w (configured hubs are listed under hubs: in the config)", err)
	case errors.Is(err, engine.ErrUnknownStrategy):
		return fmt.Errorf("%w (use greedy, optimal or hybrid)", err)
	case errors.Is(err, engine.ErrSnapshotUnavailable):
		return fmt.Errorf("%w (ESI may be down, try again later)", err)
	}
	return err
}
