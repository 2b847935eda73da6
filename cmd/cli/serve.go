package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/anstrom/certsweep/internal/api"
	apihandlers "github.com/anstrom/certsweep/internal/api/handlers"
	"github.com/anstrom/certsweep/internal/config"
	"github.com/anstrom/certsweep/internal/logging"
	"github.com/anstrom/certsweep/internal/metrics"
	"github.com/anstrom/certsweep/internal/scheduler"
)

const systemMetricsInterval = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and the sweep schedule",
	Long: `Serve the REST and websocket API (api.enabled) and run the recurring
sweep (schedule.enabled) until interrupted. A running sweep is cancelled on
shutdown.`,
	Example: `  certsweep serve
  certsweep serve --host 0.0.0.0 --port 9090
  CERTSWEEP_API_PORT=9090 certsweep serve --config /etc/certsweep.yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runServe(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	flags := serveCmd.Flags()
	flags.String("host", "", "API listen host")
	flags.Int("port", 0, "API listen port")

	bindFlags(flags, map[string]string{
		"host": "api.host",
		"port": "api.port",
	})
}

// runServe blocks until ctx is done or a component fails.
func runServe(ctx context.Context, cfg *config.Config) error {
	if !cfg.API.Enabled && !cfg.Schedule.Enabled {
		return fmt.Errorf("nothing to serve: enable api or schedule in the configuration")
	}

	logger := logging.Default().WithComponent("serve")
	prom := metrics.GetGlobalMetrics()
	registry := metrics.NewRegistry()

	c, err := buildComponents(ctx, cfg, prom, registry)
	if err != nil {
		return err
	}
	defer c.Close()

	var server *api.Server
	if cfg.API.Enabled {
		var pinger apihandlers.DatabasePinger
		if c.database != nil {
			pinger = c.database
		}
		if server, err = api.New(cfg, c.service, prom, registry, pinger); err != nil {
			return err
		}
	}

	var sched *scheduler.Scheduler
	if cfg.Schedule.Enabled {
		if sched, err = scheduler.NewScheduler(cfg.Schedule, c.service, registry); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		prom.StartPeriodicUpdates(gctx, systemMetricsInterval)
		return nil
	})
	if server != nil {
		g.Go(func() error { return server.Start(gctx) })
	}
	if sched != nil {
		g.Go(func() error { return sched.Run(gctx) })
	}

	logger.Info("certsweep serving",
		"api", cfg.API.Enabled,
		"schedule", cfg.Schedule.Enabled,
		"lookup_sources", c.lookups,
		"version", version)

	err = g.Wait()
	if c.service.Cancel() {
		logger.Info("Cancelled running sweep on shutdown")
	}
	return err
}
