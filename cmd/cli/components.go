package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/anstrom/certsweep/internal/annotate"
	"github.com/anstrom/certsweep/internal/config"
	"github.com/anstrom/certsweep/internal/db"
	"github.com/anstrom/certsweep/internal/logging"
	"github.com/anstrom/certsweep/internal/metrics"
	"github.com/anstrom/certsweep/internal/probe"
	"github.com/anstrom/certsweep/internal/services"
	"github.com/anstrom/certsweep/internal/sweep"
)

const databaseConnectTimeout = 10 * time.Second

// components is the object graph shared by scan and serve.
type components struct {
	config   *config.Config
	database *db.DB
	service  *services.ScanService
	lookups  int
}

// Close releases the inventory connection, if any.
func (c *components) Close() {
	if c.database == nil {
		return
	}
	if err := c.database.Close(); err != nil {
		logging.Warn("Failed to close inventory database", "error", err)
	}
}

// buildComponents wires prober, orchestrator, lookup chain and scan service.
// Sessions started through the service live as long as ctx. prom and
// registry may be nil.
func buildComponents(
	ctx context.Context,
	cfg *config.Config,
	prom *metrics.PrometheusMetrics,
	registry metrics.MetricsRegistry,
) (*components, error) {
	c := &components{config: cfg}

	var inventory annotate.HardwareSource
	if cfg.Lookup.Inventory {
		connectCtx, cancel := context.WithTimeout(ctx, databaseConnectTimeout)
		database, err := db.Connect(connectCtx, &cfg.Database)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to connect to inventory database: %w", err)
		}
		c.database = database
		inventory = db.NewInventoryRepository(database)
	}

	var lookupRecorder annotate.Recorder
	recorders := metrics.MultiRecorder{}
	if prom != nil {
		lookupRecorder = prom
		recorders = append(recorders, prom)
	}
	if registry != nil {
		recorders = append(recorders, metrics.RegistryRecorder{Registry: registry})
	}

	chain, err := annotate.FromConfig(cfg.Lookup, inventory, lookupRecorder)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.lookups = chain.Len()

	prober := probe.NewTLSProber(probe.Config{
		TCPTimeout: cfg.Scan.TCPTimeout,
		TLSTimeout: cfg.Scan.TLSTimeout,
	})
	orchestrator := sweep.New(prober, sweep.WithRecorder(recorders))

	if chain.Len() > 0 {
		c.service = services.NewScanService(ctx, orchestrator, chain)
	} else {
		c.service = services.NewScanService(ctx, orchestrator, nil)
	}

	return c, nil
}

// bindFlags maps command flags onto config keys so flags, CERTSWEEP_*
// variables and the config file resolve through one viper lookup.
func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for flag, key := range keys {
		if f := flags.Lookup(flag); f != nil {
			_ = viper.BindPFlag(key, f)
		}
	}
}
