// Package cli implements the certsweep command line: one-shot sweeps, range
// previews, the API server and API key generation.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/certsweep/internal/config"
	"github.com/anstrom/certsweep/internal/logging"
)

const envPrefix = "CERTSWEEP"

var (
	cfgFile string
	verbose bool
)

// Build information, set by main from ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "certsweep",
	Short: "Find HTTPS endpoints with untrusted certificates",
	Long: `certsweep probes every address of a small IPv4 range on one port and
reports the hosts that accept a TCP connection but fail TLS validation
against the system trust store. Such hosts typically run embedded web
servers with self-signed certificates.`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./certsweep.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	if err := viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind verbose flag: %v\n", err)
	}
}

// initConfig locates the config file and enables CERTSWEEP_* overrides such
// as CERTSWEEP_SCAN_PORT.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("certsweep")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig reads the YAML config and applies flag and environment
// overrides bound in viper.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = viper.ConfigFileUsed()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	applyOverrides(cfg, viper.GetViper())
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	initLogging(cfg)
	return cfg, nil
}

// applyOverrides copies every key v knows about onto cfg. Keys come from
// bound flags, CERTSWEEP_* variables or the config file itself.
func applyOverrides(cfg *config.Config, v *viper.Viper) {
	if v.IsSet("scan.port") {
		cfg.Scan.Port = v.GetString("scan.port")
	}
	if v.IsSet("scan.concurrency") {
		cfg.Scan.Concurrency = v.GetInt("scan.concurrency")
	}
	if v.IsSet("scan.tcp_timeout") {
		cfg.Scan.TCPTimeout = v.GetDuration("scan.tcp_timeout")
	}
	if v.IsSet("scan.tls_timeout") {
		cfg.Scan.TLSTimeout = v.GetDuration("scan.tls_timeout")
	}

	if v.IsSet("lookup.file") {
		cfg.Lookup.File = v.GetString("lookup.file")
	}
	if v.IsSet("lookup.reverse_dns") {
		cfg.Lookup.ReverseDNS = v.GetBool("lookup.reverse_dns")
	}
	if v.IsSet("lookup.dns_server") {
		cfg.Lookup.DNSServer = v.GetString("lookup.dns_server")
	}
	if v.IsSet("lookup.inventory") {
		cfg.Lookup.Inventory = v.GetBool("lookup.inventory")
	}

	if v.IsSet("api.host") {
		cfg.API.Host = v.GetString("api.host")
	}
	if v.IsSet("api.port") {
		cfg.API.Port = v.GetInt("api.port")
	}

	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}

	if v.IsSet("logging.level") {
		cfg.Logging.Level = logging.LogLevel(v.GetString("logging.level"))
	}
	if v.GetBool("verbose") {
		cfg.Logging.Level = logging.LevelDebug
	}
}

func initLogging(cfg *config.Config) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
		logger = logging.NewDefault()
	}
	logging.SetDefault(logger)
}

func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}
