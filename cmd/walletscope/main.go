package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"walletscope/internal/config"
	"walletscope/internal/storage"
	"walletscope/internal/storage/postgres"
	"walletscope/internal/transferapi"
)

func main() {
	root := &cobra.Command{
		Use:          "walletscope",
		Short:        "Browser wallet vault recovery and address clustering",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("pg-dsn", "", "Postgres DSN")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	extractCmd := &cobra.Command{
		Use:   "extract",
		Short: "Discover wallet extensions, decrypt their vaults, and store the recovered keys",
		RunE:  runExtract,
	}
	extractCmd.Flags().String("metamask-password", "", "password for MetaMask-family vaults")
	extractCmd.Flags().String("phantom-password", "", "password for Phantom-family vaults")
	extractCmd.Flags().String("user-data-dir", "", "scan a single browser user-data directory instead of the defaults")
	extractCmd.Flags().String("browser", "chrome", "browser name used with --user-data-dir")
	extractCmd.Flags().String("profile", "", "retry only this profile (requires --wallet)")
	extractCmd.Flags().String("wallet", "", "retry only this wallet family (metamask or phantom)")
	root.AddCommand(extractCmd)

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Harvest transfer history for all known addresses and rebuild connections",
		RunE:  runScan,
	}
	scanCmd.Flags().StringSlice("chains", nil, "chains to scan (comma-separated)")
	scanCmd.Flags().Int("fanout-ceiling", 10, "max known-address fan-out for indirect evidence")
	scanCmd.Flags().Int("max-retries", 3, "retry bound per address/chain unit")
	scanCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	scanCmd.Flags().Duration("http-timeout", 15*time.Second, "per-request HTTP timeout")
	scanCmd.Flags().Int("requests-per-second", 4, "client-side request pacing")
	scanCmd.Flags().Int("page-size", 100, "transfer page size")
	root.AddCommand(scanCmd)

	clustersCmd := &cobra.Command{
		Use:   "clusters",
		Short: "Print address clusters derived from the current connection set",
		RunE:  runClusters,
	}
	clustersCmd.Flags().String("out", "", "also write the report as JSONL to this path")
	root.AddCommand(clustersCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// loadConfig merges the persistent flags with the command's own flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	return config.Load(cfgFile, cmd.Flags())
}

// openStore returns the Postgres store when a DSN is configured, or an
// in-memory store for dry runs.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.Store, func(), error) {
	if cfg.PgDSN == "" {
		logger.Warn("no pg-dsn configured, results are not persisted across runs")
		return storage.NewMemoryStore(), func() {}, nil
	}

	store, err := postgres.NewStore(ctx, cfg.PgDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, store.Close, nil
}

func newTransferClient(cfg config.Config, logger *zap.Logger) *transferapi.Client {
	endpoints := make(map[string]transferapi.Endpoint, len(cfg.Endpoints))
	for chain, baseURL := range cfg.Endpoints {
		style := transferapi.StyleEtherscan
		if chain == "solana" {
			style = transferapi.StyleSolscan
		}
		endpoints[chain] = transferapi.Endpoint{
			BaseURL: baseURL,
			Style:   style,
			APIKey:  cfg.APIKeys[chain],
		}
	}
	return transferapi.NewClient(transferapi.Config{
		Endpoints:         endpoints,
		RequestsPerSecond: cfg.RequestsPerSecond,
		HTTPTimeout:       cfg.HTTPTimeout,
		PageSize:          cfg.PageSize,
	}, logger)
}
