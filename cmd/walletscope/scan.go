package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"walletscope/internal/scan"
	"walletscope/internal/storage"
)

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	orchestrator := scan.NewOrchestrator(scan.Config{
		Chains:       cfg.Chains,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		FanOut:       scan.DetectorConfig{FanOutCeiling: cfg.FanOutCeiling},
	}, newTransferClient(cfg, logger), store, logger)

	result, err := orchestrator.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("units scanned:   %d\n", result.UnitsScanned)
	fmt.Printf("transfers found: %d\n", result.TransfersFound)
	fmt.Printf("connections:     %d\n", result.Connections)
	fmt.Printf("clusters:        %d\n", result.Clusters)
	for _, unitErr := range result.Errors {
		fmt.Printf("error: %s/%s: %s\n", unitErr.Chain, unitErr.Address, unitErr.Err)
	}
	return nil
}

func runClusters(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	known, err := store.KnownAddresses(ctx)
	if err != nil {
		return err
	}
	connections, err := store.Connections(ctx)
	if err != nil {
		return err
	}

	clusters := scan.BuildClusters(known, connections)
	logger.Info("clusters built", zap.Int("clusters", len(clusters)))

	for i, cluster := range clusters {
		fmt.Printf("cluster %d (%d members, %d connections)\n", i+1, len(cluster.Members), len(cluster.Connections))
		for _, member := range cluster.Members {
			fmt.Printf("  %s [%s]\n", member.Address, member.ChainType)
		}
	}

	if out, _ := cmd.Flags().GetString("out"); out != "" {
		if err := storage.WriteClusterReport(out, clusters); err != nil {
			return err
		}
		fmt.Printf("report written to %s\n", out)
	}
	return nil
}
