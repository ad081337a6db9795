package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"walletscope/internal/discovery"
	"walletscope/internal/extract"
	"walletscope/internal/vault"
)

func runExtract(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	passwords := make(map[vault.Family]string)
	if password, _ := cmd.Flags().GetString("metamask-password"); password != "" {
		passwords[vault.FamilyMetaMask] = password
	}
	if password, _ := cmd.Flags().GetString("phantom-password"); password != "" {
		passwords[vault.FamilyPhantom] = password
	}
	if len(passwords) == 0 {
		return fmt.Errorf("at least one of --metamask-password / --phantom-password is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	targets, err := discoverTargets(cmd)
	if err != nil {
		return err
	}
	logger.Info("discovery complete", zap.Int("targets", len(targets)))

	orchestrator := extract.NewOrchestrator(store, logger)

	profile, _ := cmd.Flags().GetString("profile")
	walletName, _ := cmd.Flags().GetString("wallet")
	var result extract.Result
	if profile != "" || walletName != "" {
		result, err = retryOne(ctx, orchestrator, targets, profile, walletName, passwords)
	} else {
		result, err = orchestrator.Extract(ctx, targets, passwords)
	}
	if err != nil {
		return err
	}

	fmt.Printf("credentials found: %d\n", result.CredentialsFound)
	fmt.Printf("addresses found:   %d\n", result.AddressesFound)
	for _, failure := range result.Failures {
		retryHint := ""
		if failure.WrongPassword {
			retryHint = " (retry with --profile and a corrected password)"
		}
		fmt.Printf("failure: %s %s [%s]: %s%s\n", failure.Profile, failure.Wallet, failure.Stage, failure.Err, retryHint)
	}
	return nil
}

func discoverTargets(cmd *cobra.Command) ([]discovery.Target, error) {
	userDataDir, _ := cmd.Flags().GetString("user-data-dir")
	if userDataDir != "" {
		browser, _ := cmd.Flags().GetString("browser")
		return discovery.DiscoverAt(browser, userDataDir)
	}
	return discovery.Discover()
}

// retryOne narrows the batch to a single (profile, wallet) pair.
func retryOne(
	ctx context.Context,
	orchestrator *extract.Orchestrator,
	targets []discovery.Target,
	profile, walletName string,
	passwords map[vault.Family]string,
) (extract.Result, error) {
	if profile == "" || walletName == "" {
		return extract.Result{}, fmt.Errorf("--profile and --wallet must be used together")
	}
	family := vault.Family(walletName)
	password, ok := passwords[family]
	if !ok {
		return extract.Result{}, fmt.Errorf("no password supplied for wallet family %s", walletName)
	}

	for _, target := range targets {
		if target.ProfileID() == profile && target.Family == family {
			return orchestrator.ExtractOne(ctx, target, password)
		}
	}
	return extract.Result{}, fmt.Errorf("no discovered target matches profile %s wallet %s", profile, walletName)
}
