package extract

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"walletscope/internal/discovery"
	"walletscope/internal/kvstore"
	"walletscope/internal/model"
	"walletscope/internal/storage"
	"walletscope/internal/vault"
)

// Stage names the step of the per-item pipeline a failure occurred in.
type Stage string

const (
	StageLocate  Stage = "locate"
	StageDecrypt Stage = "decrypt"
	StageExtract Stage = "extract"
	StagePersist Stage = "persist"
)

// Failure is one per-target error. Wrong-password failures are retryable
// via ExtractOne with a corrected password.
type Failure struct {
	Profile       string `json:"profile"`
	Wallet        string `json:"wallet_name"`
	Stage         Stage  `json:"stage"`
	Err           string `json:"error"`
	WrongPassword bool   `json:"wrong_password"`
}

// Result aggregates a batch run. Per-target failures never abort the
// batch.
type Result struct {
	CredentialsFound int       `json:"credentials_found"`
	AddressesFound   int       `json:"addresses_found"`
	Failures         []Failure `json:"errors"`
}

func (r *Result) merge(other Result) {
	r.CredentialsFound += other.CredentialsFound
	r.AddressesFound += other.AddressesFound
	r.Failures = append(r.Failures, other.Failures...)
}

// Orchestrator runs locate, decrypt, and extract over discovered targets
// and persists what it finds.
type Orchestrator struct {
	store  storage.Store
	logger *zap.Logger
}

func NewOrchestrator(store storage.Store, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{store: store, logger: logger}
}

// Extract processes every target sequentially with the password supplied
// for its wallet family. Targets whose store or vault is absent are
// skipped silently.
func (o *Orchestrator) Extract(ctx context.Context, targets []discovery.Target, passwords map[vault.Family]string) (Result, error) {
	var result Result
	for _, target := range targets {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		password, ok := passwords[target.Family]
		if !ok {
			continue
		}
		result.merge(o.extractTarget(ctx, target, password))
	}
	return result, nil
}

// ExtractOne retries a single (profile, extension) pair, typically after a
// wrong-password failure.
func (o *Orchestrator) ExtractOne(ctx context.Context, target discovery.Target, password string) (Result, error) {
	return o.extractTarget(ctx, target, password), nil
}

func (o *Orchestrator) extractTarget(ctx context.Context, target discovery.Target, password string) Result {
	var result Result
	fail := func(stage Stage, err error) Result {
		result.Failures = append(result.Failures, Failure{
			Profile:       target.ProfileID(),
			Wallet:        string(target.Family),
			Stage:         stage,
			Err:           err.Error(),
			WrongPassword: errors.Is(err, vault.ErrWrongPassword),
		})
		return result
	}

	parser, err := vault.ForFamily(target.Family)
	if err != nil {
		return fail(StageLocate, err)
	}

	logger := o.logger.With(
		zap.String("profile", target.ProfileID()),
		zap.String("wallet", string(target.Family)),
	)

	snap, err := kvstore.ReadSnapshot(target.StorePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Wallet not installed for this profile.
			return result
		}
		return fail(StageLocate, err)
	}

	located, err := parser.Locate(snap)
	if err != nil {
		if errors.Is(err, vault.ErrVaultNotFound) {
			logger.Debug("no vault in store")
			return result
		}
		return fail(StageLocate, err)
	}

	plaintext, err := parser.Decrypt(located, password)
	if err != nil {
		return fail(StageDecrypt, err)
	}
	if partial, ok := plaintext.(interface{ EntryErrors() []vault.EntryError }); ok {
		for _, entryErr := range partial.EntryErrors() {
			fail(StageDecrypt, entryErr)
		}
	}

	keys, err := parser.ExtractKeys(plaintext)
	if err != nil {
		return fail(StageExtract, err)
	}

	for _, key := range keys {
		credentialID, err := o.store.InsertCredential(ctx, model.Credential{
			Type:          key.Type,
			SourceProfile: target.ProfileID(),
			Mnemonic:      key.Mnemonic,
			PrivateKey:    key.PrivateKey,
		})
		if err != nil {
			fail(StagePersist, fmt.Errorf("insert credential: %w", err))
			continue
		}
		result.CredentialsFound++

		for _, account := range key.Accounts {
			err := o.store.InsertAddress(ctx, model.DerivedAddress{
				CredentialID:    credentialID,
				Address:         account.Address,
				ChainType:       account.ChainType,
				DerivationIndex: account.Index,
			})
			if err != nil {
				fail(StagePersist, fmt.Errorf("insert address %s: %w", account.Address, err))
				continue
			}
			result.AddressesFound++
		}
	}

	logger.Info("extraction complete",
		zap.Int("credentials", result.CredentialsFound),
		zap.Int("addresses", result.AddressesFound),
		zap.Int("failures", len(result.Failures)),
	)
	return result
}
