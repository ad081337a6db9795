package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"walletscope/internal/model"
	"walletscope/internal/storage"
)

// ErrRateLimited is the signal a Source returns when the upstream API is
// throttling; the fetcher backs off and retries.
var ErrRateLimited = errors.New("rate limited")

// Direction filters a transfer-history query.
type Direction string

const DirectionAll Direction = "all"

// Query is one page request against a transfer-history API.
type Query struct {
	Chain      string
	Address    string
	Direction  Direction
	StartBlock uint64
	Cursor     string
}

// Page is one response: transfers in ascending block order and a
// continuation cursor, empty when the history is exhausted.
type Page struct {
	Transfers  []model.TransferRecord
	NextCursor string
}

// Source is a paginated transfer-history API for one or more chains.
type Source interface {
	FetchTransfers(ctx context.Context, q Query) (Page, error)
}

// FetcherConfig bounds retries per unit.
type FetcherConfig struct {
	MaxRetries   int
	RetryBackoff time.Duration
}

// Fetcher incrementally harvests transfer history per (address, chain)
// unit, resuming from the stored scan cursor.
type Fetcher struct {
	cfg    FetcherConfig
	source Source
	store  storage.Store
	logger *zap.Logger
}

func NewFetcher(cfg FetcherConfig, source Source, store storage.Store, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{cfg: cfg, source: source, store: store, logger: logger}
}

// FetchUnit pulls all new transfers for one (address, chain) unit and
// advances the cursor to the maximum block observed. Returns the number of
// transfers fetched. The cursor never moves backwards, so a unit with no
// new transfers leaves it untouched.
func (f *Fetcher) FetchUnit(ctx context.Context, address, chain string) (int, error) {
	lastBlock, haveCursor, err := f.store.ScanCursor(ctx, address, chain)
	if err != nil {
		return 0, fmt.Errorf("read cursor: %w", err)
	}

	startBlock := uint64(0)
	if haveCursor {
		startBlock = lastBlock + 1
	}

	maxBlock := lastBlock
	found := 0
	cursor := ""
	for {
		query := Query{
			Chain:      chain,
			Address:    address,
			Direction:  DirectionAll,
			StartBlock: startBlock,
			Cursor:     cursor,
		}

		var page Page
		err := withBackoff(ctx, f.cfg.MaxRetries, f.cfg.RetryBackoff, func(ctx context.Context) error {
			var err error
			page, err = f.source.FetchTransfers(ctx, query)
			if err != nil {
				f.logger.Warn("fetch page failed",
					zap.Error(err),
					zap.String("address", address),
					zap.String("chain", chain),
				)
			}
			return err
		})
		if err != nil {
			return found, fmt.Errorf("fetch transfers %s/%s: %w", chain, address, err)
		}

		if err := f.store.InsertTransfers(ctx, page.Transfers); err != nil {
			return found, fmt.Errorf("store transfers: %w", err)
		}
		found += len(page.Transfers)
		for _, transfer := range page.Transfers {
			if transfer.BlockNumber > maxBlock {
				maxBlock = transfer.BlockNumber
			}
		}

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	if maxBlock > lastBlock {
		if err := f.store.SaveScanCursor(ctx, address, chain, maxBlock); err != nil {
			return found, fmt.Errorf("save cursor: %w", err)
		}
	}

	f.logger.Info("unit complete",
		zap.String("address", address),
		zap.String("chain", chain),
		zap.Int("transfers", found),
		zap.Uint64("last_block", maxBlock),
	)
	return found, nil
}
