package storage

import (
	"context"

	"walletscope/internal/model"
)

// Store is the relational persistence contract consumed by extraction and
// scanning. All inserts are idempotent on their record's uniqueness key;
// a conflicting insert means "already recorded" and is not an error.
type Store interface {
	// InsertCredential stores a credential at most once per secret content
	// and returns the row ID (existing or new).
	InsertCredential(ctx context.Context, credential model.Credential) (int64, error)
	// InsertAddress is idempotent on (address, chain_type).
	InsertAddress(ctx context.Context, address model.DerivedAddress) error
	// KnownAddresses returns every derived address on record.
	KnownAddresses(ctx context.Context) ([]model.DerivedAddress, error)

	// InsertTransfers is idempotent on (tx_id, from, to, token).
	InsertTransfers(ctx context.Context, transfers []model.TransferRecord) error
	// Transfers returns the full transfer set.
	Transfers(ctx context.Context) ([]model.TransferRecord, error)

	// ScanCursor returns the last scanned block for (address, chain).
	ScanCursor(ctx context.Context, address, chain string) (uint64, bool, error)
	// SaveScanCursor advances the cursor. The stored value never
	// decreases.
	SaveScanCursor(ctx context.Context, address, chain string, lastBlock uint64) error

	// ClearConnections drops the entire connection set; each scan rebuilds
	// it from scratch.
	ClearConnections(ctx context.Context) error
	// InsertConnections is idempotent on (address_a, address_b, kind,
	// evidence).
	InsertConnections(ctx context.Context, connections []model.ConnectionRecord) error
	// Connections returns the current connection set.
	Connections(ctx context.Context) ([]model.ConnectionRecord, error)
}
