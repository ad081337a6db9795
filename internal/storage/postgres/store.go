package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"walletscope/internal/model"
)

// Store provides Postgres persistence for credentials, transfers, cursors,
// and connections.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
	id BIGSERIAL PRIMARY KEY,
	credential_type TEXT NOT NULL,
	source_profile TEXT NOT NULL,
	secret TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS addresses (
	id BIGSERIAL PRIMARY KEY,
	credential_id BIGINT REFERENCES credentials(id),
	address TEXT NOT NULL,
	chain_type TEXT NOT NULL,
	derivation_index BIGINT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (address, chain_type)
);
CREATE TABLE IF NOT EXISTS transfers (
	tx_id TEXT NOT NULL,
	from_address TEXT NOT NULL,
	to_address TEXT NOT NULL,
	token TEXT NOT NULL,
	chain TEXT NOT NULL,
	amount TEXT NOT NULL,
	block_number BIGINT,
	ts BIGINT,
	UNIQUE (tx_id, from_address, to_address, token)
);
CREATE TABLE IF NOT EXISTS scan_cursors (
	address TEXT NOT NULL,
	chain TEXT NOT NULL,
	last_block BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (address, chain)
);
CREATE TABLE IF NOT EXISTS connections (
	address_a TEXT NOT NULL,
	address_b TEXT NOT NULL,
	kind TEXT NOT NULL,
	evidence TEXT NOT NULL,
	UNIQUE (address_a, address_b, kind, evidence)
);
`

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// InsertCredential stores a credential keyed on its secret content. A
// re-extracted identical credential resolves to the existing row.
func (s *Store) InsertCredential(ctx context.Context, credential model.Credential) (int64, error) {
	var id int64
	row := s.pool.QueryRow(ctx, `
		INSERT INTO credentials (credential_type, source_profile, secret)
		VALUES ($1, $2, $3)
		ON CONFLICT (secret) DO UPDATE SET credential_type = EXCLUDED.credential_type
		RETURNING id
	`,
		string(credential.Type),
		credential.SourceProfile,
		credential.Secret(),
	)
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) InsertAddress(ctx context.Context, address model.DerivedAddress) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO addresses (credential_id, address, chain_type, derivation_index)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address, chain_type) DO NOTHING
	`,
		address.CredentialID,
		address.Address,
		string(address.ChainType),
		address.DerivationIndex,
	)
	return err
}

func (s *Store) KnownAddresses(ctx context.Context) ([]model.DerivedAddress, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, credential_id, address, chain_type, derivation_index
		FROM addresses ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DerivedAddress
	for rows.Next() {
		var a model.DerivedAddress
		var chainType string
		if err := rows.Scan(&a.ID, &a.CredentialID, &a.Address, &chainType, &a.DerivationIndex); err != nil {
			return nil, err
		}
		a.ChainType = model.ChainType(chainType)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) InsertTransfers(ctx context.Context, transfers []model.TransferRecord) error {
	if len(transfers) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, t := range transfers {
		batch.Queue(`
			INSERT INTO transfers (tx_id, from_address, to_address, token, chain, amount, block_number, ts)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (tx_id, from_address, to_address, token) DO NOTHING
		`,
			t.TxID,
			t.From,
			t.To,
			t.Token,
			t.Chain,
			t.Amount,
			int64(t.BlockNumber),
			int64(t.Timestamp),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range transfers {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Transfers(ctx context.Context) ([]model.TransferRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tx_id, from_address, to_address, token, chain, amount, block_number, ts
		FROM transfers ORDER BY block_number
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TransferRecord
	for rows.Next() {
		var t model.TransferRecord
		var block, ts int64
		if err := rows.Scan(&t.TxID, &t.From, &t.To, &t.Token, &t.Chain, &t.Amount, &block, &ts); err != nil {
			return nil, err
		}
		t.BlockNumber = uint64(block)
		t.Timestamp = uint64(ts)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) ScanCursor(ctx context.Context, address, chain string) (uint64, bool, error) {
	var lastBlock int64
	row := s.pool.QueryRow(ctx, `
		SELECT last_block FROM scan_cursors WHERE address = $1 AND chain = $2
	`, address, chain)
	if err := row.Scan(&lastBlock); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(lastBlock), true, nil
}

// SaveScanCursor upserts the cursor; GREATEST keeps it monotonic even if a
// caller hands back a stale value.
func (s *Store) SaveScanCursor(ctx context.Context, address, chain string, lastBlock uint64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scan_cursors (address, chain, last_block, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (address, chain) DO UPDATE
		SET last_block = GREATEST(scan_cursors.last_block, EXCLUDED.last_block), updated_at = now()
	`, address, chain, int64(lastBlock))
	return err
}

func (s *Store) ClearConnections(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM connections`)
	return err
}

func (s *Store) InsertConnections(ctx context.Context, connections []model.ConnectionRecord) error {
	if len(connections) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range connections {
		batch.Queue(`
			INSERT INTO connections (address_a, address_b, kind, evidence)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (address_a, address_b, kind, evidence) DO NOTHING
		`,
			c.AddressA,
			c.AddressB,
			string(c.Kind),
			c.Evidence,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range connections {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Connections(ctx context.Context) ([]model.ConnectionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT address_a, address_b, kind, evidence FROM connections
		ORDER BY address_a, address_b, kind, evidence
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ConnectionRecord
	for rows.Next() {
		var c model.ConnectionRecord
		var kind string
		if err := rows.Scan(&c.AddressA, &c.AddressB, &kind, &c.Evidence); err != nil {
			return nil, err
		}
		c.Kind = model.ConnectionKind(kind)
		out = append(out, c)
	}
	return out, rows.Err()
}
