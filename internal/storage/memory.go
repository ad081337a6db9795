package storage

import (
	"context"
	"fmt"
	"sync"

	"walletscope/internal/model"
)

// MemoryStore is an in-memory Store with the same idempotence semantics as
// the Postgres implementation. Used in tests and for dry runs without a
// database.
type MemoryStore struct {
	mu          sync.Mutex
	nextID      int64
	credentials map[string]model.Credential
	addresses   map[string]model.DerivedAddress
	transfers   map[string]model.TransferRecord
	transferSeq []string
	cursors     map[string]uint64
	connections map[string]model.ConnectionRecord
	connSeq     []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:      1,
		credentials: make(map[string]model.Credential),
		addresses:   make(map[string]model.DerivedAddress),
		transfers:   make(map[string]model.TransferRecord),
		cursors:     make(map[string]uint64),
		connections: make(map[string]model.ConnectionRecord),
	}
}

func (s *MemoryStore) InsertCredential(_ context.Context, credential model.Credential) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.credentials[credential.Secret()]; ok {
		return existing.ID, nil
	}
	credential.ID = s.nextID
	s.nextID++
	s.credentials[credential.Secret()] = credential
	return credential.ID, nil
}

func (s *MemoryStore) InsertAddress(_ context.Context, address model.DerivedAddress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := address.Address + "|" + string(address.ChainType)
	if _, ok := s.addresses[key]; ok {
		return nil
	}
	address.ID = s.nextID
	s.nextID++
	s.addresses[key] = address
	return nil
}

func (s *MemoryStore) KnownAddresses(_ context.Context) ([]model.DerivedAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.DerivedAddress, 0, len(s.addresses))
	for _, address := range s.addresses {
		out = append(out, address)
	}
	return out, nil
}

func (s *MemoryStore) InsertTransfers(_ context.Context, transfers []model.TransferRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, transfer := range transfers {
		key := fmt.Sprintf("%s|%s|%s|%s", transfer.TxID, transfer.From, transfer.To, transfer.Token)
		if _, ok := s.transfers[key]; ok {
			continue
		}
		s.transfers[key] = transfer
		s.transferSeq = append(s.transferSeq, key)
	}
	return nil
}

func (s *MemoryStore) Transfers(_ context.Context) ([]model.TransferRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.TransferRecord, 0, len(s.transferSeq))
	for _, key := range s.transferSeq {
		out = append(out, s.transfers[key])
	}
	return out, nil
}

func (s *MemoryStore) ScanCursor(_ context.Context, address, chain string) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	block, ok := s.cursors[address+"|"+chain]
	return block, ok, nil
}

func (s *MemoryStore) SaveScanCursor(_ context.Context, address, chain string, lastBlock uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := address + "|" + chain
	if existing, ok := s.cursors[key]; ok && existing > lastBlock {
		return nil
	}
	s.cursors[key] = lastBlock
	return nil
}

func (s *MemoryStore) ClearConnections(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connections = make(map[string]model.ConnectionRecord)
	s.connSeq = nil
	return nil
}

func (s *MemoryStore) InsertConnections(_ context.Context, connections []model.ConnectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, connection := range connections {
		key := fmt.Sprintf("%s|%s|%s|%s", connection.AddressA, connection.AddressB, connection.Kind, connection.Evidence)
		if _, ok := s.connections[key]; ok {
			continue
		}
		s.connections[key] = connection
		s.connSeq = append(s.connSeq, key)
	}
	return nil
}

func (s *MemoryStore) Connections(_ context.Context) ([]model.ConnectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.ConnectionRecord, 0, len(s.connSeq))
	for _, key := range s.connSeq {
		out = append(out, s.connections[key])
	}
	return out, nil
}
