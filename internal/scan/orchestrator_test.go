package scan

import (
	"context"
	"errors"
	"testing"
	"time"

	"walletscope/internal/model"
	"walletscope/internal/storage"
)

func seedAddresses(t *testing.T, store storage.Store, addresses ...string) {
	t.Helper()
	for _, address := range addresses {
		err := store.InsertAddress(context.Background(), model.DerivedAddress{
			Address:   address,
			ChainType: model.ChainTypeEVM,
		})
		if err != nil {
			t.Fatalf("seed address %s: %v", address, err)
		}
	}
}

func orchestratorForTest(source Source, store storage.Store) *Orchestrator {
	return NewOrchestrator(Config{
		Chains:       []string{"ethereum"},
		MaxRetries:   1,
		RetryBackoff: time.Millisecond,
	}, source, store, nil)
}

// blockingSource holds every request until released, to keep a scan
// in-flight while the test inspects orchestrator state.
type blockingSource struct {
	release chan struct{}
}

func (b *blockingSource) FetchTransfers(ctx context.Context, _ Query) (Page, error) {
	select {
	case <-b.release:
		return Page{}, nil
	case <-ctx.Done():
		return Page{}, ctx.Err()
	}
}

func TestScanSingleFlight(t *testing.T) {
	store := storage.NewMemoryStore()
	seedAddresses(t, store, "0xaaa1")
	source := &blockingSource{release: make(chan struct{})}
	orchestrator := orchestratorForTest(source, store)

	if err := orchestrator.Start(context.Background()); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := orchestrator.Start(context.Background()); !errors.Is(err, ErrScanInProgress) {
		t.Fatalf("second start must be rejected, got %v", err)
	}
	if _, err := orchestrator.Run(context.Background()); !errors.Is(err, ErrScanInProgress) {
		t.Fatalf("synchronous run must also be rejected, got %v", err)
	}

	status := orchestrator.Status()
	if !status.Running || status.Progress == nil {
		t.Fatalf("status must report a running scan with live progress: %+v", status)
	}

	close(source.release)
	waitForIdle(t, orchestrator)

	status = orchestrator.Status()
	if status.Running || status.Progress != nil {
		t.Fatalf("flag and progress must be cleared after completion: %+v", status)
	}
	if status.LastResult == nil {
		t.Fatalf("final result must be published")
	}
}

func waitForIdle(t *testing.T, orchestrator *Orchestrator) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !orchestrator.Status().Running {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("scan did not finish in time")
}

func TestScanEndToEnd(t *testing.T) {
	store := storage.NewMemoryStore()
	seedAddresses(t, store, "0xaaa1", "0xbbb2")

	direct := transfer("0xaaa1", "0xbbb2", "tx1")
	direct.BlockNumber = 10
	viaExternal1 := transfer("0xaaa1", "0xeee9", "tx2")
	viaExternal1.BlockNumber = 11
	viaExternal2 := transfer("0xbbb2", "0xeee9", "tx3")
	viaExternal2.BlockNumber = 12

	source := &fakeSource{responses: []fakeResponse{
		{page: Page{Transfers: []model.TransferRecord{direct, viaExternal1}}},
		{page: Page{Transfers: []model.TransferRecord{viaExternal2}}},
	}}
	orchestrator := orchestratorForTest(source, store)

	result, err := orchestrator.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.UnitsScanned != 2 {
		t.Fatalf("expected 2 units, got %d", result.UnitsScanned)
	}
	if result.TransfersFound != 3 {
		t.Fatalf("expected 3 transfers, got %d", result.TransfersFound)
	}
	// One direct pair plus one indirect pair through the shared external.
	if result.Connections != 2 {
		t.Fatalf("expected 2 connections, got %d", result.Connections)
	}
	if result.Clusters != 1 {
		t.Fatalf("expected 1 cluster, got %d", result.Clusters)
	}

	connections, _ := store.Connections(context.Background())
	if len(connections) != 2 {
		t.Fatalf("connection set not persisted: %d", len(connections))
	}
}

func TestScanUnitErrorIsNonFatal(t *testing.T) {
	store := storage.NewMemoryStore()
	seedAddresses(t, store, "0xaaa1", "0xbbb2")

	good := transfer("0xaaa1", "0xbbb2", "tx1")
	good.BlockNumber = 5
	source := &fakeSource{responses: []fakeResponse{
		{err: errors.New("api down")},
		{err: errors.New("api down")},
		{page: Page{Transfers: []model.TransferRecord{good}}},
	}}
	orchestrator := orchestratorForTest(source, store)

	result, err := orchestrator.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.UnitsScanned != 1 {
		t.Fatalf("the healthy unit must still be scanned, got %d", result.UnitsScanned)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("the failed unit must be recorded, got %+v", result.Errors)
	}
}

func TestScanConnectionsRebuiltNotPatched(t *testing.T) {
	store := storage.NewMemoryStore()
	seedAddresses(t, store, "0xaaa1", "0xbbb2")

	// A stale connection from a previous scan must disappear after a
	// rebuild that no longer supports it.
	stale := model.NewConnection("0xaaa1", "0xdead", model.ConnectionDirect, "old")
	if err := store.InsertConnections(context.Background(), []model.ConnectionRecord{stale}); err != nil {
		t.Fatalf("seed connection: %v", err)
	}

	source := &fakeSource{responses: []fakeResponse{
		{page: Page{Transfers: []model.TransferRecord{transfer("0xaaa1", "0xbbb2", "tx1")}}},
		{page: Page{}},
	}}
	if _, err := orchestratorForTest(source, store).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	connections, _ := store.Connections(context.Background())
	for _, connection := range connections {
		if connection.Evidence == "old" {
			t.Fatalf("stale connection survived the rebuild")
		}
	}
}
