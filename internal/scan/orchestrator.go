package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"walletscope/internal/model"
	"walletscope/internal/storage"
)

// ErrScanInProgress rejects a scan request while another scan is running.
var ErrScanInProgress = errors.New("a scan is already in progress")

// UnitError is a non-fatal failure scoped to one (address, chain) unit.
type UnitError struct {
	Address string `json:"address"`
	Chain   string `json:"chain"`
	Err     string `json:"error"`
}

// Progress is the live state of a running scan, readable by concurrent
// status queries.
type Progress struct {
	UnitsDone      int         `json:"units_done"`
	UnitsTotal     int         `json:"units_total"`
	TransfersFound int         `json:"transfers_found"`
	CurrentUnit    string      `json:"current_unit"`
	Errors         []UnitError `json:"errors"`
}

// Result is the final summary of a completed scan.
type Result struct {
	UnitsScanned   int         `json:"units_scanned"`
	TransfersFound int         `json:"transfers_found"`
	Connections    int         `json:"connections"`
	Clusters       int         `json:"clusters"`
	Errors         []UnitError `json:"errors"`
	FinishedAt     time.Time   `json:"finished_at"`
}

// Status is a point-in-time snapshot for status queries.
type Status struct {
	Running    bool      `json:"running"`
	Progress   *Progress `json:"progress,omitempty"`
	LastResult *Result   `json:"last_result,omitempty"`
}

// Config tunes a scan run.
type Config struct {
	Chains       []string
	MaxRetries   int
	RetryBackoff time.Duration
	FanOut       DetectorConfig
}

// Orchestrator drives fetch, detect using a single-flight invariant: one
// scan at a time per instance. The running flag and live progress are the
// only mutable shared state; both are written here exclusively and
// published read-only through Status.
type Orchestrator struct {
	cfg      Config
	store    storage.Store
	fetcher  *Fetcher
	detector *Detector
	logger   *zap.Logger

	mu         sync.Mutex
	running    bool
	progress   *Progress
	lastResult *Result
}

func NewOrchestrator(cfg Config, source Source, store storage.Store, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:   cfg,
		store: store,
		fetcher: NewFetcher(FetcherConfig{
			MaxRetries:   cfg.MaxRetries,
			RetryBackoff: cfg.RetryBackoff,
		}, source, store, logger),
		detector: NewDetector(cfg.FanOut),
		logger:   logger,
	}
}

// Start launches a scan asynchronously and returns immediately, or rejects
// it with ErrScanInProgress.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.acquire(); err != nil {
		return err
	}
	go func() {
		defer o.release()
		o.publish(o.scan(ctx))
	}()
	return nil
}

// Run executes a scan synchronously under the same single-flight
// invariant.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	if err := o.acquire(); err != nil {
		return nil, err
	}
	defer o.release()

	result := o.scan(ctx)
	o.publish(result)
	return result, nil
}

// Status returns a snapshot of the running flag, live progress, and last
// result.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	status := Status{Running: o.running, LastResult: o.lastResult}
	if o.progress != nil {
		copied := *o.progress
		copied.Errors = append([]UnitError(nil), o.progress.Errors...)
		status.Progress = &copied
	}
	return status
}

func (o *Orchestrator) acquire() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return ErrScanInProgress
	}
	o.running = true
	o.progress = &Progress{}
	return nil
}

// release always runs, clearing the in-progress flag and the live progress
// record whether the scan succeeded or failed.
func (o *Orchestrator) release() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.running = false
	o.progress = nil
}

func (o *Orchestrator) publish(result *Result) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.lastResult = result
}

func (o *Orchestrator) updateProgress(fn func(p *Progress)) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.progress != nil {
		fn(o.progress)
	}
}

// scan processes every unit sequentially, then recomputes connections and
// clusters from the full transfer set.
func (o *Orchestrator) scan(ctx context.Context) *Result {
	result := &Result{}
	defer func() {
		result.FinishedAt = time.Now().UTC()
	}()

	fail := func(err error) *Result {
		o.logger.Error("scan failed", zap.Error(err))
		result.Errors = append(result.Errors, UnitError{Err: err.Error()})
		return result
	}

	known, err := o.store.KnownAddresses(ctx)
	if err != nil {
		return fail(fmt.Errorf("load known addresses: %w", err))
	}

	units := buildUnits(known, o.cfg.Chains)
	o.updateProgress(func(p *Progress) { p.UnitsTotal = len(units) })
	o.logger.Info("scan start", zap.Int("units", len(units)))

	for _, unit := range units {
		o.updateProgress(func(p *Progress) { p.CurrentUnit = unit.chain + ":" + unit.address })

		found, err := o.fetcher.FetchUnit(ctx, unit.address, unit.chain)
		if err != nil {
			// Non-fatal: record and continue with the next unit.
			unitErr := UnitError{Address: unit.address, Chain: unit.chain, Err: err.Error()}
			result.Errors = append(result.Errors, unitErr)
			o.updateProgress(func(p *Progress) {
				p.Errors = append(p.Errors, unitErr)
				p.UnitsDone++
			})
			continue
		}

		result.UnitsScanned++
		result.TransfersFound += found
		o.updateProgress(func(p *Progress) {
			p.UnitsDone++
			p.TransfersFound += found
		})
	}

	transfers, err := o.store.Transfers(ctx)
	if err != nil {
		return fail(fmt.Errorf("load transfers: %w", err))
	}

	connections := o.detector.Detect(known, transfers)
	if err := o.store.ClearConnections(ctx); err != nil {
		return fail(fmt.Errorf("clear connections: %w", err))
	}
	if err := o.store.InsertConnections(ctx, connections); err != nil {
		return fail(fmt.Errorf("store connections: %w", err))
	}
	result.Connections = len(connections)

	clusters := BuildClusters(known, connections)
	result.Clusters = len(clusters)

	o.logger.Info("scan complete",
		zap.Int("units", result.UnitsScanned),
		zap.Int("transfers", result.TransfersFound),
		zap.Int("connections", result.Connections),
		zap.Int("clusters", result.Clusters),
		zap.Int("errors", len(result.Errors)),
	)
	return result
}

type scanUnit struct {
	address string
	chain   string
}

// buildUnits pairs every known address with each configured chain serving
// its address family.
func buildUnits(known []model.DerivedAddress, chains []string) []scanUnit {
	var units []scanUnit
	for _, address := range known {
		for _, chain := range chains {
			family, ok := model.ChainFamily(chain)
			if !ok || family != address.ChainType {
				continue
			}
			units = append(units, scanUnit{address: address.Address, chain: chain})
		}
	}
	return units
}
