package transferapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"walletscope/internal/scan"
)

// Style selects the wire format a chain endpoint speaks.
type Style string

const (
	// StyleEtherscan is the etherscan-compatible account API used by most
	// EVM chain explorers.
	StyleEtherscan Style = "etherscan"
	// StyleSolscan is the solscan-compatible transfer API.
	StyleSolscan Style = "solscan"
)

// Endpoint is one chain's transfer-history API.
type Endpoint struct {
	BaseURL string
	Style   Style
	APIKey  string
}

// Config wires chains to endpoints and bounds request pacing.
type Config struct {
	Endpoints map[string]Endpoint
	// RequestsPerSecond is client-side pacing applied before every
	// request, independent of server-side 429 handling.
	RequestsPerSecond int
	HTTPTimeout       time.Duration
	PageSize          int
}

// Client implements scan.Source over per-chain HTTP explorer APIs.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    ratelimit.Limiter
	logger     *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 4
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 15 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		limiter:    ratelimit.New(cfg.RequestsPerSecond),
		logger:     logger,
	}
}

// FetchTransfers issues one paginated request against the chain's
// endpoint. Rate-limit responses surface as scan.ErrRateLimited so the
// fetcher can back off.
func (c *Client) FetchTransfers(ctx context.Context, q scan.Query) (scan.Page, error) {
	endpoint, ok := c.cfg.Endpoints[q.Chain]
	if !ok {
		return scan.Page{}, fmt.Errorf("no endpoint configured for chain %s", q.Chain)
	}

	c.limiter.Take()

	switch endpoint.Style {
	case StyleEtherscan:
		return c.fetchEtherscan(ctx, endpoint, q)
	case StyleSolscan:
		return c.fetchSolscan(ctx, endpoint, q)
	default:
		return scan.Page{}, fmt.Errorf("unknown endpoint style %q for chain %s", endpoint.Style, q.Chain)
	}
}
