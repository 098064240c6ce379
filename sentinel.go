// Package sentinel is a client for the Oracle Sentinel metered API.
//
// Every priced call is authorized one of two ways: wallets holding enough of
// the gating token prove it by signing a server challenge and call for free;
// everyone else pays the listed USDC price on Solana and the call is retried
// once with the payment receipt attached.
package sentinel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gojek/heimdall/v7"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/oraclesentinel/sentinel-go/clients"
	"github.com/oraclesentinel/sentinel-go/events"
	"github.com/oraclesentinel/sentinel-go/logger"
	"github.com/oraclesentinel/sentinel-go/metrics"
	"github.com/oraclesentinel/sentinel-go/settlement"
	"github.com/oraclesentinel/sentinel-go/signer"
	"github.com/oraclesentinel/sentinel-go/types"
	"github.com/oraclesentinel/sentinel-go/utils"
	"github.com/oraclesentinel/sentinel-go/verification"
)

// Version information
const (
	Version         = "2.1.0"
	ProtocolVersion = 2
)

// maxConcurrentSignals bounds GetSignals fan-out.
const maxConcurrentSignals = 4

// Client calls the metered API on behalf of one wallet. It is safe for
// concurrent use; each call runs its own authorization.
type Client struct {
	cfg     types.Config
	network types.Network

	holder    *signer.Holder
	ledger    clients.Ledger
	api       *clients.APIClient
	oracle    *clients.BalanceOracle
	evaluator *verification.Evaluator
	engine    *settlement.Engine

	logger  logger.Logger
	metrics metrics.Recorder
	timeout time.Duration
	now     func() time.Time

	// set through options
	doer        heimdall.Doer
	statusCache verification.StatusCache
	publisher   events.Publisher
	maxAmount   uint64
}

// New creates a client. The configuration must name a wallet, either with a
// private key (full mode) or a wallet address (read-only mode, which can never
// pay or prove holdings).
func New(cfg types.Config, opts ...Option) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := utils.ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:     cfg,
		network: cfg.Network,
		timeout: cfg.Timeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil && cfg.LogLevel != "" {
		c.logger = logger.NewZapLogger(cfg.LogLevel)
	}
	c.logger = logger.OrNoop(c.logger)
	if c.metrics == nil && cfg.EnableMetrics {
		c.metrics = metrics.NewPrometheusRecorder(prometheus.DefaultRegisterer)
	}
	c.metrics = metrics.OrNoop(c.metrics)

	if err := c.initHolder(); err != nil {
		return nil, err
	}

	settlementMint, err := solana.PublicKeyFromBase58(cfg.SettlementMint)
	if err != nil {
		return nil, configError("invalid settlement mint: %v", err)
	}
	var gatingMint solana.PublicKey
	if cfg.GatingMint != "" {
		if gatingMint, err = solana.PublicKeyFromBase58(cfg.GatingMint); err != nil {
			return nil, configError("invalid gating mint: %v", err)
		}
	}

	if c.ledger == nil {
		ledger, err := clients.NewSolanaClient(cfg.Network, cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create Solana client for %s: %w", cfg.Network, err)
		}
		c.ledger = ledger
	}
	c.oracle = clients.NewBalanceOracle(c.ledger, gatingMint, settlementMint)

	c.api = clients.NewAPIClient(clients.APIConfig{
		BaseURL:    cfg.BaseURL,
		Timeout:    c.timeout,
		RetryCount: cfg.Retries(),
		UserAgent:  "OracleSentinel-SDK-Go/" + Version,
		Wallet:     c.holder.PublicKey().String(),
		Doer:       c.doer,
	})

	statusCache := c.statusCache
	if statusCache == nil {
		statusCache = verification.NewMemoryCache(c.now)
	}
	c.evaluator, err = verification.NewEvaluator(verification.EvaluatorConfig{
		Challenges: c.api,
		Signer:     c.holder,
		Cache:      statusCache,
		TTL:        cfg.CacheTTL,
		Timeout:    c.timeout,
		Threshold:  cfg.HolderThreshold,
		Logger:     c.logger,
		Metrics:    c.metrics,
		Now:        c.now,
	})
	if err != nil {
		return nil, err
	}

	c.engine, err = settlement.NewEngine(settlement.EngineConfig{
		Ledger:         c.ledger,
		Signer:         c.holder,
		SettlementMint: settlementMint,
		Decimals:       types.USDCDecimals,
		ConfirmTimeout: cfg.ConfirmTimeout,
		LedgerRetries:  cfg.Retries(),
		MaxAmount:      c.maxAmount,
		Publisher:      c.publisher,
		Logger:         c.logger,
		Metrics:        c.metrics,
		Now:            c.now,
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("oracle sentinel client ready", map[string]any{
		"wallet":    c.holder.PublicKey().String(),
		"network":   cfg.Network.String(),
		"can_pay":   c.holder.CanSign(),
		"auto_pay":  !cfg.DisableAutoPay,
		"base_url":  cfg.BaseURL,
		"cache_ttl": cfg.CacheTTL.String(),
	})

	return c, nil
}

func (c *Client) initHolder() error {
	switch {
	case c.holder != nil:
		return nil
	case c.cfg.PrivateKey != "":
		holder, err := signer.FromBase58(c.cfg.PrivateKey)
		if err != nil {
			return err
		}
		c.holder = holder
		// the holder owns the key from here on
		c.cfg.PrivateKey = ""
		return nil
	case c.cfg.WalletAddress != "":
		pub, err := solana.PublicKeyFromBase58(c.cfg.WalletAddress)
		if err != nil {
			return configError("invalid wallet address: %v", err)
		}
		c.holder = signer.NewReadOnly(pub)
		return nil
	default:
		return configError("either a wallet address or a private key is required")
	}
}

func configError(format string, args ...interface{}) error {
	return &types.X402Error{
		Code:    types.ErrConfigError,
		Message: fmt.Sprintf(format, args...),
	}
}

// WalletAddress is the base58 address of the client's wallet.
func (c *Client) WalletAddress() string {
	return c.holder.PublicKey().String()
}

// CanPay reports whether the client holds a private key.
func (c *Client) CanPay() bool {
	return c.engine.CanPay()
}

// Network is the cluster payments settle on.
func (c *Client) Network() types.Network {
	return c.network
}

// GetUSDCBalance returns the wallet's settlement balance in dollars.
func (c *Client) GetUSDCBalance(ctx context.Context) (decimal.Decimal, error) {
	var balance uint64
	err := utils.RetryLedger(ctx, c.cfg.Retries(), utils.DefaultLedgerBackoff(), func(ctx context.Context) error {
		var err error
		balance, err = c.oracle.GetSettlementBalance(ctx, c.holder.PublicKey())
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return types.AtomicToDollars(balance), nil
}

// GetHolderBalance reads the wallet's gating token balance straight from the
// ledger. It does not grant access; only a verified challenge does.
func (c *Client) GetHolderBalance(ctx context.Context) (uint64, error) {
	var balance uint64
	err := utils.RetryLedger(ctx, c.cfg.Retries(), utils.DefaultLedgerBackoff(), func(ctx context.Context) error {
		var err error
		balance, err = c.oracle.GetHolderBalance(ctx, c.holder.PublicKey())
		return err
	})
	return balance, err
}

// CheckHolderStatus proves wallet ownership to the server and returns a fresh
// verdict, replacing any cached one.
func (c *Client) CheckHolderStatus(ctx context.Context) (types.HolderStatus, error) {
	return c.evaluator.Refresh(ctx, c.holder.PublicKey())
}

// Do runs one request through evaluation, the call, and at most one payment.
func (c *Client) Do(ctx context.Context, req types.APIRequest) (*types.APIResponse, error) {
	return c.dispatch(ctx, req)
}

// GetInfo returns API metadata. It is free.
func (c *Client) GetInfo(ctx context.Context) (types.Result, error) {
	return c.call(ctx, types.EndpointInfo.Request("", nil))
}

// GetSignal returns the trading signal for a market.
func (c *Client) GetSignal(ctx context.Context, slug string) (types.Result, error) {
	return c.call(ctx, types.EndpointSignal.Request(slug, nil))
}

// GetAnalysis returns the full analysis for a market.
func (c *Client) GetAnalysis(ctx context.Context, slug string) (types.Result, error) {
	return c.call(ctx, types.EndpointAnalysis.Request(slug, nil))
}

// GetWhaleActivity returns large-holder activity for a market.
func (c *Client) GetWhaleActivity(ctx context.Context, slug string) (types.Result, error) {
	return c.call(ctx, types.EndpointWhale.Request(slug, nil))
}

// GetBulkSignals returns signals for all tracked markets.
func (c *Client) GetBulkSignals(ctx context.Context) (types.Result, error) {
	return c.call(ctx, types.EndpointBulk.Request("", nil))
}

// AnalyzeMarket analyzes any market by its Polymarket URL.
func (c *Client) AnalyzeMarket(ctx context.Context, marketURL string) (types.Result, error) {
	return c.call(ctx, types.EndpointAnalyze.Request("", map[string]string{"url": marketURL}))
}

// GetSignals fetches signals for several markets concurrently. Each market is
// authorized and, if needed, paid for independently. The first error cancels
// the remaining calls.
func (c *Client) GetSignals(ctx context.Context, slugs ...string) (map[string]types.Result, error) {
	results := make([]types.Result, len(slugs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSignals)
	for i, slug := range slugs {
		i, slug := i, slug
		g.Go(func() error {
			result, err := c.GetSignal(gctx, slug)
			if err != nil {
				return fmt.Errorf("signal %s: %w", slug, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]types.Result, len(slugs))
	for i, slug := range slugs {
		out[slug] = results[i]
	}
	return out, nil
}

// Close wipes the private key and releases the ledger connection.
func (c *Client) Close() {
	c.holder.Close()
	c.ledger.Close()
}

func (c *Client) call(ctx context.Context, req types.APIRequest) (types.Result, error) {
	resp, err := c.dispatch(ctx, req)
	if err != nil {
		return nil, err
	}

	var result types.Result
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", req.Endpoint.Name, err)
	}
	return result, nil
}

// GetVersion returns version information
func GetVersion() map[string]interface{} {
	networks := make([]string, 0, 2)
	for _, n := range types.SupportedNetworks() {
		networks = append(networks, n.Network.String())
	}

	return map[string]interface{}{
		"library_version":    Version,
		"protocol_version":   ProtocolVersion,
		"supported_networks": networks,
		"supported_schemes":  []string{string(types.SchemeExact)},
		"supported_assets":   []string{"usdc"},
	}
}
