package sentinel

import (
	"time"

	"github.com/gojek/heimdall/v7"

	"github.com/oraclesentinel/sentinel-go/clients"
	"github.com/oraclesentinel/sentinel-go/events"
	"github.com/oraclesentinel/sentinel-go/logger"
	"github.com/oraclesentinel/sentinel-go/metrics"
	"github.com/oraclesentinel/sentinel-go/signer"
	"github.com/oraclesentinel/sentinel-go/verification"
)

type Option func(*Client)

func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(c *Client) {
		c.metrics = r
	}
}

// WithTimeout overrides Config.Timeout for API requests.
func WithTimeout(t time.Duration) Option {
	return func(c *Client) {
		c.timeout = t
	}
}

// WithHolder supplies the credential holder directly instead of building it
// from Config.PrivateKey or Config.WalletAddress.
func WithHolder(h *signer.Holder) Option {
	return func(c *Client) {
		c.holder = h
	}
}

// WithLedger replaces the Solana RPC ledger.
func WithLedger(l clients.Ledger) Option {
	return func(c *Client) {
		c.ledger = l
	}
}

// WithHTTPClient replaces the *http.Client used for API requests.
func WithHTTPClient(d heimdall.Doer) Option {
	return func(c *Client) {
		c.doer = d
	}
}

// WithStatusCache replaces the in-memory holder status cache, e.g. with a
// verification.RedisCache shared between processes.
func WithStatusCache(sc verification.StatusCache) Option {
	return func(c *Client) {
		c.statusCache = sc
	}
}

// WithPublisher receives an event for every confirmed payment.
func WithPublisher(p events.Publisher) Option {
	return func(c *Client) {
		c.publisher = p
	}
}

// WithMaxAmount refuses to pay any single requirement above amount atomic units.
func WithMaxAmount(amount uint64) Option {
	return func(c *Client) {
		c.maxAmount = amount
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}
