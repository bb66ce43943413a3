// Package gateway talks JSON-RPC to the host-runtime adapter that owns the
// real AMM and token custody. Client implements domain.LiquidityPool and
// domain.Custody over go-ethereum's rpc client.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/alanyoungcy/sovereign-liquidity/internal/crypto"
	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

// JSON-RPC error codes the adapter uses for domain failures.
const (
	codeNotFound     = -32004
	codeInsufficient = -32010
	codeSlippage     = -32011
	codeRejected     = -32012
)

// ErrRejected is returned when the adapter refuses an operation for a reason
// with no matching domain error.
var ErrRejected = errors.New("gateway: rejected by adapter")

// Client is the RPC-backed pool and custody gateway.
type Client struct {
	rpc     *rpc.Client
	limiter domain.RateLimiter
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithRateLimiter throttles outgoing calls through a shared limiter.
func WithRateLimiter(rl domain.RateLimiter) Option {
	return func(c *Client) { c.limiter = rl }
}

// Dial connects to the adapter at url. When auth is non-nil every request
// body is HMAC-signed.
func Dial(ctx context.Context, url string, auth *crypto.HMACAuth, logger *slog.Logger, opts ...Option) (*Client, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	if auth != nil {
		httpClient.Transport = &signingTransport{auth: auth, base: http.DefaultTransport}
	}
	rc, err := rpc.DialOptions(ctx, url, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("gateway: dial %s: %w", url, err)
	}
	c := &Client{rpc: rc, logger: logger.With(slog.String("component", "gateway"))}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// Health pings the adapter.
func (c *Client) Health(ctx context.Context) error {
	var ok bool
	return c.call(ctx, &ok, "gateway_health")
}

func (c *Client) call(ctx context.Context, result any, method string, args ...any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, "gateway"); err != nil {
			return fmt.Errorf("gateway: %s: %w", method, err)
		}
	}
	start := time.Now()
	err := c.rpc.CallContext(ctx, result, method, args...)
	if err != nil {
		c.logger.Warn("gateway: call failed",
			slog.String("method", method),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("gateway: %s: %w", method, mapError(err))
	}
	c.logger.Debug("gateway: call", slog.String("method", method), slog.Duration("elapsed", time.Since(start)))
	return nil
}

// mapError converts adapter error codes into domain sentinels so callers can
// keep using errors.Is.
func mapError(err error) error {
	var rerr rpc.Error
	if !errors.As(err, &rerr) {
		return err
	}
	switch rerr.ErrorCode() {
	case codeNotFound:
		return fmt.Errorf("%s: %w", rerr.Error(), domain.ErrNotFound)
	case codeInsufficient:
		return fmt.Errorf("%s: %w", rerr.Error(), domain.ErrInsufficientVaultBalance)
	case codeSlippage:
		return fmt.Errorf("%s: %w", rerr.Error(), domain.ErrSlippageExceeded)
	case codeRejected:
		return fmt.Errorf("%s: %w", rerr.Error(), ErrRejected)
	}
	return err
}

// signingTransport adds HMAC headers computed over the request body.
type signingTransport struct {
	auth *crypto.HMACAuth
	base http.RoundTripper
}

func (t *signingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("gateway: read request body: %w", err)
		}
		_ = req.Body.Close()
		body = b
	}
	out := req.Clone(req.Context())
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.ContentLength = int64(len(body))
	path := req.URL.Path
	if path == "" {
		path = "/"
	}
	for k, v := range t.auth.Headers(req.Method, path, body) {
		out.Header[k] = v
	}
	return t.base.RoundTrip(out)
}
