package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gojek/heimdall/v7"
	"github.com/gojek/heimdall/v7/httpclient"

	"github.com/oraclesentinel/sentinel-go/types"
)

const (
	ChallengePath = "/api/v1/auth/challenge"
	VerifyPath    = "/api/v1/auth/verify"

	// ReasonSignatureMismatch is the verify endpoint's error for a bad signature.
	ReasonSignatureMismatch = "signature_mismatch"

	maxResponseBytes = 4 << 20
)

// APIConfig configures the HTTP client for the metered API.
type APIConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
	UserAgent  string

	// Wallet is sent as X-Wallet-Address. It is informational only.
	Wallet string

	// Doer replaces the underlying *http.Client, e.g. in tests.
	Doer heimdall.Doer
}

// APIClient talks to the metered API and its challenge endpoints.
type APIClient struct {
	baseURL   string
	userAgent string
	wallet    string
	http      *httpclient.Client
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type challengeRequest struct {
	Wallet string `json:"wallet"`
}

type verifyRequest struct {
	Wallet    string `json:"wallet"`
	Challenge string `json:"challenge"`
	Signature string `json:"signature"`
}

// NewAPIClient creates an API client. Server errors (5xx) and transport
// failures are retried RetryCount times with exponential backoff.
func NewAPIClient(cfg APIConfig) *APIClient {
	backoff := heimdall.NewExponentialBackoff(100*time.Millisecond, 2*time.Second, 2.0, 10*time.Millisecond)

	opts := []httpclient.Option{
		httpclient.WithHTTPTimeout(cfg.Timeout),
		httpclient.WithRetryCount(cfg.RetryCount),
		httpclient.WithRetrier(heimdall.NewRetrier(backoff)),
	}
	if cfg.Doer != nil {
		opts = append(opts, httpclient.WithHTTPClient(cfg.Doer))
	}

	return &APIClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		wallet:    cfg.Wallet,
		http:      httpclient.NewClient(opts...),
	}
}

// RequestChallenge asks the server for a fresh single-use challenge bound to wallet.
func (c *APIClient) RequestChallenge(ctx context.Context, wallet string) (*types.Challenge, error) {
	resp, err := c.do(ctx, http.MethodPost, ChallengePath, challengeRequest{Wallet: wallet}, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp)
	}

	var challenge types.Challenge
	if err := json.Unmarshal(resp.Body, &challenge); err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrInvalidChallenge,
			Message: fmt.Sprintf("failed to parse challenge: %v", err),
		}
	}
	if challenge.Value == "" {
		return nil, &types.X402Error{
			Code:    types.ErrInvalidChallenge,
			Message: "server returned an empty challenge",
		}
	}
	challenge.Wallet = wallet

	return &challenge, nil
}

// VerifyChallenge submits a signed challenge and returns the server's verdict.
// A signature the server cannot verify is reported as *types.SignatureVerificationError.
func (c *APIClient) VerifyChallenge(
	ctx context.Context,
	wallet string,
	challenge string,
	sig solana.Signature,
) (*types.HolderStatus, error) {
	body := verifyRequest{
		Wallet:    wallet,
		Challenge: challenge,
		Signature: sig.String(),
	}

	resp, err := c.do(ctx, http.MethodPost, VerifyPath, body, nil)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var status types.HolderStatus
		if err := json.Unmarshal(resp.Body, &status); err != nil {
			return nil, &types.ProtocolError{Reason: fmt.Sprintf("malformed holder status: %v", err)}
		}
		return &status, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		if reason := errorReason(resp.Body); reason == ReasonSignatureMismatch {
			return nil, &types.SignatureVerificationError{Wallet: wallet, Reason: reason}
		}
		return nil, parseError(resp)
	default:
		return nil, parseError(resp)
	}
}

// Call issues an endpoint request and returns the raw reply for any status code.
func (c *APIClient) Call(ctx context.Context, req types.APIRequest, headers http.Header) (*types.APIResponse, error) {
	return c.do(ctx, req.Endpoint.Method, req.Path, req.Body, headers)
}

func (c *APIClient) do(
	ctx context.Context,
	method string,
	path string,
	body interface{},
	headers http.Header,
) (*types.APIResponse, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, &types.X402Error{
				Code:    types.ErrInvalidPayload,
				Message: fmt.Sprintf("failed to encode request body: %v", err),
			}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set(types.HeaderUserAgent, c.userAgent)
	}
	if c.wallet != "" {
		req.Header.Set(types.HeaderWalletAddress, c.wallet)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	// heimdall reports exhausted 5xx retries as an error alongside the last response
	resp, err := c.http.Do(req)
	if resp == nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &types.X402Error{
			Code:    types.ErrNetworkError,
			Message: fmt.Sprintf("%s %s failed: %v", method, path, err),
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrNetworkError,
			Message: fmt.Sprintf("failed to read response: %v", err),
		}
	}

	return &types.APIResponse{StatusCode: resp.StatusCode, Body: data}, nil
}

func errorReason(body []byte) string {
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		return ""
	}
	return errResp.Error
}

func parseError(resp *types.APIResponse) error {
	body := string(resp.Body)
	if reason := errorReason(resp.Body); reason != "" {
		body = reason
	}
	return &types.APIError{StatusCode: resp.StatusCode, Body: body}
}
