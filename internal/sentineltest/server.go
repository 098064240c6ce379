// Package sentineltest runs an in-process Oracle Sentinel API for tests. It
// issues and verifies wallet challenges, prices endpoints with x402 payment
// requirements, and checks payment receipts against a fake ledger.
package sentineltest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/oraclesentinel/sentinel-go/clients"
	"github.com/oraclesentinel/sentinel-go/signer"
	"github.com/oraclesentinel/sentinel-go/types"
	"github.com/oraclesentinel/sentinel-go/utils"
)

// Config configures a Server. Zero values get test defaults.
type Config struct {
	Ledger         *Ledger
	GatingMint     solana.PublicKey
	SettlementMint solana.PublicKey
	Recipient      solana.PublicKey
	Threshold      uint64
	ChallengeTTL   time.Duration
	ProofTTL       time.Duration

	// AlwaysRequirePayment answers every priced call with 402, even a paid retry.
	AlwaysRequirePayment bool
	// MalformedPaymentRequired answers priced calls with an unparseable 402 body.
	MalformedPaymentRequired bool
}

// Stats counts what the server has seen.
type Stats struct {
	ChallengesIssued int64
	Verifications    int64
	PaymentsRequired int64
	PaidCalls        int64
	FreeCalls        int64
	HolderCalls      int64
}

type pendingPayment struct {
	amount    uint64
	endpoint  string
	expiresAt time.Time
}

// Server is a reference implementation of the metered API.
type Server struct {
	cfg     Config
	signKey *ecdsa.PrivateKey
	http    *httptest.Server

	mu         sync.Mutex
	challenges map[string]time.Time
	pending    map[string]pendingPayment

	challengesIssued atomic.Int64
	verifications    atomic.Int64
	paymentsRequired atomic.Int64
	paidCalls        atomic.Int64
	freeCalls        atomic.Int64
	holderCalls      atomic.Int64
}

// NewServer starts a server. Call Close when done.
func NewServer(cfg Config) *Server {
	if cfg.Ledger == nil {
		cfg.Ledger = NewLedger()
	}
	if cfg.GatingMint.IsZero() {
		cfg.GatingMint = solana.NewWallet().PublicKey()
	}
	if cfg.SettlementMint.IsZero() {
		cfg.SettlementMint = solana.MustPublicKeyFromBase58(types.USDCMint)
	}
	if cfg.Recipient.IsZero() {
		cfg.Recipient = solana.NewWallet().PublicKey()
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = types.DefaultHolderThreshold
	}
	if cfg.ChallengeTTL == 0 {
		cfg.ChallengeTTL = 5 * time.Minute
	}
	if cfg.ProofTTL == 0 {
		cfg.ProofTTL = time.Minute
	}

	signKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		panic(fmt.Sprintf("sentineltest: failed to generate signing key: %v", err))
	}

	s := &Server{
		cfg:        cfg,
		signKey:    signKey,
		challenges: make(map[string]time.Time),
		pending:    make(map[string]pendingPayment),
	}
	s.http = httptest.NewServer(s.router())

	return s
}

// URL is the base URL of the running server.
func (s *Server) URL() string { return s.http.URL }

// Close shuts the server down.
func (s *Server) Close() { s.http.Close() }

// Ledger is the ledger receipts are checked against.
func (s *Server) Ledger() *Ledger { return s.cfg.Ledger }

// GatingMint is the token whose holders get free access.
func (s *Server) GatingMint() solana.PublicKey { return s.cfg.GatingMint }

// Recipient is the wallet payments must be made to.
func (s *Server) Recipient() solana.PublicKey { return s.cfg.Recipient }

// Stats returns a snapshot of the server's counters.
func (s *Server) Stats() Stats {
	return Stats{
		ChallengesIssued: s.challengesIssued.Load(),
		Verifications:    s.verifications.Load(),
		PaymentsRequired: s.paymentsRequired.Load(),
		PaidCalls:        s.paidCalls.Load(),
		FreeCalls:        s.freeCalls.Load(),
		HolderCalls:      s.holderCalls.Load(),
	}
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.POST(clients.ChallengePath, s.Challenge)
	router.POST(clients.VerifyPath, s.Verify)

	for _, endpoint := range types.Endpoints() {
		path := endpoint.Path
		if endpoint.Parameterized() {
			path = fmt.Sprintf(endpoint.Path, ":slug")
		}
		router.Handle(endpoint.Method, path, s.priced(endpoint))
	}

	return router
}

// Challenge issues a single-use challenge token bound to a wallet.
func (s *Server) Challenge(c *gin.Context) {
	var req struct {
		Wallet string `json:"wallet" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if _, err := solana.PublicKeyFromBase58(req.Wallet); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_wallet"})
		return
	}

	now := time.Now()
	claims := ChallengeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   req.Wallet,
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.ChallengeTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Audience:  jwt.ClaimStrings{AudienceChallenge},
		},
		Nonce: uuid.NewString(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(s.signKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed_to_issue_challenge"})
		return
	}

	s.mu.Lock()
	s.challenges[claims.ID] = claims.ExpiresAt.Time
	s.mu.Unlock()
	s.challengesIssued.Add(1)

	c.JSON(http.StatusOK, gin.H{
		"challenge":  token,
		"expires_at": claims.ExpiresAt.Time.UTC(),
	})
}

// Verify checks a signed challenge and reports the wallet's holder status.
func (s *Server) Verify(c *gin.Context) {
	var req struct {
		Wallet    string `json:"wallet" binding:"required"`
		Challenge string `json:"challenge" binding:"required"`
		Signature string `json:"signature" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	s.verifications.Add(1)

	claims := &ChallengeClaims{}
	_, err := jwt.ParseWithClaims(req.Challenge, claims, s.keyFunc, jwt.WithAudience(AudienceChallenge))
	if errors.Is(err, jwt.ErrTokenExpired) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "challenge_expired"})
		return
	}
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_challenge"})
		return
	}
	if claims.Subject != req.Wallet {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "wallet_mismatch"})
		return
	}

	// consumed whether or not the signature checks out
	s.mu.Lock()
	_, live := s.challenges[claims.ID]
	delete(s.challenges, claims.ID)
	s.mu.Unlock()
	if !live {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "challenge_consumed"})
		return
	}

	wallet, err := solana.PublicKeyFromBase58(req.Wallet)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_wallet"})
		return
	}
	sig, err := solana.SignatureFromBase58(req.Signature)
	if err != nil || !signer.Verify(wallet, []byte(req.Challenge), sig) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": clients.ReasonSignatureMismatch})
		return
	}

	balance, err := s.cfg.Ledger.GetBalance(c.Request.Context(), wallet, s.cfg.GatingMint)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger_unavailable"})
		return
	}

	now := time.Now()
	status := types.HolderStatus{
		Wallet:        req.Wallet,
		Balance:       balance,
		Threshold:     s.cfg.Threshold,
		HasFreeAccess: balance >= s.cfg.Threshold,
		VerifiedAt:    now.UTC(),
	}
	if status.HasFreeAccess {
		proof, err := s.issueProof(req.Wallet, balance, now)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed_to_issue_proof"})
			return
		}
		status.Proof = proof
	}

	c.JSON(http.StatusOK, status)
}

func (s *Server) priced(endpoint types.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"endpoint": endpoint.Name}
		if slug := c.Param("slug"); slug != "" {
			body["slug"] = slug
		}

		if endpoint.Free() {
			s.freeCalls.Add(1)
			body["access"] = "free"
			c.JSON(http.StatusOK, body)
			return
		}

		if proof := c.GetHeader(types.HeaderHolderProof); proof != "" && s.validProof(proof) {
			s.holderCalls.Add(1)
			body["access"] = "holder"
			c.JSON(http.StatusOK, body)
			return
		}

		if header := c.GetHeader(types.HeaderPayment); header != "" {
			if reason := s.checkPayment(c, header, endpoint); reason != "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": reason})
				return
			}
			if !s.cfg.AlwaysRequirePayment {
				s.paidCalls.Add(1)
				body["access"] = "paid"
				c.JSON(http.StatusOK, body)
				return
			}
		}

		s.requirePayment(c, endpoint)
	}
}

func (s *Server) requirePayment(c *gin.Context, endpoint types.Endpoint) {
	s.paymentsRequired.Add(1)

	if s.cfg.MalformedPaymentRequired {
		c.Data(http.StatusPaymentRequired, "application/json", []byte(`{"x402Version":2,"accepts":[]}`))
		return
	}

	reference := uuid.NewString()
	expiresAt := time.Now().Add(5 * time.Minute).UTC()

	s.mu.Lock()
	s.pending[reference] = pendingPayment{
		amount:    endpoint.AtomicPrice(),
		endpoint:  endpoint.Name,
		expiresAt: expiresAt,
	}
	s.mu.Unlock()

	c.JSON(http.StatusPaymentRequired, types.X402Response{
		X402Version: int(types.X402Version2),
		Error:       "payment required",
		Accepts: []types.PaymentRequirements{{
			Scheme:            string(types.SchemeExact),
			Network:           s.cfg.Ledger.GetNetwork().String(),
			MaxAmountRequired: strconv.FormatUint(endpoint.AtomicPrice(), 10),
			Resource:          c.Request.URL.Path,
			PayTo:             s.cfg.Recipient.String(),
			MaxTimeoutSeconds: 300,
			Asset:             s.cfg.SettlementMint.String(),
			Extra: map[string]interface{}{
				"reference": reference,
				"expiresAt": expiresAt.Format(time.RFC3339),
			},
		}},
	})
}

// checkPayment returns an error reason, or "" when header proves payment for endpoint.
func (s *Server) checkPayment(c *gin.Context, header string, endpoint types.Endpoint) string {
	payload, err := utils.DecodePaymentHeader(header)
	if err != nil {
		return "invalid_payment_header"
	}
	if err := utils.ValidateTransactionID(payload.Payload.Transaction); err != nil {
		return "invalid_transaction"
	}
	sig, err := solana.SignatureFromBase58(payload.Payload.Transaction)
	if err != nil {
		return "invalid_transaction"
	}

	reference := payload.Payload.Reference
	s.mu.Lock()
	pending, ok := s.pending[reference]
	delete(s.pending, reference)
	s.mu.Unlock()

	switch {
	case !ok:
		return "unknown_reference"
	case pending.endpoint != endpoint.Name:
		return "reference_endpoint_mismatch"
	case time.Now().After(pending.expiresAt):
		return "reference_expired"
	}

	transfer, ok := s.cfg.Ledger.ConfirmedTransfer(sig)
	if !ok {
		return "payment_not_confirmed"
	}

	recipientATA, _, err := solana.FindAssociatedTokenAddress(s.cfg.Recipient, s.cfg.SettlementMint)
	if err != nil {
		return "invalid_recipient"
	}

	switch {
	case transfer.Reference != reference:
		return "reference_mismatch"
	case !transfer.Mint.Equals(s.cfg.SettlementMint):
		return "asset_mismatch"
	case !transfer.Destination.Equals(recipientATA):
		return "recipient_mismatch"
	case transfer.Amount < pending.amount:
		return "amount_too_low"
	}

	return ""
}

func (s *Server) issueProof(wallet string, balance uint64, now time.Time) (string, error) {
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   wallet,
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.ProofTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Audience:  jwt.ClaimStrings{AudienceAccess},
		},
		Balance: balance,
	}
	return jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(s.signKey)
}

func (s *Server) validProof(proof string) bool {
	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(proof, claims, s.keyFunc, jwt.WithAudience(AudienceAccess))
	return err == nil && token.Valid && claims.Balance >= s.cfg.Threshold
}

func (s *Server) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return &s.signKey.PublicKey, nil
}
