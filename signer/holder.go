// Package signer holds the wallet keypair and signs challenges and payment
// transactions without ever handing the private key to callers.
package signer

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/oraclesentinel/sentinel-go/types"
)

// Holder owns a wallet's signing key.
//
// At rest the key is stored XOR-masked with a random pad. The plaintext key is
// reconstructed into a scratch buffer for the duration of a single signing call
// and wiped before the call returns.
type Holder struct {
	mu     sync.RWMutex
	pub    solana.PublicKey
	masked []byte
	pad    []byte
}

// NewHolder takes ownership of key. The caller should wipe its own copy.
func NewHolder(key solana.PrivateKey) (*Holder, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, &types.X402Error{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("private key must be %d bytes", ed25519.PrivateKeySize),
		}
	}

	derived := ed25519.NewKeyFromSeed(key[:ed25519.SeedSize])
	defer wipe(derived)
	if !bytes.Equal(derived[ed25519.SeedSize:], key[ed25519.SeedSize:]) {
		return nil, &types.X402Error{
			Code:    types.ErrConfigError,
			Message: "private key does not match its embedded public key",
		}
	}

	pad := make([]byte, len(key))
	if _, err := rand.Read(pad); err != nil {
		return nil, fmt.Errorf("failed to generate key pad: %w", err)
	}

	masked := make([]byte, len(key))
	for i := range key {
		masked[i] = key[i] ^ pad[i]
	}

	return &Holder{
		pub:    key.PublicKey(),
		masked: masked,
		pad:    pad,
	}, nil
}

// FromBase58 parses a base58 keypair as exported by Solana wallets.
func FromBase58(encoded string) (*Holder, error) {
	key, err := solana.PrivateKeyFromBase58(encoded)
	if err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrConfigError,
			Message: "invalid private key encoding",
		}
	}
	defer wipe(key)

	return NewHolder(key)
}

// NewReadOnly returns a Holder that knows only the wallet address.
// Every signing operation fails with types.ErrNoKeyMaterial.
func NewReadOnly(pub solana.PublicKey) *Holder {
	return &Holder{pub: pub}
}

// PublicKey returns the wallet address.
func (h *Holder) PublicKey() solana.PublicKey {
	return h.pub
}

// CanSign reports whether the holder still has key material.
func (h *Holder) CanSign() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.masked != nil
}

// Sign signs an opaque challenge. No network I/O is performed.
func (h *Holder) Sign(challenge []byte) (solana.Signature, error) {
	var sig solana.Signature
	err := h.withKey(func(key solana.PrivateKey) error {
		var err error
		sig, err = key.Sign(challenge)
		return err
	})
	return sig, err
}

// SignTransaction adds the wallet's signature to tx. The wallet must be one of
// the transaction's required signers.
func (h *Holder) SignTransaction(tx *solana.Transaction) error {
	return h.withKey(func(key solana.PrivateKey) error {
		_, err := tx.Sign(func(signer solana.PublicKey) *solana.PrivateKey {
			if signer.Equals(h.pub) {
				return &key
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to sign transaction: %w", err)
		}
		return nil
	})
}

// Close wipes the key. The holder stays usable in read-only mode.
func (h *Holder) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	wipe(h.masked)
	wipe(h.pad)
	h.masked = nil
	h.pad = nil
}

func (h *Holder) String() string {
	return fmt.Sprintf("signer.Holder{%s}", h.pub)
}

func (h *Holder) GoString() string {
	return h.String()
}

func (h *Holder) withKey(fn func(key solana.PrivateKey) error) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.masked == nil {
		return types.ErrNoKeyMaterial
	}

	key := make(solana.PrivateKey, len(h.masked))
	defer wipe(key)
	for i := range h.masked {
		key[i] = h.masked[i] ^ h.pad[i]
	}

	return fn(key)
}

// Verify checks sig over msg against the wallet pub.
func Verify(pub solana.PublicKey, msg []byte, sig solana.Signature) bool {
	return sig.Verify(pub, msg)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
