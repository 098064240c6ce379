package sentineltest

import "github.com/golang-jwt/jwt/v5"

const (
	AudienceChallenge = "sentinel:challenge"
	AudienceAccess    = "sentinel:access"
)

// ChallengeClaims is the signed body of a challenge token.
type ChallengeClaims struct {
	jwt.RegisteredClaims
	Nonce string `json:"nonce"`
}

// AccessClaims is the signed body of a holder proof.
type AccessClaims struct {
	jwt.RegisteredClaims
	Balance uint64 `json:"bal"`
}
