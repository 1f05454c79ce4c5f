package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const wsTokenTTL = 1 * time.Hour

// WSClaims is the payload of the signed bearer token spec.md §6 requires
// for the WebSocket endpoint, distinct from the opaque cookie token the
// HTTP surface uses.
type WSClaims struct {
	UserID string `json:"sub"`
	Tier   string `json:"tier"`
	jwt.RegisteredClaims
}

// TokenSigner issues and verifies HS256 WebSocket bearer tokens.
type TokenSigner struct {
	key []byte
}

func NewTokenSigner(signingKey string) *TokenSigner {
	return &TokenSigner{key: []byte(signingKey)}
}

// IssueWSToken signs a short-lived token naming userID and their resource
// tier, verified by the Stream Multiplexer before Supervisor.Acquire.
func (s *TokenSigner) IssueWSToken(userID, tier string) (string, error) {
	now := time.Now()
	claims := WSClaims{
		UserID: userID,
		Tier:   tier,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(wsTokenTTL)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(s.key)
}

// VerifyWSToken validates signature and expiry, returning the embedded
// claims on success.
func (s *TokenSigner) VerifyWSToken(raw string) (*WSClaims, error) {
	claims := &WSClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.key, nil
	})
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
