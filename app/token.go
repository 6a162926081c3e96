package chatsync

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of the auth token's claims the client cares about.
type Claims struct {
	AccountID int64
	ExpiresAt time.Time
}

type tokenClaims struct {
	AccountID int64 `json:"accountId"`
	jwt.RegisteredClaims
}

// TokenClaims extracts the account id and expiry from a JWT without
// verifying the signature. The client never holds the signing secret, the
// server is the only party that validates tokens.
func TokenClaims(token string) (*Claims, error) {
	parser := jwt.NewParser()
	var claims tokenClaims
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if claims.AccountID == 0 {
		return nil, fmt.Errorf("token has no account id")
	}
	out := &Claims{AccountID: claims.AccountID}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// TokenExpired reports whether the token's exp claim has passed. Tokens
// without an exp claim never expire.
func TokenExpired(token string) bool {
	claims, err := TokenClaims(token)
	if err != nil {
		return true
	}
	if claims.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(claims.ExpiresAt)
}
