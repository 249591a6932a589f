package domain

import (
	"strings"
	"time"
)

// Token is a cached bearer credential for one (site, account) pair.
// At most one live record exists per key; an expired record is treated
// identically to an absent one on read.
type Token struct {
	Site      string    `json:"site"`
	Account   string    `json:"account"`
	Token     string    `json:"token"`
	TokenType string    `json:"tokenType"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the token is no longer usable at the given instant.
func (t *Token) Expired(now time.Time) bool {
	return t == nil || !t.ExpiresAt.After(now)
}

// AuthorizationValue renders the header value for authenticated calls.
func (t *Token) AuthorizationValue() string {
	typ := strings.TrimSpace(t.TokenType)
	if typ == "" {
		typ = "Bearer"
	}
	return typ + " " + t.Token
}
