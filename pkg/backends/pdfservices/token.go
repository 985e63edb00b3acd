package pdfservices

import (
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expirySkew renews a token slightly before the server would reject it.
const expirySkew = 60 * time.Second

// Token is an access token for the PDF service.
type Token struct {
	AccessToken string
	TokenType   string
	// ExpiresAt is zero when the expiry is unknown.
	ExpiresAt time.Time
}

func (t *Token) valid(now time.Time) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	return t.ExpiresAt.IsZero() || now.Add(expirySkew).Before(t.ExpiresAt)
}

// jwtExpiry reads the exp claim without verifying the signature; the token is
// only ever sent back to the server that issued it.
func jwtExpiry(raw string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// tokenHolder is shared by concurrent runs of one client.
type tokenHolder struct {
	p atomic.Pointer[Token]
}

func (h *tokenHolder) load(now time.Time) (*Token, bool) {
	t := h.p.Load()
	return t, t.valid(now)
}

func (h *tokenHolder) store(t *Token) { h.p.Store(t) }

// invalidate drops stale only if it is still the current token.
func (h *tokenHolder) invalidate(stale *Token) { h.p.CompareAndSwap(stale, nil) }
