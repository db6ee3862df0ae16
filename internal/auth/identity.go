package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoIdentity   = errors.New("no identity")
	ErrTokenInvalid = errors.New("invalid token")
)

const (
	HeaderUserID  = "X-User-Id"
	QueryUser     = "user"
	QueryToken    = "access_token"
	defaultIssuer = "notifyhub"
)

// Claims carries the player identity in the standard subject claim.
type Claims struct {
	jwt.RegisteredClaims
}

// IdentityResolver extracts the caller identity from a session request.
// With an empty secret, tokens are rejected and only the plain user
// parameter or header is honoured.
type IdentityResolver struct {
	secret     []byte
	allowPlain bool
}

func NewIdentityResolver(secret string, allowPlain bool) *IdentityResolver {
	return &IdentityResolver{secret: []byte(secret), allowPlain: allowPlain}
}

// FromRequest checks access_token, then the user query parameter, then the
// X-User-Id header.
func (r *IdentityResolver) FromRequest(req *http.Request) (string, error) {
	q := req.URL.Query()
	if tok := q.Get(QueryToken); tok != "" {
		return r.FromToken(tok)
	}
	if h := req.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return r.FromToken(tok)
		}
	}
	if !r.allowPlain {
		return "", ErrNoIdentity
	}
	if id := strings.TrimSpace(q.Get(QueryUser)); id != "" {
		return id, nil
	}
	if id := strings.TrimSpace(req.Header.Get(HeaderUserID)); id != "" {
		return id, nil
	}
	return "", ErrNoIdentity
}

// FromPlain applies the same rules to values taken from other transports.
func (r *IdentityResolver) FromPlain(token, user string) (string, error) {
	if token != "" {
		return r.FromToken(token)
	}
	if !r.allowPlain {
		return "", ErrNoIdentity
	}
	if id := strings.TrimSpace(user); id != "" {
		return id, nil
	}
	return "", ErrNoIdentity
}

func (r *IdentityResolver) FromToken(tok string) (string, error) {
	if len(r.secret) == 0 {
		return "", fmt.Errorf("%w: token auth disabled", ErrTokenInvalid)
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	sub, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return "", fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return sub, nil
}

// Issue signs an HS256 token for identity. Used by tooling and tests.
func (r *IdentityResolver) Issue(identity string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   identity,
		Issuer:    defaultIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}
