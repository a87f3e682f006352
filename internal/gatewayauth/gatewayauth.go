// Package gatewayauth protects the optional loopback HTTP control
// surface (doctor results, Prometheus metrics) with bearer-token
// verification: a JWT issued and checked locally, and an oauth2 token
// source for internal callers (e.g. a remote doctor probe) that need to
// attach the same bearer token to outgoing requests.
package gatewayauth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

var (
	ErrDisabled      = errors.New("gatewayauth: verifier has no signing key configured")
	ErrMissingToken  = errors.New("gatewayauth: missing bearer token")
	ErrInvalidToken  = errors.New("gatewayauth: invalid or expired token")
	ErrWrongAudience = errors.New("gatewayauth: token audience does not match")
)

// Claims is the JWT payload issued for control-surface access.
type Claims struct {
	jwt.RegisteredClaims
}

// Verifier issues and validates HS256 JWTs for the control surface.
type Verifier struct {
	secret   []byte
	audience string
}

// NewVerifier builds a Verifier. expectedAudience may be empty to skip
// the audience check.
func NewVerifier(signingKey, expectedAudience string) *Verifier {
	return &Verifier{secret: []byte(signingKey), audience: expectedAudience}
}

// Enabled reports whether a signing key was configured; callers use
// this to make the control surface a no-op pass-through when auth isn't
// set up (e.g. local development).
func (v *Verifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

// IssueToken signs a token for subject valid for ttl.
func (v *Verifier) IssueToken(subject string, ttl time.Duration) (string, error) {
	if !v.Enabled() {
		return "", ErrDisabled
	}
	now := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Validate parses and checks tokenString, returning the subject on success.
func (v *Verifier) Validate(tokenString string) (string, error) {
	if !v.Enabled() {
		return "", ErrDisabled
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || strings.TrimSpace(claims.Subject) == "" {
		return "", ErrInvalidToken
	}
	if v.audience != "" {
		var matched bool
		for _, aud := range claims.Audience {
			if aud == v.audience {
				matched = true
				break
			}
		}
		if !matched {
			return "", ErrWrongAudience
		}
	}
	return claims.Subject, nil
}

// Middleware wraps next, requiring a valid bearer token on every
// request. When the verifier is disabled, requests pass through
// unauthenticated so local development doesn't need a signing key.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !v.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" {
			http.Error(w, ErrMissingToken.Error(), http.StatusUnauthorized)
			return
		}
		if _, err := v.Validate(token); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// ClientFor returns an *http.Client that attaches token as a bearer
// credential on every outgoing request, for internal callers (e.g. a
// remote doctor probe) that need to reach an auth-protected control
// surface.
func ClientFor(ctx context.Context, token string) *http.Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	return oauth2.NewClient(ctx, src)
}
