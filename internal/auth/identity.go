// Package auth resolves the current user's identity for a request.
// In deployed environments the fronting identity proxy sets a forwarded
// email header; programmatic callers may present an HMAC-signed bearer
// token instead.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoIdentity   = errors.New("no identity on request")
	ErrInvalidToken = errors.New("invalid token")
)

// DefaultUserHeader is the forwarded-identity header checked when none is
// configured.
const DefaultUserHeader = "X-Forwarded-Email"

// Resolver extracts the user email from incoming requests.
type Resolver struct {
	userHeader  string
	secret      []byte
	defaultUser string
}

// NewResolver builds an identity resolver. jwtSecret may be empty to
// disable bearer-token support; defaultUser may be empty to require a
// real identity on every request.
func NewResolver(userHeader, jwtSecret, defaultUser string) *Resolver {
	if userHeader == "" {
		userHeader = DefaultUserHeader
	}
	r := &Resolver{userHeader: userHeader, defaultUser: defaultUser}
	if strings.TrimSpace(jwtSecret) != "" {
		r.secret = []byte(jwtSecret)
	}
	return r
}

type claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// CurrentUser returns the authenticated user email for a request.
// Precedence: forwarded header, bearer token, configured default.
func (r *Resolver) CurrentUser(req *http.Request) (string, error) {
	if email := strings.TrimSpace(req.Header.Get(r.userHeader)); email != "" {
		return email, nil
	}

	if authz := req.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") && len(r.secret) > 0 {
		email, err := r.validateToken(strings.TrimPrefix(authz, "Bearer "))
		if err != nil {
			return "", err
		}
		return email, nil
	}

	if r.defaultUser != "" {
		return r.defaultUser, nil
	}
	return "", ErrNoIdentity
}

func (r *Resolver) validateToken(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil {
		return "", ErrInvalidToken
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return "", ErrInvalidToken
	}
	email := strings.TrimSpace(c.Email)
	if email == "" {
		email = strings.TrimSpace(c.Subject)
	}
	if email == "" {
		return "", ErrInvalidToken
	}
	return email, nil
}
