package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"quiz-attempt-service/internal/domain"
)

// Authenticator resolves the caller of a request to a user identifier.
type Authenticator interface {
	Authenticate(r *http.Request) domain.AuthResult
}

// JWTAuthenticator accepts HS256 bearer tokens whose subject is the user ID.
// Browsers cannot set headers on a websocket upgrade, so the access_token query
// parameter is accepted as well.
type JWTAuthenticator struct {
	hmac   []byte
	issuer string
	now    func() time.Time
}

func NewJWTAuthenticator(secret, issuer string) *JWTAuthenticator {
	return &JWTAuthenticator{hmac: []byte(secret), issuer: issuer, now: time.Now}
}

// Issue signs a token for userID. Used by tooling and tests; production tokens come from the identity provider.
func (a *JWTAuthenticator) Issue(userID string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.hmac)
	return token, errors.Wrap(err, "sign token")
}

func (a *JWTAuthenticator) Authenticate(r *http.Request) domain.AuthResult {
	raw := bearer(r)
	if raw == "" {
		return domain.Rejected{Reason: "missing bearer token"}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.hmac, nil
	}, opts...)
	if err != nil || !token.Valid {
		return domain.Rejected{Reason: "invalid token"}
	}
	if claims.Subject == "" {
		return domain.Rejected{Reason: "token has no subject"}
	}
	return domain.Authenticated{UserID: claims.Subject}
}

func bearer(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("access_token")
}

// HeaderAuthenticator trusts a header set by an upstream gateway that already authenticated the caller.
type HeaderAuthenticator struct {
	header string
}

func NewHeaderAuthenticator(header string) *HeaderAuthenticator {
	return &HeaderAuthenticator{header: header}
}

func (a *HeaderAuthenticator) Authenticate(r *http.Request) domain.AuthResult {
	userID := strings.TrimSpace(r.Header.Get(a.header))
	if userID == "" {
		return domain.Rejected{Reason: "missing " + a.header + " header"}
	}
	return domain.Authenticated{UserID: userID}
}

// Chain tries each authenticator in order and returns the first success, or the last rejection.
type Chain []Authenticator

func (c Chain) Authenticate(r *http.Request) domain.AuthResult {
	var result domain.AuthResult = domain.Rejected{Reason: "no authenticator configured"}
	for _, a := range c {
		result = a.Authenticate(r)
		if _, ok := result.(domain.Authenticated); ok {
			return result
		}
	}
	return result
}
