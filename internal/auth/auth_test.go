package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"quiz-attempt-service/internal/domain"
)

func TestJWTAuthenticatorAcceptsIssuedToken(t *testing.T) {
	a := NewJWTAuthenticator("secret", "quiz-attempt-service")
	token, err := a.Issue("u1", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/attempts/a1", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	if got := a.Authenticate(r); got != (domain.Authenticated{UserID: "u1"}) {
		t.Fatalf("expected u1, got %#v", got)
	}

	ws := httptest.NewRequest(http.MethodGet, "/ws?attemptId=a1&access_token="+token, nil)
	if got := a.Authenticate(ws); got != (domain.Authenticated{UserID: "u1"}) {
		t.Fatalf("expected u1 from query token, got %#v", got)
	}
}

func TestJWTAuthenticatorRejects(t *testing.T) {
	a := NewJWTAuthenticator("secret", "quiz-attempt-service")
	otherKey, _ := NewJWTAuthenticator("other", "quiz-attempt-service").Issue("u1", time.Hour)
	otherIssuer, _ := NewJWTAuthenticator("secret", "someone-else").Issue("u1", time.Hour)

	expiredIssuer := NewJWTAuthenticator("secret", "quiz-attempt-service")
	expiredIssuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := expiredIssuer.Issue("u1", time.Hour)

	cases := map[string]string{
		"missing":      "",
		"garbage":      "Bearer not-a-token",
		"wrong key":    "Bearer " + otherKey,
		"wrong issuer": "Bearer " + otherIssuer,
		"expired":      "Bearer " + expired,
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				r.Header.Set("Authorization", header)
			}
			if _, ok := a.Authenticate(r).(domain.Rejected); !ok {
				t.Fatalf("expected rejection")
			}
		})
	}
}

func TestHeaderAuthenticatorAndChain(t *testing.T) {
	chain := Chain{
		NewJWTAuthenticator("secret", ""),
		NewHeaderAuthenticator("X-User-ID"),
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-User-ID", "gateway-user")
	if got := chain.Authenticate(r); got != (domain.Authenticated{UserID: "gateway-user"}) {
		t.Fatalf("expected gateway-user, got %#v", got)
	}

	anonymous := httptest.NewRequest(http.MethodGet, "/", nil)
	rejected, ok := chain.Authenticate(anonymous).(domain.Rejected)
	if !ok || rejected.Reason != "missing X-User-ID header" {
		t.Fatalf("expected last rejection, got %#v", rejected)
	}

	if _, ok := (Chain{}).Authenticate(anonymous).(domain.Rejected); !ok {
		t.Fatalf("empty chain must reject")
	}
}
