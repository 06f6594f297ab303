package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret-key-32-bytes-long!!!")

func newVerifier() JWTVerifier { return JWTVerifier{Secret: testSecret} }

func mustIssue(t *testing.T, subject string, ttl time.Duration) string {
	t.Helper()
	tok, err := newVerifier().Issue(subject, ttl)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return tok
}

func TestJWTVerifier_RoundTrip(t *testing.T) {
	claims, err := newVerifier().Parse(mustIssue(t, "user-1", time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("expected subject 'user-1', got %q", claims.Subject)
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	if _, err := newVerifier().Parse(mustIssue(t, "user-1", -time.Hour)); err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestJWTVerifier_WrongSecret(t *testing.T) {
	tok := mustIssue(t, "user-1", time.Hour)
	if _, err := (JWTVerifier{Secret: []byte("other")}).Parse(tok); err == nil {
		t.Fatal("expected error for wrong secret")
	}
}

func TestJWTVerifier_RejectsOtherAlgorithms(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}})
	signed, err := tok.SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := newVerifier().Parse(signed); err == nil {
		t.Fatal("expected HS512 token to be rejected")
	}
}

func TestIssue_RequiresUser(t *testing.T) {
	if _, err := newVerifier().Issue(" ", time.Hour); err == nil {
		t.Fatal("expected error for empty user")
	}
}

func callRequireUser(req *http.Request) (*httptest.ResponseRecorder, string) {
	var seen string
	h := RequireUser(newVerifier())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr, seen
}

func TestRequireUser_ValidBearer(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+mustIssue(t, "user-42", time.Hour))

	rr, uid := callRequireUser(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if uid != "user-42" {
		t.Fatalf("expected user-42 in context, got %q", uid)
	}
}

func TestRequireUser_Rejects(t *testing.T) {
	cases := map[string]string{
		"missing":   "",
		"basic":     "Basic dXNlcjpwYXNz",
		"garbage":   "Bearer not-a-jwt",
		"truncated": "Bearer " + mustIssue(t, "x", time.Hour)[:10],
	}
	for name, header := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rr, _ := callRequireUser(req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "UNAUTHORIZED") {
			t.Fatalf("%s: expected error envelope, got %q", name, rr.Body.String())
		}
	}
}
