package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func validClaims(sub string, role Role) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "jti-" + sub,
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Role: string(role),
	}
}

func runMiddleware(t *testing.T, cfg JWTConfig, req *http.Request, handler echo.HandlerFunc) error {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/appointments")
	return JWTMiddleware(cfg)(handler)(c)
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %d error, got nil", code)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	err := runMiddleware(t, JWTConfig{SigningKey: testSigningKey}, req, okHandler)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", tt.header)
			err := runMiddleware(t, JWTConfig{SigningKey: testSigningKey}, req, okHandler)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	userID := uuid.New()
	tokenStr := createTestToken(t, validClaims(userID.String(), RoleDoctor), testSigningKey)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)

	var got Identity
	err := runMiddleware(t, JWTConfig{SigningKey: testSigningKey}, req, func(c echo.Context) error {
		id, ok := IdentityFromContext(c.Request().Context())
		if !ok {
			t.Fatal("identity missing from context")
		}
		got = id
		return c.String(http.StatusOK, "ok")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.UserID != userID {
		t.Errorf("expected user %s, got %s", userID, got.UserID)
	}
	if got.Role != RoleDoctor {
		t.Errorf("expected DOCTOR, got %s", got.Role)
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	claims := validClaims(uuid.NewString(), RolePatient)
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-1 * time.Hour))
	claims.IssuedAt = jwt.NewNumericDate(time.Now().Add(-2 * time.Hour))
	tokenStr := createTestToken(t, claims, testSigningKey)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	err := runMiddleware(t, JWTConfig{SigningKey: testSigningKey}, req, okHandler)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	tokenStr := createTestToken(t, validClaims(uuid.NewString(), RolePatient), []byte("another-key"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	err := runMiddleware(t, JWTConfig{SigningKey: testSigningKey}, req, okHandler)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_UnknownRole(t *testing.T) {
	tokenStr := createTestToken(t, validClaims(uuid.NewString(), Role("NURSE")), testSigningKey)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	err := runMiddleware(t, JWTConfig{SigningKey: testSigningKey}, req, okHandler)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_QueryToken(t *testing.T) {
	tokenStr := createTestToken(t, validClaims(uuid.NewString(), RolePatient), testSigningKey)

	req := httptest.NewRequest(http.MethodGet, "/ws?token="+tokenStr, nil)
	if err := runMiddleware(t, JWTConfig{SigningKey: testSigningKey}, req, okHandler); err == nil {
		t.Fatal("expected query token to be rejected when not allowed")
	}

	req = httptest.NewRequest(http.MethodGet, "/ws?token="+tokenStr, nil)
	cfg := JWTConfig{SigningKey: testSigningKey, AllowQueryToken: true}
	if err := runMiddleware(t, cfg, req, okHandler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestJWTMiddleware_RevokedToken(t *testing.T) {
	claims := validClaims(uuid.NewString(), RolePatient)
	tokenStr := createTestToken(t, claims, testSigningKey)

	store := NewMemoryRevocationStore()
	if err := store.Revoke(context.Background(), claims.ID, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	err := runMiddleware(t, JWTConfig{SigningKey: testSigningKey, Revoked: store}, req, okHandler)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_PublicPath(t *testing.T) {
	for _, path := range []string{"/api/auth/login", "/api/auth/refresh"} {
		e := echo.New()
		req := httptest.NewRequest(http.MethodPost, path, nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetPath(path)

		if err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(okHandler)(c); err != nil {
			t.Errorf("%s: expected public path to bypass auth, got %v", path, err)
		}
	}
}

func TestTokenIssuer_RoundTrip(t *testing.T) {
	userID := uuid.New()
	issuer := NewTokenIssuer("telehealth", testSigningKey, 15*time.Minute)

	tok, err := issuer.Issue(userID, RoleAdmin)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if tok.TokenType != "Bearer" {
		t.Errorf("expected Bearer, got %s", tok.TokenType)
	}

	claims, err := ParseToken(JWTConfig{Issuer: "telehealth", SigningKey: testSigningKey}, tok.AccessToken)
	if err != nil {
		t.Fatalf("ParseToken() error: %v", err)
	}
	if claims.Subject != userID.String() {
		t.Errorf("expected subject %s, got %s", userID, claims.Subject)
	}
	if claims.Role != string(RoleAdmin) {
		t.Errorf("expected ADMIN, got %s", claims.Role)
	}
	if claims.ID == "" {
		t.Error("expected a jti")
	}

	if _, err := ParseToken(JWTConfig{Issuer: "someone-else", SigningKey: testSigningKey}, tok.AccessToken); err == nil {
		t.Error("expected issuer mismatch to fail")
	}
}

func TestTokenIssuer_RefreshToken(t *testing.T) {
	userID := uuid.New()
	issuer := NewTokenIssuer("telehealth", testSigningKey, 15*time.Minute).WithRefreshTTL(48 * time.Hour)

	tok, err := issuer.Issue(userID, RolePatient)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if tok.RefreshToken == "" || !tok.RefreshExpiresAt.After(tok.ExpiresAt) {
		t.Fatalf("expected a longer-lived refresh token, got %+v", tok)
	}

	claims, err := issuer.ParseRefresh(tok.RefreshToken)
	if err != nil {
		t.Fatalf("ParseRefresh() error: %v", err)
	}
	if claims.Subject != userID.String() || !claims.IsRefresh() {
		t.Errorf("unexpected refresh claims %+v", claims)
	}

	_, err = issuer.ParseRefresh(tok.AccessToken)
	expectStatus(t, err, http.StatusUnauthorized)
	_, err = issuer.ParseRefresh("garbage")
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_RejectsRefreshToken(t *testing.T) {
	issuer := NewTokenIssuer("telehealth", testSigningKey, 15*time.Minute)
	tok, err := issuer.Issue(uuid.New(), RolePatient)
	if err != nil {
		t.Fatal(err)
	}
	cfg := JWTConfig{Issuer: "telehealth", SigningKey: testSigningKey}

	req := httptest.NewRequest(http.MethodGet, "/api/appointments", nil)
	req.Header.Set("Authorization", "Bearer "+tok.RefreshToken)
	expectStatus(t, runMiddleware(t, cfg, req, okHandler), http.StatusUnauthorized)

	req = httptest.NewRequest(http.MethodGet, "/api/appointments", nil)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	if err := runMiddleware(t, cfg, req, okHandler); err != nil {
		t.Errorf("access token rejected: %v", err)
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword() error: %v", err)
	}
	if hash == "correct horse" {
		t.Fatal("hash must not equal the password")
	}
	if !CheckPassword(hash, "correct horse") {
		t.Error("expected password to match")
	}
	if CheckPassword(hash, "wrong") {
		t.Error("expected wrong password to fail")
	}
}
