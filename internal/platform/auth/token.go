package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenUseAccess  = "access"
	tokenUseRefresh = "refresh"

	defaultRefreshTTL = 7 * 24 * time.Hour
)

// TokenIssuer signs HS256 access and refresh tokens.
type TokenIssuer struct {
	issuer     string
	key        []byte
	ttl        time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewTokenIssuer(issuer string, key []byte, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{issuer: issuer, key: key, ttl: ttl, refreshTTL: defaultRefreshTTL, now: time.Now}
}

// WithRefreshTTL sets the refresh token lifetime. Non-positive values keep
// the default of seven days.
func (i *TokenIssuer) WithRefreshTTL(d time.Duration) *TokenIssuer {
	if d > 0 {
		i.refreshTTL = d
	}
	return i
}

// IssuedToken is a signed access/refresh pair and their expiries.
type IssuedToken struct {
	AccessToken      string    `json:"accessToken"`
	TokenType        string    `json:"tokenType"`
	ExpiresAt        time.Time `json:"expiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

func (i *TokenIssuer) Issue(userID uuid.UUID, role Role) (*IssuedToken, error) {
	now := i.now()
	access, exp, err := i.sign(userID, role, tokenUseAccess, now, i.ttl)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, refreshExp, err := i.sign(userID, role, tokenUseRefresh, now, i.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}
	return &IssuedToken{
		AccessToken:      access,
		TokenType:        "Bearer",
		ExpiresAt:        exp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (i *TokenIssuer) sign(userID uuid.UUID, role Role, use string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID.String(),
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Role: string(role),
		Use:  use,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	return signed, exp, err
}

// ParseRefresh validates a refresh token signed by this issuer. Access
// tokens are rejected.
func (i *TokenIssuer) ParseRefresh(tokenStr string) (*Claims, error) {
	claims, err := ParseToken(JWTConfig{Issuer: i.issuer, SigningKey: i.key}, tokenStr)
	if err != nil {
		return nil, Unauthorized("invalid refresh token")
	}
	if claims.Use != tokenUseRefresh {
		return nil, Unauthorized("not a refresh token")
	}
	return claims, nil
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
