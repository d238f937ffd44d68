// Package media mints short-lived tokens that admit a participant to a
// video or audio channel.
package media

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/telehealth/telehealth/internal/platform/apperr"
)

// Role is the channel privilege granted by a token.
type Role string

const (
	RolePublisher  Role = "publisher"
	RoleSubscriber Role = "subscriber"
)

const DefaultTTL = time.Hour

var ErrNotConfigured = apperr.New(apperr.ErrConfiguration, "media credentials not configured")

// Token is a minted channel credential.
type Token struct {
	Token     string    `json:"token"`
	AppID     string    `json:"appId"`
	Channel   string    `json:"channel"`
	UID       string    `json:"uid"`
	Role      Role      `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Provider mints channel tokens.
type Provider interface {
	MintToken(channel string, userID uuid.UUID, role Role, ttl time.Duration) (*Token, error)
}

type channelClaims struct {
	jwt.RegisteredClaims
	Channel string `json:"channel"`
	Role    Role   `json:"role"`
}

// TokenProvider signs HS256 tokens with the application certificate.
type TokenProvider struct {
	appID       string
	certificate []byte
	now         func() time.Time
}

func NewTokenProvider(appID, certificate string) *TokenProvider {
	return &TokenProvider{appID: appID, certificate: []byte(certificate), now: time.Now}
}

// WithClock overrides the clock used for issued-at and expiry.
func (p *TokenProvider) WithClock(now func() time.Time) *TokenProvider {
	p.now = now
	return p
}

func (p *TokenProvider) MintToken(channel string, userID uuid.UUID, role Role, ttl time.Duration) (*Token, error) {
	if p.appID == "" || len(p.certificate) == 0 {
		return nil, ErrNotConfigured
	}
	if channel == "" {
		return nil, apperr.New(apperr.ErrValidation, "channel is required")
	}
	if role != RolePublisher && role != RoleSubscriber {
		return nil, apperr.Newf(apperr.ErrValidation, "unknown media role %q", role)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	issued := p.now().UTC()
	expires := issued.Add(ttl)
	claims := channelClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.appID,
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Channel: channel,
		Role:    role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.certificate)
	if err != nil {
		return nil, fmt.Errorf("sign media token: %w", err)
	}
	return &Token{
		Token:     signed,
		AppID:     p.appID,
		Channel:   channel,
		UID:       userID.String(),
		Role:      role,
		ExpiresAt: expires,
	}, nil
}

// Verify parses a token minted by this provider and returns its channel,
// subject and role.
func (p *TokenProvider) Verify(tokenStr string) (channel string, userID uuid.UUID, role Role, err error) {
	claims := &channelClaims{}
	_, err = jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return p.certificate, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.appID),
		jwt.WithTimeFunc(p.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", uuid.Nil, "", fmt.Errorf("verify media token: %w", err)
	}
	userID, err = uuid.Parse(claims.Subject)
	if err != nil {
		return "", uuid.Nil, "", fmt.Errorf("verify media token: bad subject: %w", err)
	}
	return claims.Channel, userID, claims.Role, nil
}
