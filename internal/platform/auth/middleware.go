package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const identityKey contextKey = "identity"

// Role is the coarse account role carried in the access token.
type Role string

const (
	RolePatient    Role = "PATIENT"
	RoleDoctor     Role = "DOCTOR"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// ParseRole returns the Role named by s, case-insensitively.
func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RolePatient, RoleDoctor, RoleAdmin, RoleSuperAdmin:
		return r, true
	}
	return "", false
}

// IsAdmin reports whether r bypasses ownership checks.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
	// Use is "access" or "refresh". Tokens minted before refresh support
	// carry no use and count as access tokens.
	Use string `json:"use,omitempty"`
}

// IsRefresh reports whether the token may only be exchanged at the refresh
// endpoint.
func (c *Claims) IsRefresh() bool { return c.Use == tokenUseRefresh }

// Unauthorized returns a 401 error with msg.
func Unauthorized(msg string) error {
	return echo.NewHTTPError(http.StatusUnauthorized, msg)
}

type JWTConfig struct {
	Issuer     string
	Audience   string
	SigningKey []byte
	// AllowQueryToken accepts ?token= when no Authorization header is sent.
	// Browsers cannot set headers on a websocket upgrade.
	AllowQueryToken bool
	// Revoked, when set, rejects tokens whose jti has been revoked.
	Revoked RevocationChecker
}

// Identity is the authenticated caller.
type Identity struct {
	UserID uuid.UUID
	Role   Role
}

func (id Identity) IsAdmin() bool { return id.Role.IsAdmin() }

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the caller set by JWTMiddleware.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// MustIdentity returns the caller or a 401 error for handlers mounted behind
// JWTMiddleware.
func MustIdentity(c echo.Context) (Identity, error) {
	id, ok := IdentityFromContext(c.Request().Context())
	if !ok {
		return Identity{}, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return id, nil
}

func bearerToken(c echo.Context, allowQuery bool) (string, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		if allowQuery {
			if tok := c.QueryParam("token"); tok != "" {
				return tok, nil
			}
		}
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	}
	return parts[1], nil
}

// ParseToken validates an HS256 access token and returns its claims.
func ParseToken(cfg JWTConfig, tokenStr string) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return cfg.SigningKey, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	return claims, nil
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if IsPublicPath(c.Path()) {
				return next(c)
			}

			tokenStr, err := bearerToken(c, cfg.AllowQueryToken)
			if err != nil {
				return err
			}

			claims, err := ParseToken(cfg, tokenStr)
			if err != nil {
				return err
			}
			if claims.IsRefresh() {
				return Unauthorized("refresh tokens cannot authorize requests")
			}

			userID, err := uuid.Parse(claims.Subject)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token subject")
			}
			role, ok := ParseRole(claims.Role)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token role")
			}

			ctx := c.Request().Context()
			if cfg.Revoked != nil && claims.ID != "" {
				revoked, err := cfg.Revoked.IsRevoked(ctx, claims.ID)
				if err != nil {
					return err
				}
				if revoked {
					return echo.NewHTTPError(http.StatusUnauthorized, "token has been revoked")
				}
			}

			c.Set("user_id", userID.String())
			c.Set("jwt_claims", claims)
			c.SetRequest(c.Request().WithContext(WithIdentity(ctx, Identity{UserID: userID, Role: role})))

			return next(c)
		}
	}
}

// ClaimsFromContext returns the parsed claims of the current request.
func ClaimsFromContext(c echo.Context) (*Claims, bool) {
	claims, ok := c.Get("jwt_claims").(*Claims)
	return claims, ok
}
