package transport

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/kursadbilgin/comms-gateway/internal/observability"
)

const (
	localTenantID = "tenantId"
	localUserID   = "userId"

	tokenIssuer = "comms-gateway"
)

// Claims carried by gateway bearer tokens. The tenant claim scopes every
// request; Subject identifies the calling user when there is one.
type Claims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

func NewAuthenticator(secret string) (*Authenticator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is required")
	}

	return &Authenticator{
		secret: []byte(secret),
		now:    time.Now,
	}, nil
}

// Issue signs a token for tenantID. A zero ttl defaults to 24 hours.
func (a *Authenticator) Issue(tenantID string, subject string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(tenantID) == "" {
		return "", errors.New("tenant id is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	now := a.now()
	claims := Claims{
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse verifies tokenString and returns its claims. A leading "Bearer "
// prefix is accepted.
func (a *Authenticator) Parse(tokenString string) (*Claims, error) {
	tokenString = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(tokenString), "Bearer "))
	if tokenString == "" {
		return nil, errors.New("missing bearer token")
	}

	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if _, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	now := a.now()
	if !claims.VerifyExpiresAt(now, true) {
		return nil, errors.New("token is expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return nil, errors.New("token is not valid yet")
	}
	if strings.TrimSpace(claims.TenantID) == "" {
		return nil, errors.New("token has no tenant_id claim")
	}

	return claims, nil
}

// Middleware rejects requests without a valid bearer token and exposes the
// tenant to handlers through TenantID and the request user context.
func (a *Authenticator) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(header, "Bearer ") {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}

		claims, err := a.Parse(header)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}

		c.Locals(localTenantID, claims.TenantID)
		c.Locals(localUserID, claims.Subject)

		ctx := observability.WithTenantID(c.UserContext(), claims.TenantID)
		if requestID, ok := c.Locals("requestid").(string); ok && requestID != "" {
			ctx = observability.WithCorrelationID(ctx, requestID)
		}
		c.SetUserContext(ctx)

		return c.Next()
	}
}

// TenantID returns the authenticated tenant of the request, or "".
func TenantID(c *fiber.Ctx) string {
	tenantID, _ := c.Locals(localTenantID).(string)
	return tenantID
}

// UserID returns the token subject of the request, or "".
func UserID(c *fiber.Ctx) string {
	userID, _ := c.Locals(localUserID).(string)
	return userID
}
