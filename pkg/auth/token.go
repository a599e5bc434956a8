package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/stockledger-backend/pkg/config"
)

// Audience marks tokens minted for the operator API.
const Audience = "stockledger-operator"

// clockSkew tolerates small drift between the minting host and the API.
const clockSkew = 30 * time.Second

// Resources lists every resource a permission may name.
var Resources = []string{"sales", "stock", "product", "location", "terminal", "reconciliation"}

var signingMethod = jwt.SigningMethodHS256

// NormalizePermissions lower-cases, validates and de-duplicates
// resource.action entries, keeping their first-seen order.
func NormalizePermissions(perms []string) ([]string, error) {
	out := make([]string, 0, len(perms))
	for _, raw := range perms {
		resource, action, ok := strings.Cut(strings.ToLower(strings.TrimSpace(raw)), ".")
		if !ok || action == "" {
			return nil, fmt.Errorf("invalid permission %q", raw)
		}
		if !slices.Contains(Resources, resource) {
			return nil, fmt.Errorf("unknown resource in permission %q", raw)
		}
		perm := Permission(resource, action)
		if !slices.Contains(out, perm) {
			out = append(out, perm)
		}
	}
	return out, nil
}

// MintAccessToken issues an HS256 operator token valid for the configured TTL.
func MintAccessToken(cfg config.JWTConfig, now time.Time, payload AccessTokenPayload) (string, error) {
	switch {
	case cfg.Secret == "":
		return "", errors.New("jwt secret is required")
	case cfg.Issuer == "":
		return "", errors.New("jwt issuer is required")
	case cfg.ExpirationMinutes <= 0:
		return "", errors.New("jwt expiration minutes must be positive")
	case payload.UserID == uuid.Nil:
		return "", errors.New("user id is required")
	}
	perms, err := NormalizePermissions(payload.Permissions)
	if err != nil {
		return "", err
	}

	jti := strings.TrimSpace(payload.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}
	claims := AccessTokenClaims{
		UserID:      payload.UserID,
		IsSuperuser: payload.IsSuperuser,
		Permissions: perms,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   payload.UserID.String(),
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(cfg.ExpirationMinutes) * time.Minute)),
			ID:        jti,
		},
	}

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// ParseAccessToken verifies signature, issuer, audience and expiry and
// returns the typed claims.
func ParseAccessToken(cfg config.JWTConfig, tokenString string) (*AccessTokenClaims, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}

	claims := &AccessTokenClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(*jwt.Token) (any, error) { return []byte(cfg.Secret), nil },
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)
	if err != nil {
		return nil, err
	}
	if claims.UserID == uuid.Nil {
		return nil, errors.New("token carries no user id")
	}
	return claims, nil
}
