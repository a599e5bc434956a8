package auth

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID      uuid.UUID
	IsSuperuser bool
	Permissions []string
	JTI         string
}

// AccessTokenClaims represents the typed JWT issued to operators.
type AccessTokenClaims struct {
	UserID      uuid.UUID `json:"user_id"`
	IsSuperuser bool      `json:"is_superuser"`
	Permissions []string  `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// Permission formats a resource.action capability.
func Permission(resource, action string) string {
	return strings.ToLower(strings.TrimSpace(resource)) + "." + strings.ToLower(strings.TrimSpace(action))
}

// Can reports whether the claims grant resource.action. Superusers hold every
// permission and "resource.*" grants all actions on a resource.
func (c *AccessTokenClaims) Can(resource, action string) bool {
	if c == nil {
		return false
	}
	if c.IsSuperuser {
		return true
	}
	want := Permission(resource, action)
	wildcard := Permission(resource, "*")
	for _, granted := range c.Permissions {
		granted = strings.ToLower(strings.TrimSpace(granted))
		if granted == want || granted == wildcard {
			return true
		}
	}
	return false
}
