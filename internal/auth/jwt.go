// Package auth inspects the store credential. The service role key is a JWT
// signed by the store; it is never verified here, only read.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ServiceRole is the role that bypasses row level security.
const ServiceRole = "service_role"

// Claims represents the JWT payload of a store key.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// KeyInfo describes a store key.
type KeyInfo struct {
	Role      string
	Issuer    string
	ExpiresAt time.Time
	// Warnings lists problems worth logging at startup.
	Warnings []string
}

// ErrNotJWT is returned for keys that are not JWTs, such as newer opaque
// secret keys.
var ErrNotJWT = errors.New("key is not a JWT")

// InspectServiceKey reads the claims of key without verifying its signature.
func InspectServiceKey(key string, now time.Time) (KeyInfo, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(key, &claims); err != nil {
		return KeyInfo{}, ErrNotJWT
	}
	info := KeyInfo{Role: claims.Role, Issuer: claims.Issuer}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
		if !now.Before(info.ExpiresAt) {
			info.Warnings = append(info.Warnings, "key expired at "+info.ExpiresAt.UTC().Format(time.RFC3339))
		}
	}
	if claims.Role != ServiceRole {
		info.Warnings = append(info.Warnings, "key role is "+quoteRole(claims.Role)+", not service_role; row level security applies")
	}
	return info, nil
}

func quoteRole(role string) string {
	if role == "" {
		return "empty"
	}
	return `"` + role + `"`
}
