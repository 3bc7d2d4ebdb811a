package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// Permission is a capability carried by an operator token.
type Permission string

const (
	PermissionVersionsWrite      Permission = "versions:write"
	PermissionPackagesWrite      Permission = "packages:write"
	PermissionDistributionsWrite Permission = "distributions:write"
	PermissionRollbacksCreate    Permission = "rollbacks:create"
	PermissionRollbacksApprove   Permission = "rollbacks:approve"
	PermissionRollbacksExecute   Permission = "rollbacks:execute"
	PermissionTelemetryWrite     Permission = "telemetry:write"
)

// Principal is the authenticated caller passed into each operation.
type Principal struct {
	ID          string       `json:"id"`
	Permissions []Permission `json:"permissions"`
}

// Can reports whether the principal holds perm.
func (p Principal) Can(perm Permission) bool {
	for _, granted := range p.Permissions {
		if granted == perm {
			return true
		}
	}
	return false
}

// SystemPrincipal is used by scheduled triggers that run without an operator token.
func SystemPrincipal() Principal {
	return Principal{ID: "system", Permissions: []Permission{PermissionDistributionsWrite}}
}

// JWTClaims represents the JWT payload for operator access tokens.
type JWTClaims struct {
	UserID      string       `json:"user_id"`
	Permissions []Permission `json:"permissions"`
	jwt.RegisteredClaims
}

// Principal converts claims into the capability set used by services.
func (c *JWTClaims) Principal() Principal {
	if c == nil {
		return Principal{}
	}
	perms := make([]Permission, len(c.Permissions))
	copy(perms, c.Permissions)
	return Principal{ID: c.UserID, Permissions: perms}
}
