package models

import "github.com/golang-jwt/jwt/v5"

// UserRole scopes what an authenticated operator may do.
type UserRole string

const (
	RoleAdmin    UserRole = "ADMIN"
	RoleOperator UserRole = "OPERATOR"
	RoleViewer   UserRole = "VIEWER"
)

// JWTClaims is the payload of access tokens issued by the identity service.
// This service only verifies tokens, it never issues them.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	TenantID string   `json:"tenant_id"`
	jwt.RegisteredClaims
}
