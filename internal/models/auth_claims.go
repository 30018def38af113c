package models

import "github.com/golang-jwt/jwt/v5"

// Roles carried in the access token.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

type JwtCustomClaims struct {
	UserID string `json:"userID"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the token grants operator access.
func (c *JwtCustomClaims) IsAdmin() bool {
	return c.Role == RoleAdmin
}
