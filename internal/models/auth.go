package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the JWT payload of an authenticated caller. Tokens are
// issued elsewhere; this service only verifies them.
type JWTClaims struct {
	UserID string   `json:"user_id"`
	Role   UserRole `json:"role"`
	Email  string   `json:"email"`
	Name   string   `json:"name"`
	jwt.RegisteredClaims
}
