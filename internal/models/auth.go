package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// GrantTypeBearer is the grant type label returned with every token pair.
const GrantTypeBearer = "Bearer"

// TokenType distinguishes access tokens from refresh tokens inside the claims.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// SignUpRequest registers a new account.
type SignUpRequest struct {
	Username string `json:"username" validate:"required,alphanum,min=4,max=20"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Nickname string `json:"nickname" validate:"required,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Info     string `json:"info" validate:"max=500"`
}

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Username  string `json:"username" validate:"required"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// ReissueRequest exchanges a refresh token for a new token pair.
type ReissueRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	IP           string `json:"-"`
	UserAgent    string `json:"-"`
}

// ChangePasswordRequest payload for updating password.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8,max=72,nefield=OldPassword"`
}

// CloseAccountRequest confirms account closure with the current password.
type CloseAccountRequest struct {
	Password string `json:"password" validate:"required"`
}

// TokenPair is returned to a caller on successful authentication.
// Expired is always false on issuance; it is kept for clients that probe staleness.
type TokenPair struct {
	GrantType    string `json:"grant_type"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Expired      bool   `json:"expired"`
}

// Principal is the authenticated identity passed explicitly to operations.
type Principal struct {
	UserID   string   `json:"user_id"`
	Username string   `json:"username"`
	Role     UserRole `json:"role"`
}

// Claims represents the JWT payload shared by access and refresh tokens.
type Claims struct {
	UserID    string     `json:"uid"`
	Roles     []UserRole `json:"roles"`
	TokenType TokenType  `json:"typ"`
	jwt.RegisteredClaims
}

// Principal rebuilds the principal carried by the token.
func (c *Claims) Principal() Principal {
	p := Principal{UserID: c.UserID, Username: c.Subject}
	if len(c.Roles) > 0 {
		p.Role = c.Roles[0]
	}
	return p
}
