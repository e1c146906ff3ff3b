package models

import "time"

// UserRole represents the authorities granted to an account.
type UserRole string

const (
	RoleUser  UserRole = "USER"
	RoleAdmin UserRole = "ADMIN"
)

// UserStatus is the lifecycle state of an account.
type UserStatus string

const (
	StatusActive              UserStatus = "ACTIVE"
	StatusDeleted             UserStatus = "DELETED"
	StatusPendingVerification UserStatus = "PENDING_VERIFICATION"
)

// User represents an application account stored in the users table,
// including the session columns used for refresh-token rotation.
type User struct {
	ID             string     `db:"id" json:"id"`
	Username       string     `db:"username" json:"username"`
	PasswordHash   string     `db:"password_hash" json:"-"`
	Email          string     `db:"email" json:"email"`
	Nickname       string     `db:"nickname" json:"nickname"`
	Info           string     `db:"info" json:"info"`
	Role           UserRole   `db:"role" json:"role"`
	Status         UserStatus `db:"status" json:"status"`
	RefreshToken   *string    `db:"refresh_token" json:"-"`
	SessionRevoked bool       `db:"session_revoked" json:"-"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Active reports whether the account may authenticate.
func (u *User) Active() bool {
	return u != nil && u.Status == StatusActive
}

// Principal returns the authenticated principal for the account.
func (u *User) Principal() Principal {
	return Principal{UserID: u.ID, Username: u.Username, Role: u.Role}
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Nickname string   `json:"nickname"`
	Email    string   `json:"email"`
	Info     string   `json:"info"`
	Role     UserRole `json:"role"`
}

// NewUserInfo projects the public profile fields of a user.
func NewUserInfo(u *User) UserInfo {
	return UserInfo{
		ID:       u.ID,
		Username: u.Username,
		Nickname: u.Nickname,
		Email:    u.Email,
		Info:     u.Info,
		Role:     u.Role,
	}
}
