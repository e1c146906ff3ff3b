package models

import "time"

// Challenge is a pending one-time email ownership proof for a single recipient.
type Challenge struct {
	Recipient string    `json:"recipient"`
	Digest    string    `json:"digest"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the challenge can no longer be consumed at now.
func (c *Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// IssueChallengeRequest requests a verification code for an address.
type IssueChallengeRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// VerifyChallengeRequest submits a candidate verification code.
type VerifyChallengeRequest struct {
	Email string `json:"email" validate:"required,email"`
	Key   string `json:"key" validate:"required"`
}
