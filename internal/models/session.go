package models

// SessionPhase is the externally observable session state of an identity.
type SessionPhase string

const (
	SessionNone    SessionPhase = "NO_SESSION"
	SessionActive  SessionPhase = "ACTIVE"
	SessionRevoked SessionPhase = "REVOKED"
)

// SessionState is the persisted refresh-token state of a single identity.
type SessionState struct {
	UserID       string  `db:"id"`
	RefreshToken *string `db:"refresh_token"`
	Revoked      bool    `db:"session_revoked"`
}

// Phase derives the state-machine phase from the stored columns.
// A revoked flag wins over a stored token so replays after logout are reported as revoked.
func (s *SessionState) Phase() SessionPhase {
	switch {
	case s == nil:
		return SessionNone
	case s.Revoked:
		return SessionRevoked
	case s.RefreshToken == nil || *s.RefreshToken == "":
		return SessionNone
	default:
		return SessionActive
	}
}

// Matches reports whether the presented token is the current refresh token.
func (s *SessionState) Matches(token string) bool {
	return s != nil && s.RefreshToken != nil && *s.RefreshToken == token
}
