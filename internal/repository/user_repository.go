package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/board-api/internal/models"
)

// ErrDuplicateUsername is returned by Create when the username is taken.
var ErrDuplicateUsername = errors.New("username already exists")

const uniqueViolation = "23505"

const userColumns = `id, username, password_hash, email, nickname, info, role, status, refresh_token, session_revoked, created_at, updated_at`

// QueryObserver receives query timings. MetricsService satisfies it.
type QueryObserver interface {
	ObserveDBQuery(label string, duration time.Duration)
}

// UserRepository provides database access for accounts and their session state.
// Session mutations are single statements so each transition is atomic per user row.
type UserRepository struct {
	db       *sqlx.DB
	observer QueryObserver
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// WithObserver attaches a query timing observer.
func (r *UserRepository) WithObserver(o QueryObserver) *UserRepository {
	r.observer = o
	return r
}

func (r *UserRepository) track(label string) func() {
	if r.observer == nil {
		return func() {}
	}
	start := time.Now()
	return func() { r.observer.ObserveDBQuery(label, time.Since(start)) }
}

// FindActiveByUsername returns the ACTIVE account with the given username.
// Deleted and pending accounts are invisible to this lookup.
func (r *UserRepository) FindActiveByUsername(ctx context.Context, username string) (*models.User, error) {
	defer r.track("users.find_active_by_username")()
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1 AND status = $2 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, username, models.StatusActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find active user by username: %w", err)
	}
	return &user, nil
}

// FindByID returns an account by identifier regardless of status.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	defer r.track("users.find_by_id")()
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// ExistsByUsername reports whether any account, in any status, holds the username.
func (r *UserRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	defer r.track("users.exists_by_username")()
	const query = `SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, username); err != nil {
		return false, fmt.Errorf("check username: %w", err)
	}
	return exists, nil
}

// Create inserts a new account.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	defer r.track("users.create")()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	if user.Status == "" {
		user.Status = models.StatusActive
	}
	if user.Role == "" {
		user.Role = models.RoleUser
	}

	const query = `INSERT INTO users (id, username, password_hash, email, nickname, info, role, status, session_revoked, created_at, updated_at) VALUES (:id, :username, :password_hash, :email, :nickname, :info, :role, :status, :session_revoked, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateUsername
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// UpdatePassword stores a new password digest and revokes the session in the same statement.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	defer r.track("users.update_password")()
	const query = `UPDATE users SET password_hash = $2, session_revoked = TRUE, updated_at = $3 WHERE id = $1 AND status = $4`
	return r.execOne(ctx, "update password", query, id, passwordHash, updatedAt, models.StatusActive)
}

// GetSession loads the session columns of an account.
func (r *UserRepository) GetSession(ctx context.Context, id string) (*models.SessionState, error) {
	defer r.track("users.get_session")()
	const query = `SELECT id, refresh_token, session_revoked FROM users WHERE id = $1 LIMIT 1`
	var state models.SessionState
	if err := r.db.GetContext(ctx, &state, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &state, nil
}

// RotateSession unconditionally installs a new refresh token and clears the revoked flag.
func (r *UserRepository) RotateSession(ctx context.Context, id, refreshToken string) error {
	defer r.track("users.rotate_session")()
	const query = `UPDATE users SET refresh_token = $2, session_revoked = FALSE, updated_at = $3 WHERE id = $1 AND status = $4`
	return r.execOne(ctx, "rotate session", query, id, refreshToken, time.Now().UTC(), models.StatusActive)
}

// CompareAndRotateSession replaces the refresh token only if the stored token equals presented
// and the session is not revoked. It reports false when another writer got there first.
func (r *UserRepository) CompareAndRotateSession(ctx context.Context, id, presented, next string) (bool, error) {
	defer r.track("users.compare_and_rotate_session")()
	const query = `UPDATE users SET refresh_token = $3, updated_at = $4 WHERE id = $1 AND refresh_token = $2 AND session_revoked = FALSE AND status = $5`
	res, err := r.db.ExecContext(ctx, query, id, presented, next, time.Now().UTC(), models.StatusActive)
	if err != nil {
		return false, fmt.Errorf("compare and rotate session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("compare and rotate session: %w", err)
	}
	return affected == 1, nil
}

// RevokeSession marks the session revoked. The stored refresh token is kept so a
// later replay can be told apart from a token that was never issued.
func (r *UserRepository) RevokeSession(ctx context.Context, id string) error {
	defer r.track("users.revoke_session")()
	const query = `UPDATE users SET session_revoked = TRUE, updated_at = $2 WHERE id = $1`
	return r.execOne(ctx, "revoke session", query, id, time.Now().UTC())
}

// CloseAccount soft-deletes the account and revokes its session in one statement.
func (r *UserRepository) CloseAccount(ctx context.Context, id string) error {
	defer r.track("users.close_account")()
	const query = `UPDATE users SET status = $2, session_revoked = TRUE, updated_at = $3 WHERE id = $1 AND status <> $2`
	return r.execOne(ctx, "close account", query, id, models.StatusDeleted, time.Now().UTC())
}

// CreateAuditLog stores an audit log entry.
func (r *UserRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	defer r.track("audit_logs.create")()
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, old_values, new_values, ip_address, user_agent, created_at) VALUES (:id, :user_id, :action, :resource, :resource_id, :old_values, :new_values, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

// execOne runs a single-row update and maps zero affected rows to sql.ErrNoRows.
func (r *UserRepository) execOne(ctx context.Context, op, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

