package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/board-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

var userRowColumns = []string{"id", "username", "password_hash", "email", "nickname", "info", "role", "status", "refresh_token", "session_revoked", "created_at", "updated_at"}

type recordingObserver struct {
	labels []string
}

func (o *recordingObserver) ObserveDBQuery(label string, _ time.Duration) {
	o.labels = append(o.labels, label)
}

func TestFindActiveByUsernameFiltersStatus(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	obs := &recordingObserver{}
	repo := NewUserRepository(db).WithObserver(obs)

	now := time.Now()
	rows := sqlmock.NewRows(userRowColumns).
		AddRow("u1", "alice", "hash", "alice@example.com", "Alice", "", "USER", "ACTIVE", nil, false, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + userColumns + " FROM users WHERE username = $1 AND status = $2 LIMIT 1")).
		WithArgs("alice", models.StatusActive).
		WillReturnRows(rows)

	user, err := repo.FindActiveByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.True(t, user.Active())
	assert.Nil(t, user.RefreshToken)
	assert.Equal(t, []string{"users.find_active_by_username"}, obs.labels)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindActiveByUsernameNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery("FROM users WHERE username").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindActiveByUsername(context.Background(), "ghost")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateMapsUniqueViolation(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO users").WillReturnError(&pq.Error{Code: uniqueViolation})

	err := repo.Create(context.Background(), &models.User{Username: "alice", PasswordHash: "h", Email: "a@b.com"})
	assert.ErrorIs(t, err, ErrDuplicateUsername)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDefaults(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(1, 1))

	user := &models.User{Username: "alice", PasswordHash: "h", Email: "a@b.com"}
	require.NoError(t, repo.Create(context.Background(), user))
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, models.StatusActive, user.Status)
	assert.Equal(t, models.RoleUser, user.Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSession(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	rows := sqlmock.NewRows([]string{"id", "refresh_token", "session_revoked"}).AddRow("u1", "R1", true)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, refresh_token, session_revoked FROM users WHERE id = $1 LIMIT 1")).
		WithArgs("u1").
		WillReturnRows(rows)

	state, err := repo.GetSession(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, state.Matches("R1"))
	assert.Equal(t, models.SessionRevoked, state.Phase())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRotateSession(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET refresh_token = $2, session_revoked = FALSE")).
		WithArgs("u1", "R2", sqlmock.AnyArg(), models.StatusActive).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.RotateSession(context.Background(), "u1", "R2"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRotateSessionMissingUser(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("UPDATE users SET refresh_token").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.RotateSession(context.Background(), "missing", "R2")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompareAndRotateSession(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	casQuery := regexp.QuoteMeta("UPDATE users SET refresh_token = $3, updated_at = $4 WHERE id = $1 AND refresh_token = $2 AND session_revoked = FALSE")
	mock.ExpectExec(casQuery).
		WithArgs("u1", "R1", "R2", sqlmock.AnyArg(), models.StatusActive).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(casQuery).
		WithArgs("u1", "R1", "R3", sqlmock.AnyArg(), models.StatusActive).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.CompareAndRotateSession(context.Background(), "u1", "R1", "R2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.CompareAndRotateSession(context.Background(), "u1", "R1", "R3")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeSessionKeepsToken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET session_revoked = TRUE, updated_at = $2 WHERE id = $1")).
		WithArgs("u1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.RevokeSession(context.Background(), "u1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCloseAccountRevokesSession(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET status = $2, session_revoked = TRUE")).
		WithArgs("u1", models.StatusDeleted, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.CloseAccount(context.Background(), "u1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePasswordRevokesSession(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET password_hash = $2, session_revoked = TRUE")).
		WithArgs("u1", "newhash", sqlmock.AnyArg(), models.StatusActive).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdatePassword(context.Background(), "u1", "newhash", time.Now()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAuditLog(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	uid := "u1"
	entry := &models.AuditLog{UserID: &uid, Action: models.AuditActionLogin, Resource: "auth"}
	require.NoError(t, repo.CreateAuditLog(context.Background(), entry))
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}
