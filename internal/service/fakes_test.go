package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/board-api/internal/models"
	"github.com/noah-isme/board-api/internal/repository"
)

var testHasher = BcryptHasher{Cost: bcrypt.MinCost}

// fakeUserRepo is an in-memory users table with the same conditional-update
// semantics as repository.UserRepository.
type fakeUserRepo struct {
	mu        sync.Mutex
	users     map[string]*models.User
	findErr   error
	auditErr  error
	auditLogs []*models.AuditLog
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*models.User)}
}

func (f *fakeUserRepo) addUser(t *testing.T, id, username, password string, status models.UserStatus) *models.User {
	t.Helper()
	digest, err := testHasher.Hash(password)
	require.NoError(t, err)
	user := &models.User{
		ID:           id,
		Username:     username,
		PasswordHash: digest,
		Email:        username + "@example.com",
		Nickname:     username,
		Role:         models.RoleUser,
		Status:       status,
	}
	f.mu.Lock()
	f.users[id] = user
	f.mu.Unlock()
	return user
}

func (f *fakeUserRepo) get(id string) models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.users[id]
}

func (f *fakeUserRepo) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.auditLogs))
	for _, log := range f.auditLogs {
		out = append(out, log.Action)
	}
	return out
}

func (f *fakeUserRepo) byUsername(username string) *models.User {
	for _, u := range f.users {
		if u.Username == username {
			return u
		}
	}
	return nil
}

func (f *fakeUserRepo) FindActiveByUsername(ctx context.Context, username string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	u := f.byUsername(username)
	if u == nil || u.Status != models.StatusActive {
		return nil, sql.ErrNoRows
	}
	clone := *u
	return &clone, nil
}

func (f *fakeUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	u, ok := f.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *u
	return &clone, nil
}

func (f *fakeUserRepo) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byUsername(username) != nil, nil
}

func (f *fakeUserRepo) Create(ctx context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byUsername(user.Username) != nil {
		return repository.ErrDuplicateUsername
	}
	if user.ID == "" {
		user.ID = "u" + user.Username
	}
	if user.Status == "" {
		user.Status = models.StatusActive
	}
	if user.Role == "" {
		user.Role = models.RoleUser
	}
	clone := *user
	f.users[user.ID] = &clone
	return nil
}

func (f *fakeUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok || u.Status != models.StatusActive {
		return sql.ErrNoRows
	}
	u.PasswordHash = passwordHash
	u.SessionRevoked = true
	u.UpdatedAt = updatedAt
	return nil
}

func (f *fakeUserRepo) GetSession(ctx context.Context, id string) (*models.SessionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &models.SessionState{UserID: u.ID, RefreshToken: u.RefreshToken, Revoked: u.SessionRevoked}, nil
}

func (f *fakeUserRepo) RotateSession(ctx context.Context, id, refreshToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok || u.Status != models.StatusActive {
		return sql.ErrNoRows
	}
	u.RefreshToken = &refreshToken
	u.SessionRevoked = false
	return nil
}

func (f *fakeUserRepo) CompareAndRotateSession(ctx context.Context, id, presented, next string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok || u.Status != models.StatusActive || u.SessionRevoked {
		return false, nil
	}
	if u.RefreshToken == nil || *u.RefreshToken != presented {
		return false, nil
	}
	u.RefreshToken = &next
	return true, nil
}

func (f *fakeUserRepo) RevokeSession(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.SessionRevoked = true
	return nil
}

func (f *fakeUserRepo) CloseAccount(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok || u.Status == models.StatusDeleted {
		return sql.ErrNoRows
	}
	u.Status = models.StatusDeleted
	u.SessionRevoked = true
	return nil
}

func (f *fakeUserRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.auditErr != nil {
		return f.auditErr
	}
	f.auditLogs = append(f.auditLogs, log)
	return nil
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recordingObserver) ObserveAuthOutcome(operation, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, operation+":"+outcome)
}
