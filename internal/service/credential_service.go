package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/board-api/internal/models"
	appErrors "github.com/noah-isme/board-api/pkg/errors"
)

// PasswordHasher is a one-way password hash.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Matches(plain, digest string) bool
}

// BcryptHasher implements PasswordHasher with bcrypt.
type BcryptHasher struct {
	Cost int
}

// Hash returns the bcrypt digest of plain.
func (h BcryptHasher) Hash(plain string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(digest), nil
}

// Matches reports whether plain hashes to digest.
func (h BcryptHasher) Matches(plain, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain)) == nil
}

type credentialRepository interface {
	FindActiveByUsername(ctx context.Context, username string) (*models.User, error)
}

// CredentialService checks presented credentials against ACTIVE accounts only.
type CredentialService struct {
	repo   credentialRepository
	hasher PasswordHasher
}

// NewCredentialService constructs a CredentialService.
func NewCredentialService(repo credentialRepository, hasher PasswordHasher) *CredentialService {
	if hasher == nil {
		hasher = BcryptHasher{}
	}
	return &CredentialService{repo: repo, hasher: hasher}
}

// Verify returns the account when username names an ACTIVE account whose digest matches password.
func (s *CredentialService) Verify(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.repo.FindActiveByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnknownIdentity, "")
		}
		return nil, appErrors.Internal(err, "failed to fetch user")
	}
	if !user.Active() {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "")
	}
	if !s.hasher.Matches(password, user.PasswordHash) {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}
	return user, nil
}
