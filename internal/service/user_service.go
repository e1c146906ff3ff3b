package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/board-api/internal/models"
	"github.com/noah-isme/board-api/internal/repository"
	appErrors "github.com/noah-isme/board-api/pkg/errors"
)

type userRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	Create(ctx context.Context, user *models.User) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type accountCloser interface {
	CloseAccount(ctx context.Context, userID string, meta models.RequestMeta) error
}

// UserService handles account workflows around the session core.
type UserService struct {
	repo      userRepository
	hasher    PasswordHasher
	closer    accountCloser
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, hasher PasswordHasher, closer accountCloser, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if hasher == nil {
		hasher = BcryptHasher{}
	}
	return &UserService{repo: repo, hasher: hasher, closer: closer, validator: validate, logger: logger}
}

// SignUp registers a new ACTIVE account.
func (s *UserService) SignUp(ctx context.Context, req models.SignUpRequest, meta models.RequestMeta) (*models.UserInfo, error) {
	req.Email = normalizeEmail(req.Email)
	req.Nickname = strings.TrimSpace(req.Nickname)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid sign-up payload")
	}

	exists, err := s.repo.ExistsByUsername(ctx, req.Username)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to check username uniqueness")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "username already exists")
	}

	digest, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to hash password")
	}

	user := &models.User{
		Username:     req.Username,
		PasswordHash: digest,
		Email:        req.Email,
		Nickname:     req.Nickname,
		Info:         req.Info,
		Role:         models.RoleUser,
		Status:       models.StatusActive,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateUsername) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "username already exists")
		}
		return nil, appErrors.Internal(err, "failed to create user")
	}

	s.audit(ctx, user.ID, models.AuditActionSignUp, nil, map[string]interface{}{"username": user.Username, "email": user.Email}, meta)

	info := models.NewUserInfo(user)
	return &info, nil
}

// Profile returns the public profile of the principal.
func (s *UserService) Profile(ctx context.Context, principal models.Principal) (*models.UserInfo, error) {
	user, err := s.activeUser(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}
	info := models.NewUserInfo(user)
	return &info, nil
}

// ChangePassword replaces the password after checking the old one. The current
// session is revoked so other devices must log in again.
func (s *UserService) ChangePassword(ctx context.Context, principal models.Principal, req models.ChangePasswordRequest, meta models.RequestMeta) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid change password payload")
	}

	user, err := s.activeUser(ctx, principal.UserID)
	if err != nil {
		return err
	}
	if !s.hasher.Matches(req.OldPassword, user.PasswordHash) {
		return appErrors.Clone(appErrors.ErrInvalidCredentials, "old password is incorrect")
	}

	digest, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return appErrors.Internal(err, "failed to hash password")
	}
	if err := s.repo.UpdatePassword(ctx, user.ID, digest, time.Now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrUnknownIdentity, "")
		}
		return appErrors.Internal(err, "failed to update password")
	}

	s.audit(ctx, user.ID, models.AuditActionPasswordChange, nil, map[string]interface{}{"session_revoked": true}, meta)
	return nil
}

// CloseAccount confirms the password and soft-deletes the principal's account.
func (s *UserService) CloseAccount(ctx context.Context, principal models.Principal, req models.CloseAccountRequest, meta models.RequestMeta) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid close account payload")
	}

	user, err := s.activeUser(ctx, principal.UserID)
	if err != nil {
		return err
	}
	if !s.hasher.Matches(req.Password, user.PasswordHash) {
		return appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}
	return s.closer.CloseAccount(ctx, user.ID, meta)
}

func (s *UserService) activeUser(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnknownIdentity, "")
		}
		return nil, appErrors.Internal(err, "failed to load user")
	}
	if !user.Active() {
		return nil, appErrors.Clone(appErrors.ErrUnknownIdentity, "")
	}
	return user, nil
}

func (s *UserService) audit(ctx context.Context, userID, action string, oldValues, newValues map[string]interface{}, meta models.RequestMeta) {
	var oldPayload []byte
	if oldValues != nil {
		oldPayload, _ = json.Marshal(oldValues)
	}
	newPayload, _ := json.Marshal(newValues)
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "users",
		ResourceID: &userID,
		OldValues:  oldPayload,
		NewValues:  newPayload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record user audit log", zap.String("action", action), zap.Error(err))
	}
}
