package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/board-api/internal/models"
	appErrors "github.com/noah-isme/board-api/pkg/errors"
)

type authRepository interface {
	FindActiveByUsername(ctx context.Context, username string) (*models.User, error)
	GetSession(ctx context.Context, id string) (*models.SessionState, error)
	RotateSession(ctx context.Context, id, refreshToken string) error
	CompareAndRotateSession(ctx context.Context, id, presented, next string) (bool, error)
	RevokeSession(ctx context.Context, id string) error
	CloseAccount(ctx context.Context, id string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AuthObserver receives the outcome of every auth operation.
type AuthObserver interface {
	ObserveAuthOutcome(operation, outcome string)
}

type nopAuthObserver struct{}

func (nopAuthObserver) ObserveAuthOutcome(string, string) {}

const (
	opLogin        = "login"
	opReissue      = "reissue"
	opLogout       = "logout"
	opCloseAccount = "close_account"

	outcomeSuccess = "success"
)

// AuthService drives the per-identity session state machine:
// NoSession -> Active(refresh token) -> Revoked, with rotation on every reissue.
type AuthService struct {
	repo        authRepository
	credentials *CredentialService
	tokens      *TokenService
	validator   *validator.Validate
	logger      *zap.Logger
	observer    AuthObserver
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(repo authRepository, credentials *CredentialService, tokens *TokenService, validate *validator.Validate, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AuthService{
		repo:        repo,
		credentials: credentials,
		tokens:      tokens,
		validator:   validate,
		logger:      logger,
		observer:    nopAuthObserver{},
	}
}

// WithObserver attaches an outcome observer such as MetricsService.
func (s *AuthService) WithObserver(o AuthObserver) *AuthService {
	if o != nil {
		s.observer = o
	}
	return s
}

// Login verifies credentials and starts a fresh session, replacing any previous refresh token.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (pair *models.TokenPair, err error) {
	defer s.observe(opLogin, &err)

	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.credentials.Verify(ctx, req.Username, req.Password)
	if err != nil {
		return nil, err
	}

	pair, err = s.mint(user.Principal())
	if err != nil {
		return nil, err
	}

	if err := s.repo.RotateSession(ctx, user.ID, pair.RefreshToken); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnknownIdentity, "")
		}
		return nil, appErrors.Internal(err, "failed to persist session")
	}

	s.audit(ctx, user.ID, models.AuditActionLogin, map[string]string{"status": "success"}, models.RequestMeta{IP: req.IP, UserAgent: req.UserAgent})
	return pair, nil
}

// Reissue exchanges the current refresh token for a new pair and rotates the stored token.
// A superseded token fails with ErrMismatchedRefreshToken, a logged-out session with ErrRevokedSession.
func (s *AuthService) Reissue(ctx context.Context, req models.ReissueRequest) (pair *models.TokenPair, err error) {
	defer s.observe(opReissue, &err)

	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reissue payload")
	}
	meta := models.RequestMeta{IP: req.IP, UserAgent: req.UserAgent}

	claims, err := s.tokens.ParseRefresh(req.RefreshToken)
	if err != nil {
		return nil, err
	}

	user, err := s.resolve(ctx, claims)
	if err != nil {
		return nil, err
	}

	state, err := s.repo.GetSession(ctx, user.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load session")
	}
	if err := checkSession(state, req.RefreshToken); err != nil {
		s.auditRejected(ctx, user.ID, err, meta)
		return nil, err
	}

	pair, err = s.mint(user.Principal())
	if err != nil {
		return nil, err
	}

	rotated, err := s.repo.CompareAndRotateSession(ctx, user.ID, req.RefreshToken, pair.RefreshToken)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to rotate session")
	}
	if !rotated {
		// Lost a race with a concurrent reissue or logout; report what the winner left behind.
		err := s.raceOutcome(ctx, user.ID, req.RefreshToken)
		s.auditRejected(ctx, user.ID, err, meta)
		return nil, err
	}

	s.audit(ctx, user.ID, models.AuditActionTokenReissue, map[string]string{"refresh": "rotated"}, meta)
	return pair, nil
}

// Logout revokes the session of the access token's owner. The access token itself
// stays valid until it expires; only the refresh path is cut off.
func (s *AuthService) Logout(ctx context.Context, accessToken string, meta models.RequestMeta) (err error) {
	defer s.observe(opLogout, &err)

	claims, err := s.tokens.ParseAccess(accessToken)
	if err != nil {
		return err
	}

	user, err := s.resolve(ctx, claims)
	if err != nil {
		return err
	}

	if err := s.repo.RevokeSession(ctx, user.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrUnknownIdentity, "")
		}
		return appErrors.Internal(err, "failed to revoke session")
	}

	s.audit(ctx, user.ID, models.AuditActionLogout, map[string]string{"status": "logout"}, meta)
	return nil
}

// CloseAccount soft-deletes the account and revokes its session in one write.
func (s *AuthService) CloseAccount(ctx context.Context, userID string, meta models.RequestMeta) (err error) {
	defer s.observe(opCloseAccount, &err)

	if err := s.repo.CloseAccount(ctx, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrUnknownIdentity, "")
		}
		return appErrors.Internal(err, "failed to close account")
	}

	s.audit(ctx, userID, models.AuditActionAccountClose, map[string]string{"status": string(models.StatusDeleted)}, meta)
	return nil
}

// Authenticate validates an access token and returns the principal it carries.
func (s *AuthService) Authenticate(accessToken string) (*models.Principal, error) {
	claims, err := s.tokens.ParseAccess(accessToken)
	if err != nil {
		return nil, err
	}
	p := claims.Principal()
	return &p, nil
}

func (s *AuthService) mint(p models.Principal) (*models.TokenPair, error) {
	access, err := s.tokens.IssueAccess(p)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to create access token")
	}
	refresh, err := s.tokens.IssueRefresh(p)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to create refresh token")
	}
	return &models.TokenPair{
		GrantType:    models.GrantTypeBearer,
		AccessToken:  access,
		RefreshToken: refresh,
		Expired:      false,
	}, nil
}

// resolve maps the token subject to its ACTIVE account. A missing account is
// ErrUnknownIdentity; so is an account whose id no longer matches the token.
func (s *AuthService) resolve(ctx context.Context, claims *models.Claims) (*models.User, error) {
	user, err := s.repo.FindActiveByUsername(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnknownIdentity, "")
		}
		return nil, appErrors.Internal(err, "failed to fetch user")
	}
	if claims.UserID != "" && claims.UserID != user.ID {
		return nil, appErrors.Clone(appErrors.ErrUnknownIdentity, "")
	}
	return user, nil
}

func (s *AuthService) raceOutcome(ctx context.Context, userID, presented string) error {
	state, err := s.repo.GetSession(ctx, userID)
	if err != nil {
		return appErrors.Internal(err, "failed to load session")
	}
	if err := checkSession(state, presented); err != nil {
		return err
	}
	return appErrors.Clone(appErrors.ErrMismatchedRefreshToken, "")
}

// checkSession applies the reissue preconditions. Revocation is checked first so
// replays after logout are reported as revoked regardless of which token is presented.
func checkSession(state *models.SessionState, presented string) error {
	if state.Phase() == models.SessionRevoked {
		return appErrors.Clone(appErrors.ErrRevokedSession, "")
	}
	if !state.Matches(presented) {
		return appErrors.Clone(appErrors.ErrMismatchedRefreshToken, "")
	}
	return nil
}

func (s *AuthService) observe(operation string, errp *error) {
	outcome := outcomeSuccess
	if *errp != nil {
		outcome = appErrors.FromError(*errp).Code
	}
	s.observer.ObserveAuthOutcome(operation, outcome)
}

func (s *AuthService) auditRejected(ctx context.Context, userID string, reason error, meta models.RequestMeta) {
	code := appErrors.FromError(reason).Code
	s.logger.Info("refresh token rejected", zap.String("user_id", userID), zap.String("reason", code))
	s.audit(ctx, userID, models.AuditActionReissueRejected, map[string]string{"reason": code}, meta)
}

func (s *AuthService) audit(ctx context.Context, userID, action string, values map[string]string, meta models.RequestMeta) {
	body, err := json.Marshal(values)
	if err != nil {
		s.logger.Warn("failed to encode audit values", zap.String("action", action), zap.Error(err))
		return
	}
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "auth",
		ResourceID: &userID,
		NewValues:  body,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}
