package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/board-api/internal/models"
	"github.com/noah-isme/board-api/internal/repository"
	appErrors "github.com/noah-isme/board-api/pkg/errors"
	"github.com/noah-isme/board-api/pkg/mail"
	"github.com/noah-isme/board-api/pkg/security"
)

const (
	challengeCodeLength = 7
	defaultChallengeTTL = 10 * time.Minute

	opChallengeIssue  = "challenge_issue"
	opChallengeVerify = "challenge_verify"
)

type challengeStore interface {
	Save(ctx context.Context, challenge *models.Challenge) error
	Consume(ctx context.Context, recipient, digest string, now time.Time) error
}

// ChallengeService issues and verifies one-time email ownership codes.
type ChallengeService struct {
	store     challengeStore
	digest    *security.KeyedDigest
	mailer    mail.Mailer
	ttl       time.Duration
	validator *validator.Validate
	logger    *zap.Logger
	observer  AuthObserver
	now       func() time.Time
	newCode   func() string
}

// NewChallengeService constructs a ChallengeService.
func NewChallengeService(store challengeStore, digest *security.KeyedDigest, mailer mail.Mailer, ttl time.Duration, validate *validator.Validate, logger *zap.Logger) *ChallengeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if ttl <= 0 {
		ttl = defaultChallengeTTL
	}
	return &ChallengeService{
		store:     store,
		digest:    digest,
		mailer:    mailer,
		ttl:       ttl,
		validator: validate,
		logger:    logger,
		observer:  nopAuthObserver{},
		now:       time.Now,
		newCode:   randomCode,
	}
}

// WithObserver attaches an outcome observer.
func (s *ChallengeService) WithObserver(o AuthObserver) *ChallengeService {
	if o != nil {
		s.observer = o
	}
	return s
}

// Issue creates a challenge for email, replacing any pending one, queues the
// mail and returns the raw code.
func (s *ChallengeService) Issue(ctx context.Context, email string) (code string, err error) {
	defer s.observe(opChallengeIssue, &err)

	recipient := normalizeEmail(email)
	if err := s.validator.Struct(models.IssueChallengeRequest{Email: recipient}); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid email address")
	}

	code = s.newCode()
	issuedAt := s.now().UTC()
	challenge := &models.Challenge{
		Recipient: recipient,
		Digest:    s.digest.Sum(recipient, code),
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(s.ttl),
	}
	if err := s.store.Save(ctx, challenge); err != nil {
		return "", appErrors.Internal(err, "failed to store verification code")
	}

	if err := s.mailer.Send(ctx, verificationMessage(recipient, code, s.ttl)); err != nil {
		s.logger.Warn("failed to queue verification mail", zap.String("recipient", recipient), zap.Error(err))
		return "", appErrors.Internal(err, "failed to send verification mail")
	}
	return code, nil
}

// Verify consumes the recipient's challenge when candidate matches.
// A wrong code leaves the challenge in place until it expires.
func (s *ChallengeService) Verify(ctx context.Context, email, candidate string) (err error) {
	defer s.observe(opChallengeVerify, &err)

	req := models.VerifyChallengeRequest{Email: normalizeEmail(email), Key: strings.TrimSpace(candidate)}
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid verification payload")
	}

	err = s.store.Consume(ctx, req.Email, s.digest.Sum(req.Email, req.Key), s.now().UTC())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrChallengeNotFound):
		return appErrors.Clone(appErrors.ErrChallengeNotFound, "")
	case errors.Is(err, repository.ErrChallengeMismatch):
		return appErrors.Clone(appErrors.ErrChallengeMismatch, "")
	default:
		return appErrors.Internal(err, "failed to verify code")
	}
}

func (s *ChallengeService) observe(operation string, errp *error) {
	outcome := outcomeSuccess
	if *errp != nil {
		outcome = appErrors.FromError(*errp).Code
	}
	s.observer.ObserveAuthOutcome(operation, outcome)
}

func verificationMessage(recipient, code string, ttl time.Duration) mail.Message {
	return mail.Message{
		To:      recipient,
		Subject: "Email verification code",
		Body:    fmt.Sprintf("Your verification code is %s\nIt expires in %s.\n", code, ttl),
	}
}

func randomCode() string {
	return uuid.NewString()[:challengeCodeLength]
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
