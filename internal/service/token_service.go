package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/board-api/internal/models"
	appErrors "github.com/noah-isme/board-api/pkg/errors"
)

// TokenConfig defines signing parameters for access and refresh tokens.
type TokenConfig struct {
	Secret     string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// TokenService signs and verifies HS256 tokens. It holds no mutable state after
// construction and is safe for concurrent use.
type TokenService struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenService constructs a TokenService.
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if cfg.Secret == "" {
		return nil, errors.New("token secret missing")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	return &TokenService{
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// AccessTTL returns the configured access token lifetime.
func (s *TokenService) AccessTTL() time.Duration {
	return s.accessTTL
}

// Issue signs claims with the given lifetime. Issued-at, expiry, issuer and a fresh token id are set here.
func (s *TokenService) Issue(claims models.Claims, ttl time.Duration) (string, error) {
	issuedAt := s.now()
	claims.ID = uuid.NewString()
	claims.Issuer = s.issuer
	claims.IssuedAt = jwt.NewNumericDate(issuedAt)
	claims.NotBefore = jwt.NewNumericDate(issuedAt)
	claims.ExpiresAt = jwt.NewNumericDate(issuedAt.Add(ttl))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// IssueAccess mints a short-lived access token for the principal.
func (s *TokenService) IssueAccess(p models.Principal) (string, error) {
	return s.Issue(principalClaims(p, models.TokenTypeAccess), s.accessTTL)
}

// IssueRefresh mints a long-lived refresh token for the principal.
func (s *TokenService) IssueRefresh(p models.Principal) (string, error) {
	return s.Issue(principalClaims(p, models.TokenTypeRefresh), s.refreshTTL)
}

// Parse verifies the signature and expiry of a token. Expired tokens with a valid
// signature yield ErrTokenExpired; everything else yields ErrTokenInvalid.
func (s *TokenService) Parse(tokenString string) (*models.Claims, error) {
	claims := &models.Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, appErrors.Wrap(err, appErrors.ErrTokenExpired.Code, appErrors.ErrTokenExpired.Status, appErrors.ErrTokenExpired.Message)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrTokenInvalid.Code, appErrors.ErrTokenInvalid.Status, appErrors.ErrTokenInvalid.Message)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, appErrors.Clone(appErrors.ErrTokenInvalid, "invalid token claims")
	}
	return claims, nil
}

// ParseAccess parses a token and requires it to be an access token.
func (s *TokenService) ParseAccess(tokenString string) (*models.Claims, error) {
	return s.parseTyped(tokenString, models.TokenTypeAccess)
}

// ParseRefresh parses a token and requires it to be a refresh token.
func (s *TokenService) ParseRefresh(tokenString string) (*models.Claims, error) {
	return s.parseTyped(tokenString, models.TokenTypeRefresh)
}

func (s *TokenService) parseTyped(tokenString string, want models.TokenType) (*models.Claims, error) {
	claims, err := s.Parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != want {
		return nil, appErrors.Clone(appErrors.ErrTokenInvalid, fmt.Sprintf("expected %s token", want))
	}
	return claims, nil
}

func principalClaims(p models.Principal, typ models.TokenType) models.Claims {
	return models.Claims{
		UserID:    p.UserID,
		Roles:     []models.UserRole{p.Role},
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: p.Username,
		},
	}
}
