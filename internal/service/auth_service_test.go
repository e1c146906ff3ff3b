package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/board-api/internal/models"
	appErrors "github.com/noah-isme/board-api/pkg/errors"
)

func newTestAuthService(t *testing.T) (*AuthService, *fakeUserRepo) {
	t.Helper()
	repo := newFakeUserRepo()
	repo.addUser(t, "u1", "alice", "correct-pw", models.StatusActive)
	svc := NewAuthService(repo, NewCredentialService(repo, testHasher), newTestTokenService(t), nil, nil)
	return svc, repo
}

func login(t *testing.T, svc *AuthService) *models.TokenPair {
	t.Helper()
	pair, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "correct-pw"})
	require.NoError(t, err)
	return pair
}

func TestAuthLoginStartsSession(t *testing.T) {
	svc, repo := newTestAuthService(t)

	pair := login(t, svc)
	assert.Equal(t, models.GrantTypeBearer, pair.GrantType)
	assert.False(t, pair.Expired)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	user := repo.get("u1")
	require.NotNil(t, user.RefreshToken)
	assert.Equal(t, pair.RefreshToken, *user.RefreshToken)
	assert.False(t, user.SessionRevoked)
	assert.Equal(t, []string{models.AuditActionLogin}, repo.actions())

	principal, err := svc.Authenticate(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, alicePrincipal, *principal)
}

func TestAuthLoginFailures(t *testing.T) {
	svc, repo := newTestAuthService(t)
	repo.addUser(t, "u2", "carol", "correct-pw", models.StatusDeleted)

	_, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "wrong"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), models.LoginRequest{Username: "bob", Password: "correct-pw"})
	assert.ErrorIs(t, err, appErrors.ErrUnknownIdentity)

	_, err = svc.Login(context.Background(), models.LoginRequest{Username: "carol", Password: "correct-pw"})
	assert.ErrorIs(t, err, appErrors.ErrUnknownIdentity)

	_, err = svc.Login(context.Background(), models.LoginRequest{Username: "alice"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	assert.Nil(t, repo.get("u1").RefreshToken)
}

func TestAuthReissueRotatesAndRejectsSuperseded(t *testing.T) {
	svc, repo := newTestAuthService(t)
	ctx := context.Background()
	first := login(t, svc)

	second, err := svc.Reissue(ctx, models.ReissueRequest{RefreshToken: first.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.Equal(t, second.RefreshToken, *repo.get("u1").RefreshToken)

	_, err = svc.Reissue(ctx, models.ReissueRequest{RefreshToken: first.RefreshToken})
	assert.ErrorIs(t, err, appErrors.ErrMismatchedRefreshToken)
	assert.Equal(t, second.RefreshToken, *repo.get("u1").RefreshToken)

	third, err := svc.Reissue(ctx, models.ReissueRequest{RefreshToken: second.RefreshToken})
	require.NoError(t, err)
	assert.Equal(t, third.RefreshToken, *repo.get("u1").RefreshToken)

	assert.Equal(t, []string{
		models.AuditActionLogin,
		models.AuditActionTokenReissue,
		models.AuditActionReissueRejected,
		models.AuditActionTokenReissue,
	}, repo.actions())
}

func TestAuthLogoutRevokesSession(t *testing.T) {
	svc, repo := newTestAuthService(t)
	ctx := context.Background()
	first := login(t, svc)

	second, err := svc.Reissue(ctx, models.ReissueRequest{RefreshToken: first.RefreshToken})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, second.AccessToken, models.RequestMeta{IP: "10.0.0.1"}))
	assert.True(t, repo.get("u1").SessionRevoked)

	_, err = svc.Reissue(ctx, models.ReissueRequest{RefreshToken: second.RefreshToken})
	assert.ErrorIs(t, err, appErrors.ErrRevokedSession)

	_, err = svc.Reissue(ctx, models.ReissueRequest{RefreshToken: first.RefreshToken})
	assert.ErrorIs(t, err, appErrors.ErrRevokedSession)

	// A fresh login reactivates the session.
	third := login(t, svc)
	_, err = svc.Reissue(ctx, models.ReissueRequest{RefreshToken: third.RefreshToken})
	require.NoError(t, err)
}

func TestAuthLogoutRequiresAccessToken(t *testing.T) {
	svc, _ := newTestAuthService(t)
	pair := login(t, svc)

	err := svc.Logout(context.Background(), pair.RefreshToken, models.RequestMeta{})
	assert.ErrorIs(t, err, appErrors.ErrTokenInvalid)

	err = svc.Logout(context.Background(), "garbage", models.RequestMeta{})
	assert.ErrorIs(t, err, appErrors.ErrTokenInvalid)
}

func TestAuthReissueRejectsAccessTokenAndGarbage(t *testing.T) {
	svc, _ := newTestAuthService(t)
	pair := login(t, svc)

	_, err := svc.Reissue(context.Background(), models.ReissueRequest{RefreshToken: pair.AccessToken})
	assert.ErrorIs(t, err, appErrors.ErrTokenInvalid)

	_, err = svc.Reissue(context.Background(), models.ReissueRequest{RefreshToken: "not-a-token"})
	assert.ErrorIs(t, err, appErrors.ErrTokenInvalid)

	_, err = svc.Reissue(context.Background(), models.ReissueRequest{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestAuthReissueAfterAccountClosed(t *testing.T) {
	svc, repo := newTestAuthService(t)
	pair := login(t, svc)

	require.NoError(t, svc.CloseAccount(context.Background(), "u1", models.RequestMeta{}))
	assert.Equal(t, models.StatusDeleted, repo.get("u1").Status)
	assert.True(t, repo.get("u1").SessionRevoked)

	_, err := svc.Reissue(context.Background(), models.ReissueRequest{RefreshToken: pair.RefreshToken})
	assert.ErrorIs(t, err, appErrors.ErrUnknownIdentity)

	err = svc.CloseAccount(context.Background(), "u1", models.RequestMeta{})
	assert.ErrorIs(t, err, appErrors.ErrUnknownIdentity)
}

func TestAuthConcurrentReissueSucceedsOnce(t *testing.T) {
	svc, repo := newTestAuthService(t)
	pair := login(t, svc)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []string
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next, err := svc.Reissue(context.Background(), models.ReissueRequest{RefreshToken: pair.RefreshToken})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, next.RefreshToken)
			case errors.Is(err, appErrors.ErrMismatchedRefreshToken):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, workers-1, conflicts)
	assert.Equal(t, winners[0], *repo.get("u1").RefreshToken)
}

func TestAuthObserverAndAuditFailure(t *testing.T) {
	svc, repo := newTestAuthService(t)
	observer := &recordingObserver{}
	svc.WithObserver(observer)
	repo.auditErr = errors.New("audit table locked")

	pair := login(t, svc)
	_, err := svc.Reissue(context.Background(), models.ReissueRequest{RefreshToken: "bad"})
	require.Error(t, err)
	require.NoError(t, svc.Logout(context.Background(), pair.AccessToken, models.RequestMeta{}))

	assert.Equal(t, []string{
		"login:success",
		"reissue:" + appErrors.ErrTokenInvalid.Code,
		"logout:success",
	}, observer.outcomes)
}
