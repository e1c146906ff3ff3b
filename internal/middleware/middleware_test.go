package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/board-api/internal/models"
	"github.com/noah-isme/board-api/pkg/config"
	appErrors "github.com/noah-isme/board-api/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubAuthenticator struct{}

func (stubAuthenticator) Authenticate(token string) (*models.Principal, error) {
	if token != "good" {
		return nil, appErrors.Clone(appErrors.ErrTokenExpired, "")
	}
	return &models.Principal{UserID: "u1", Username: "alice", Role: models.RoleUser}, nil
}

func perform(r http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTMiddleware(t *testing.T) {
	r := gin.New()
	r.GET("/me", JWT(stubAuthenticator{}), func(c *gin.Context) {
		p, ok := PrincipalFromContext(c)
		require.True(t, ok)
		c.String(http.StatusOK, p.Username)
	})

	w := perform(r, http.MethodGet, "/me", map[string]string{"Authorization": "Bearer good"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", w.Body.String())

	w = perform(r, http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = perform(r, http.MethodGet, "/me", map[string]string{"Authorization": "Basic abc"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid authorization header")

	w = perform(r, http.MethodGet, "/me", map[string]string{"Authorization": "bearer stale"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), appErrors.ErrTokenExpired.Code)
}

func TestRateLimiterRejectsBurst(t *testing.T) {
	observer := &countingObserver{}
	rl := NewRateLimiter(config.RateLimitConfig{PerMinute: 6, Burst: 2, CleanupInterval: time.Hour}, nil, observer)
	defer rl.Stop()

	r := gin.New()
	r.POST("/login", rl.Middleware("login"), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.POST("/reissue", rl.Middleware("reissue"), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	assert.Equal(t, http.StatusNoContent, perform(r, http.MethodPost, "/login", nil).Code)
	assert.Equal(t, http.StatusNoContent, perform(r, http.MethodPost, "/login", nil).Code)

	w := perform(r, http.MethodPost, "/login", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "10", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), appErrors.ErrRateLimited.Code)
	assert.Equal(t, 1, observer.count())

	// Scopes are independent.
	assert.Equal(t, http.StatusNoContent, perform(r, http.MethodPost, "/reissue", nil).Code)
	assert.Equal(t, 2, rl.Len())
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{PerMinute: 60, Burst: 1, CleanupInterval: time.Hour}, nil, nil)
	defer rl.Stop()

	base := time.Now()
	rl.now = func() time.Time { return base }
	rl.limiterFor("login|1.1.1.1")
	rl.now = func() time.Time { return base.Add(90 * time.Minute) }
	rl.limiterFor("login|2.2.2.2")

	rl.now = func() time.Time { return base.Add(150 * time.Minute) }
	rl.cleanup()
	assert.Equal(t, 1, rl.Len())
}

type countingObserver struct {
	mu       sync.Mutex
	paths    []string
	requests int
}

func (o *countingObserver) ObserveRateLimited(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paths = append(o.paths, path)
}

func (o *countingObserver) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests++
	o.paths = append(o.paths, path)
}

func (o *countingObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.paths)
}

func TestMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	observer := &countingObserver{}
	r := gin.New()
	r.Use(Metrics(observer))
	r.GET("/users/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	perform(r, http.MethodGet, "/users/42", nil)
	perform(r, http.MethodGet, "/missing", nil)

	assert.Equal(t, 2, observer.requests)
	assert.Equal(t, []string{"/users/:id", "unmatched"}, observer.paths)
}

type recordingAudit struct {
	logs []*models.AuditLog
	err  error
}

func (r *recordingAudit) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if r.err != nil {
		return r.err
	}
	r.logs = append(r.logs, log)
	return nil
}

func TestAuditMiddleware(t *testing.T) {
	recorder := &recordingAudit{}
	r := gin.New()
	r.POST("/mail", JWT(stubAuthenticator{}), Audit(recorder, nil, models.AuditActionChallengeIssue, "email"), func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})
	r.POST("/fail", Audit(recorder, nil, models.AuditActionChallengeVerify, "email"), func(c *gin.Context) {
		c.Status(http.StatusForbidden)
	})

	perform(r, http.MethodPost, "/mail", map[string]string{"Authorization": "Bearer good"})
	perform(r, http.MethodPost, "/fail", nil)

	require.Len(t, recorder.logs, 1)
	assert.Equal(t, models.AuditActionChallengeIssue, recorder.logs[0].Action)
	require.NotNil(t, recorder.logs[0].UserID)
	assert.Equal(t, "u1", *recorder.logs[0].UserID)

	recorder.err = errors.New("db down")
	w := perform(r, http.MethodPost, "/mail", map[string]string{"Authorization": "Bearer good"})
	assert.Equal(t, http.StatusAccepted, w.Code)
}
