package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/board-api/internal/middleware"
	"github.com/noah-isme/board-api/internal/models"
)

// Routes groups the handlers and middleware dependencies of the HTTP surface.
type Routes struct {
	Auth          *AuthHandler
	Challenges    *ChallengeHandler
	Users         *UserHandler
	Authenticator middleware.Authenticator
	Limiter       *middleware.RateLimiter
	Audit         middleware.AuditRecorder
	Logger        *zap.Logger
}

// Register mounts the auth and user routes under group.
func (rt Routes) Register(group gin.IRouter) {
	requireAuth := middleware.JWT(rt.Authenticator)

	auth := group.Group("/auth")
	auth.POST("/sign-up", rt.limit("sign-up"), rt.Auth.SignUp)
	auth.POST("/login", rt.limit("login"), rt.Auth.Login)
	auth.POST("/reissue", rt.limit("reissue"), rt.Auth.Reissue)
	auth.POST("/logout", rt.Auth.Logout)
	auth.POST("/send-mail", requireAuth, rt.limit("send-mail"), rt.audit(models.AuditActionChallengeIssue), rt.Challenges.SendMail)
	auth.PUT("/check-mail", rt.limit("check-mail"), rt.audit(models.AuditActionChallengeVerify), rt.Challenges.CheckMail)

	users := group.Group("/users", requireAuth)
	users.GET("/me", rt.Users.Me)
	users.PUT("/me/password", rt.Users.ChangePassword)
	users.DELETE("/me", rt.Users.CloseAccount)
}

func (rt Routes) limit(scope string) gin.HandlerFunc {
	if rt.Limiter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return rt.Limiter.Middleware(scope)
}

func (rt Routes) audit(action string) gin.HandlerFunc {
	if rt.Audit == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return middleware.Audit(rt.Audit, rt.Logger, action, "email")
}
