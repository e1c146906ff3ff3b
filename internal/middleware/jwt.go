package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/board-api/internal/models"
	appErrors "github.com/noah-isme/board-api/pkg/errors"
	"github.com/noah-isme/board-api/pkg/response"
)

// ContextPrincipalKey is the gin context key storing the authenticated principal.
const ContextPrincipalKey = "currentPrincipal"

// Authenticator resolves an access token into a principal.
type Authenticator interface {
	Authenticate(accessToken string) (*models.Principal, error)
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", appErrors.ErrUnauthorized
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], models.GrantTypeBearer) || strings.TrimSpace(parts[1]) == "" {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}

// JWT protects routes by requiring a valid access token.
func JWT(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := BearerToken(c)
		if err != nil {
			response.Abort(c, err)
			return
		}

		principal, err := auth.Authenticate(token)
		if err != nil {
			response.Abort(c, err)
			return
		}

		c.Set(ContextPrincipalKey, principal)
		c.Next()
	}
}

// PrincipalFromContext returns the principal stored by JWT.
func PrincipalFromContext(c *gin.Context) (*models.Principal, bool) {
	value, exists := c.Get(ContextPrincipalKey)
	if !exists {
		return nil, false
	}
	principal, ok := value.(*models.Principal)
	return principal, ok && principal != nil
}
