package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/board-api/internal/middleware"
	"github.com/noah-isme/board-api/internal/models"
	appErrors "github.com/noah-isme/board-api/pkg/errors"
)

// RefreshTokenHeader carries the refresh token on reissue requests and login responses.
const RefreshTokenHeader = "Refresh-Token"

func principalFromContext(c *gin.Context) (models.Principal, error) {
	principal, ok := middleware.PrincipalFromContext(c)
	if !ok {
		return models.Principal{}, appErrors.ErrUnauthorized
	}
	return *principal, nil
}

func requestMeta(c *gin.Context) models.RequestMeta {
	return models.RequestMeta{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
}

func writeTokenHeaders(c *gin.Context, pair *models.TokenPair) {
	c.Header("Authorization", models.GrantTypeBearer+" "+pair.AccessToken)
	c.Header(RefreshTokenHeader, pair.RefreshToken)
}
