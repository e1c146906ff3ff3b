package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/board-api/internal/middleware"
	"github.com/noah-isme/board-api/internal/models"
	appErrors "github.com/noah-isme/board-api/pkg/errors"
	"github.com/noah-isme/board-api/pkg/response"
)

type authService interface {
	Login(ctx context.Context, req models.LoginRequest) (*models.TokenPair, error)
	Reissue(ctx context.Context, req models.ReissueRequest) (*models.TokenPair, error)
	Logout(ctx context.Context, accessToken string, meta models.RequestMeta) error
}

type signUpService interface {
	SignUp(ctx context.Context, req models.SignUpRequest, meta models.RequestMeta) (*models.UserInfo, error)
}

// AuthHandler wires HTTP endpoints to the session services.
type AuthHandler struct {
	service authService
	users   signUpService
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(svc authService, users signUpService) *AuthHandler {
	return &AuthHandler{service: svc, users: users}
}

// SignUp godoc
// @Summary Register account
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.SignUpRequest true "Sign-up payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /auth/sign-up [post]
func (h *AuthHandler) SignUp(c *gin.Context) {
	var req models.SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid sign-up payload"))
		return
	}

	info, err := h.users.SignUp(c.Request.Context(), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, info)
}

// Login godoc
// @Summary Authenticate user
// @Description Authenticate by username and password and start a new session
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	pair, err := h.service.Login(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	writeTokenHeaders(c, pair)
	response.JSON(c, http.StatusOK, pair)
}

// Reissue godoc
// @Summary Reissue token pair
// @Description Exchange the current refresh token for a new pair. The refresh token may be sent in the Refresh-Token header or the body.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param Refresh-Token header string false "Refresh token"
// @Param payload body models.ReissueRequest false "Reissue payload"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/reissue [post]
func (h *AuthHandler) Reissue(c *gin.Context) {
	var req models.ReissueRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid reissue payload"))
		return
	}
	if header := strings.TrimSpace(c.GetHeader(RefreshTokenHeader)); header != "" {
		req.RefreshToken = header
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	pair, err := h.service.Reissue(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	writeTokenHeaders(c, pair)
	response.JSON(c, http.StatusOK, pair)
}

// Logout godoc
// @Summary Logout current session
// @Description Revoke the session of the access token owner. The access token stays valid until it expires.
// @Tags Authentication
// @Produce json
// @Security BearerAuth
// @Success 204 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	token, err := middleware.BearerToken(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	if err := h.service.Logout(c.Request.Context(), token, requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}
