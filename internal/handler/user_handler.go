package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/board-api/internal/models"
	appErrors "github.com/noah-isme/board-api/pkg/errors"
	"github.com/noah-isme/board-api/pkg/response"
)

type userService interface {
	Profile(ctx context.Context, principal models.Principal) (*models.UserInfo, error)
	ChangePassword(ctx context.Context, principal models.Principal, req models.ChangePasswordRequest, meta models.RequestMeta) error
	CloseAccount(ctx context.Context, principal models.Principal, req models.CloseAccountRequest, meta models.RequestMeta) error
}

// UserHandler serves the authenticated user's own account.
type UserHandler struct {
	service userService
}

// NewUserHandler constructs a UserHandler.
func NewUserHandler(svc userService) *UserHandler {
	return &UserHandler{service: svc}
}

// Me godoc
// @Summary Get current user
// @Tags Users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /users/me [get]
func (h *UserHandler) Me(c *gin.Context) {
	principal, err := principalFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	info, err := h.service.Profile(c.Request.Context(), principal)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, info)
}

// ChangePassword godoc
// @Summary Change password
// @Description Change the password and revoke the current session
// @Tags Users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.ChangePasswordRequest true "Change password"
// @Success 204 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /users/me/password [put]
func (h *UserHandler) ChangePassword(c *gin.Context) {
	principal, err := principalFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var req models.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	if err := h.service.ChangePassword(c.Request.Context(), principal, req, requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// CloseAccount godoc
// @Summary Close account
// @Tags Users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.CloseAccountRequest true "Password confirmation"
// @Success 204 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /users/me [delete]
func (h *UserHandler) CloseAccount(c *gin.Context) {
	principal, err := principalFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var req models.CloseAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "password confirmation required"))
		return
	}

	if err := h.service.CloseAccount(c.Request.Context(), principal, req, requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}
