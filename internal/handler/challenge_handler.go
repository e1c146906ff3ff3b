package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/board-api/internal/models"
	appErrors "github.com/noah-isme/board-api/pkg/errors"
	"github.com/noah-isme/board-api/pkg/response"
)

type challengeService interface {
	Issue(ctx context.Context, email string) (string, error)
	Verify(ctx context.Context, email, candidate string) error
}

type profileService interface {
	Profile(ctx context.Context, principal models.Principal) (*models.UserInfo, error)
}

// ChallengeHandler exposes email ownership challenges.
type ChallengeHandler struct {
	challenges challengeService
	users      profileService
}

// NewChallengeHandler constructs a ChallengeHandler.
func NewChallengeHandler(challenges challengeService, users profileService) *ChallengeHandler {
	return &ChallengeHandler{challenges: challenges, users: users}
}

// SendMail godoc
// @Summary Send verification code
// @Description Mail a one-time code to the authenticated user's email address
// @Tags Email
// @Produce json
// @Security BearerAuth
// @Success 202 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /auth/send-mail [post]
func (h *ChallengeHandler) SendMail(c *gin.Context) {
	principal, err := principalFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	profile, err := h.users.Profile(c.Request.Context(), principal)
	if err != nil {
		response.Error(c, err)
		return
	}

	if _, err := h.challenges.Issue(c.Request.Context(), profile.Email); err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusAccepted, gin.H{"recipient": profile.Email})
}

// CheckMail godoc
// @Summary Verify code
// @Description Consume the pending code for an email address
// @Tags Email
// @Accept json
// @Produce json
// @Param payload body models.VerifyChallengeRequest true "Verification payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /auth/check-mail [put]
func (h *ChallengeHandler) CheckMail(c *gin.Context) {
	var req models.VerifyChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid verification payload"))
		return
	}

	if err := h.challenges.Verify(c.Request.Context(), req.Email, req.Key); err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"verified": true})
}
