package app

import (
	"net/http"

	"swipeskills/internal/service"
	"swipeskills/internal/util"

	"github.com/gin-gonic/gin"
)

type UserHandler struct {
	userService service.UserService
}

func NewUserHandler(userService service.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

type createProfileRequest struct {
	Name string `json:"name" binding:"required,notblank,max=100"`
	Role string `json:"role" binding:"omitempty,oneof=learner creator"`
}

type updatePreferencesRequest struct {
	Interests []string `json:"interests" binding:"max=50,dive,notblank"`
	Badges    []string `json:"badges" binding:"max=20,dive,notblank"`
}

// CreateProfile writes the caller's profile at sign-up
// POST /api/v1/users
func (h *UserHandler) CreateProfile(c *gin.Context) {
	var req createProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	user, err := h.userService.CreateProfile(c.Request.Context(), currentUser(c), req.Name, c.GetString("email"), req.Role)
	if err != nil {
		respondError(c, err)
		return
	}

	util.SuccessResponse(c, http.StatusCreated, "Profile created successfully", gin.H{"user": user})
}

// GetMe returns the caller's profile
// GET /api/v1/users/me
func (h *UserHandler) GetMe(c *gin.Context) {
	h.profile(c, currentUser(c))
}

// GetUser returns a profile by id
// GET /api/v1/users/:id
func (h *UserHandler) GetUser(c *gin.Context) {
	h.profile(c, c.Param("id"))
}

func (h *UserHandler) profile(c *gin.Context, uid string) {
	profile, err := h.userService.Profile(c.Request.Context(), uid)
	if err != nil {
		respondError(c, err)
		return
	}
	util.SuccessResponse(c, http.StatusOK, "Profile retrieved successfully", gin.H{"user": profile})
}

// UpdatePreferences replaces the caller's interests and badges
// PUT /api/v1/users/me/preferences
func (h *UserHandler) UpdatePreferences(c *gin.Context) {
	var req updatePreferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	user, err := h.userService.UpdatePreferences(c.Request.Context(), currentUser(c), req.Interests, req.Badges)
	if err != nil {
		respondError(c, err)
		return
	}

	util.SuccessResponse(c, http.StatusOK, "Preferences updated successfully", gin.H{"user": user})
}

// DeleteAccount removes the caller's profile
// DELETE /api/v1/users/me
func (h *UserHandler) DeleteAccount(c *gin.Context) {
	if err := h.userService.DeleteAccount(c.Request.Context(), currentUser(c)); err != nil {
		respondError(c, err)
		return
	}
	util.SuccessResponse(c, http.StatusOK, "Account deleted successfully", nil)
}
