package app

import (
	"net/http"

	"swipeskills/internal/service"
	"swipeskills/internal/util"

	"github.com/gin-gonic/gin"
)

type FollowHandler struct {
	followService service.FollowService
}

func NewFollowHandler(followService service.FollowService) *FollowHandler {
	return &FollowHandler{followService: followService}
}

// Follow makes the caller follow a user
// POST /api/v1/users/:id/follow
func (h *FollowHandler) Follow(c *gin.Context) {
	if err := h.followService.Follow(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	util.SuccessResponse(c, http.StatusOK, "User followed", gin.H{"following": true})
}

// Unfollow removes the caller's follow of a user
// DELETE /api/v1/users/:id/follow
func (h *FollowHandler) Unfollow(c *gin.Context) {
	if err := h.followService.Unfollow(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	util.SuccessResponse(c, http.StatusOK, "User unfollowed", gin.H{"following": false})
}

// GetFollowing lists the ids a user follows
// GET /api/v1/users/:id/following
func (h *FollowHandler) GetFollowing(c *gin.Context) {
	ids, err := h.followService.ListFollowing(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	util.SuccessResponse(c, http.StatusOK, "Following retrieved successfully", gin.H{"following": ids, "count": len(ids)})
}

// GetFollowers lists the ids following a user
// GET /api/v1/users/:id/followers
func (h *FollowHandler) GetFollowers(c *gin.Context) {
	ids, err := h.followService.ListFollowers(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	util.SuccessResponse(c, http.StatusOK, "Followers retrieved successfully", gin.H{"followers": ids, "count": len(ids)})
}
