package app

import (
	"net/http"

	"swipeskills/internal/service"
	"swipeskills/internal/util"

	"github.com/gin-gonic/gin"
)

type LikeHandler struct {
	likeService    service.LikeService
	commentService service.CommentService
}

func NewLikeHandler(likeService service.LikeService, commentService service.CommentService) *LikeHandler {
	return &LikeHandler{
		likeService:    likeService,
		commentService: commentService,
	}
}

// LikeVideo handles liking a video
// POST /api/v1/videos/:id/like
func (h *LikeHandler) LikeVideo(c *gin.Context) {
	if err := h.likeService.LikeVideo(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	util.SuccessResponse(c, http.StatusOK, "Video liked successfully", gin.H{"liked": true})
}

// UnlikeVideo handles unliking a video
// DELETE /api/v1/videos/:id/like
func (h *LikeHandler) UnlikeVideo(c *gin.Context) {
	if err := h.likeService.UnlikeVideo(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	util.SuccessResponse(c, http.StatusOK, "Video unliked successfully", gin.H{"liked": false})
}

// SaveVideo adds a video to the caller's saved list
// POST /api/v1/videos/:id/save
func (h *LikeHandler) SaveVideo(c *gin.Context) {
	if err := h.likeService.SaveVideo(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	util.SuccessResponse(c, http.StatusOK, "Video saved successfully", gin.H{"saved": true})
}

// UnsaveVideo removes a video from the caller's saved list
// DELETE /api/v1/videos/:id/save
func (h *LikeHandler) UnsaveVideo(c *gin.Context) {
	if err := h.likeService.UnsaveVideo(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	util.SuccessResponse(c, http.StatusOK, "Video unsaved successfully", gin.H{"saved": false})
}

// LikeComment handles liking a comment or reply
// POST /api/v1/comments/:id/like
func (h *LikeHandler) LikeComment(c *gin.Context) {
	if err := h.commentService.LikeComment(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	util.SuccessResponse(c, http.StatusOK, "Comment liked successfully", gin.H{"liked": true})
}

// UnlikeComment handles unliking a comment or reply
// DELETE /api/v1/comments/:id/like
func (h *LikeHandler) UnlikeComment(c *gin.Context) {
	if err := h.commentService.UnlikeComment(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	util.SuccessResponse(c, http.StatusOK, "Comment unliked successfully", gin.H{"liked": false})
}
