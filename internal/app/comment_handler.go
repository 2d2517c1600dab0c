package app

import (
	"net/http"

	"swipeskills/internal/service"
	"swipeskills/internal/util"

	"github.com/gin-gonic/gin"
)

type CommentHandler struct {
	commentService service.CommentService
}

func NewCommentHandler(commentService service.CommentService) *CommentHandler {
	return &CommentHandler{commentService: commentService}
}

type commentRequest struct {
	Text string `json:"text" binding:"required,notblank,max=2000"`
}

// GetThread returns a video's comments with their replies
// GET /api/v1/videos/:id/comments
func (h *CommentHandler) GetThread(c *gin.Context) {
	threads, err := h.commentService.ListThread(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	util.SuccessResponse(c, http.StatusOK, "Comments retrieved successfully", gin.H{"comments": threads, "count": len(threads)})
}

// AddComment handles top-level comment creation
// POST /api/v1/videos/:id/comments
func (h *CommentHandler) AddComment(c *gin.Context) {
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	comment, err := h.commentService.AddComment(c.Request.Context(), currentUser(c), c.Param("id"), req.Text)
	if err != nil {
		respondError(c, err)
		return
	}
	util.SuccessResponse(c, http.StatusCreated, "Comment created successfully", gin.H{"comment": comment})
}

// AddReply handles replying to a comment
// POST /api/v1/comments/:id/replies
func (h *CommentHandler) AddReply(c *gin.Context) {
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	reply, err := h.commentService.AddReply(c.Request.Context(), currentUser(c), c.Param("id"), req.Text)
	if err != nil {
		respondError(c, err)
		return
	}
	util.SuccessResponse(c, http.StatusCreated, "Reply created successfully", gin.H{"comment": reply})
}

// EditComment handles editing the caller's comment
// PUT /api/v1/comments/:id
func (h *CommentHandler) EditComment(c *gin.Context) {
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	comment, err := h.commentService.EditComment(c.Request.Context(), currentUser(c), c.Param("id"), req.Text)
	if err != nil {
		respondError(c, err)
		return
	}
	util.SuccessResponse(c, http.StatusOK, "Comment updated successfully", gin.H{"comment": comment})
}

// DeleteComment handles deleting a comment and its replies
// DELETE /api/v1/comments/:id
func (h *CommentHandler) DeleteComment(c *gin.Context) {
	removed, err := h.commentService.DeleteComment(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	util.SuccessResponse(c, http.StatusOK, "Comment deleted successfully", gin.H{"removed": removed})
}

// MigrateReplies moves legacy embedded replies into reply documents
// POST /api/v1/videos/:id/comments/migrate
func (h *CommentHandler) MigrateReplies(c *gin.Context) {
	migrated, err := h.commentService.MigrateLegacyReplies(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	util.SuccessResponse(c, http.StatusOK, "Replies migrated successfully", gin.H{"migrated": migrated})
}
