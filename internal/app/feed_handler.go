package app

import (
	"net/http"
	"strconv"

	"swipeskills/internal/service"
	"swipeskills/internal/util"

	"github.com/gin-gonic/gin"
)

type FeedHandler struct {
	feedService service.FeedService
}

func NewFeedHandler(feedService service.FeedService) *FeedHandler {
	return &FeedHandler{feedService: feedService}
}

// HomeFeed returns the caller's personalised feed
// GET /api/v1/feed/home?limit=20
func (h *FeedHandler) HomeFeed(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		limit = 0
	}

	items, err := h.feedService.HomeFeed(c.Request.Context(), currentUser(c), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	util.SuccessResponse(c, http.StatusOK, "Feed retrieved successfully", gin.H{"videos": items, "count": len(items)})
}

// SearchFeed returns videos matching q, most popular first
// GET /api/v1/feed/search?q=golang
func (h *FeedHandler) SearchFeed(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		util.BadRequest(c, "Search query is required")
		return
	}

	items, err := h.feedService.SearchFeed(c.Request.Context(), currentUser(c), q)
	if err != nil {
		respondError(c, err)
		return
	}
	util.SuccessResponse(c, http.StatusOK, "Search completed successfully", gin.H{"videos": items, "count": len(items)})
}
