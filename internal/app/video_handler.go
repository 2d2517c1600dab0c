package app

import (
	"net/http"
	"strings"

	"swipeskills/internal/service"
	"swipeskills/internal/util"

	"github.com/gin-gonic/gin"
)

const maxUploadSize = 64 << 20

type VideoHandler struct {
	videoService service.VideoService
	shareService service.ShareService
}

func NewVideoHandler(videoService service.VideoService, shareService service.ShareService) *VideoHandler {
	return &VideoHandler{
		videoService: videoService,
		shareService: shareService,
	}
}

type uploadVideoRequest struct {
	Title       string   `json:"title" binding:"required,notblank,max=200"`
	Description string   `json:"description" binding:"max=5000"`
	Category    string   `json:"category" binding:"max=100"`
	Tags        []string `json:"tags" binding:"max=30"`
	MediaURL    string   `json:"mediaUrl" binding:"required,url"`
}

type shareVideoRequest struct {
	Channel string `json:"channel" binding:"max=50"`
}

// UploadVideo publishes a video. Multipart requests carry the media file
// ("media") and an optional thumbnail ("thumbnail"); JSON requests reference
// already hosted media by URL.
// POST /api/v1/videos
func (h *VideoHandler) UploadVideo(c *gin.Context) {
	var in service.UploadVideoInput
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		if err := c.Request.ParseMultipartForm(maxUploadSize); err != nil {
			util.BadRequest(c, "Failed to parse form data")
			return
		}
		in = service.UploadVideoInput{
			Title:       c.PostForm("title"),
			Description: c.PostForm("description"),
			Category:    c.PostForm("category"),
			Tags:        splitTags(c.PostForm("tags")),
			MediaURL:    c.PostForm("mediaUrl"),
		}

		media, err := c.FormFile("media")
		if err == nil {
			f, err := media.Open()
			if err != nil {
				util.BadRequest(c, "Failed to read media file")
				return
			}
			defer f.Close()
			in.MediaName = media.Filename
			in.Media = f
		}

		thumb, err := c.FormFile("thumbnail")
		if err == nil {
			f, err := thumb.Open()
			if err != nil {
				util.BadRequest(c, "Failed to read thumbnail file")
				return
			}
			defer f.Close()
			in.ThumbnailName = thumb.Filename
			in.Thumbnail = f
		}
	} else {
		var req uploadVideoRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
		in = service.UploadVideoInput{
			Title:       req.Title,
			Description: req.Description,
			Category:    req.Category,
			Tags:        req.Tags,
			MediaURL:    req.MediaURL,
		}
	}

	video, err := h.videoService.Upload(c.Request.Context(), currentUser(c), in)
	if err != nil {
		respondError(c, err)
		return
	}

	util.SuccessResponse(c, http.StatusCreated, "Video uploaded successfully", gin.H{"video": video})
}

func splitTags(raw string) []string {
	var tags []string
	for _, tag := range strings.Split(raw, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// GetVideo returns a video by id
// GET /api/v1/videos/:id
func (h *VideoHandler) GetVideo(c *gin.Context) {
	video, err := h.videoService.GetVideo(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	util.SuccessResponse(c, http.StatusOK, "Video retrieved successfully", gin.H{"video": video})
}

// GetVideosByCreator lists a creator's videos
// GET /api/v1/users/:id/videos
func (h *VideoHandler) GetVideosByCreator(c *gin.Context) {
	videos, err := h.videoService.ListByCreator(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	util.SuccessResponse(c, http.StatusOK, "Videos retrieved successfully", gin.H{"videos": videos, "count": len(videos)})
}

// DeleteVideo removes one of the caller's videos
// DELETE /api/v1/videos/:id
func (h *VideoHandler) DeleteVideo(c *gin.Context) {
	if err := h.videoService.Delete(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	util.SuccessResponse(c, http.StatusOK, "Video deleted successfully", nil)
}

// ShareVideo records a share of a video
// POST /api/v1/videos/:id/share
func (h *VideoHandler) ShareVideo(c *gin.Context) {
	var req shareVideoRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
	}

	share, err := h.shareService.ShareVideo(c.Request.Context(), currentUser(c), c.Param("id"), req.Channel)
	if err != nil {
		respondError(c, err)
		return
	}
	util.SuccessResponse(c, http.StatusCreated, "Video shared", gin.H{"share": share})
}

// RecordView counts a view of a video
// POST /api/v1/videos/:id/view
func (h *VideoHandler) RecordView(c *gin.Context) {
	if err := h.shareService.RecordView(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	util.SuccessResponse(c, http.StatusOK, "View recorded", nil)
}
