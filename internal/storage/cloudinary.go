package storage

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"swipeskills/internal/config"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type CloudinaryStorage struct {
	cld    *cloudinary.Cloudinary
	folder string
}

func NewCloudinaryStorage(cfg *config.Config) (*CloudinaryStorage, error) {
	if cfg.CloudinaryCloudName == "" || cfg.CloudinaryAPIKey == "" || cfg.CloudinaryAPISecret == "" {
		return nil, errors.New("cloudinary credentials not configured")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize cloudinary")
	}

	return &CloudinaryStorage{
		cld:    cld,
		folder: cfg.CloudinaryFolder,
	}, nil
}

// Save uploads r. Images are delivered as WebP; videos keep their format.
// The returned key carries the resource type so Delete can target it.
func (c *CloudinaryStorage) Save(ctx context.Context, name string, r io.Reader) (*Object, error) {
	resourceType := resourceTypeFor(name)
	publicID := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if publicID == "" || publicID == "." {
		publicID = uuid.New().String()
	}

	params := uploader.UploadParams{
		Folder:       c.folder,
		PublicID:     publicID,
		ResourceType: resourceType,
	}
	if resourceType == "image" {
		params.Transformation = "q_auto,f_webp,w_1280"
	}

	result, err := c.cld.Upload.Upload(ctx, r, params)
	if err != nil {
		return nil, errors.Wrap(err, "error uploading to cloudinary")
	}
	if result.Error.Message != "" {
		return nil, errors.Errorf("cloudinary upload rejected: %s", result.Error.Message)
	}

	url := result.SecureURL
	if resourceType == "image" {
		// serve the WebP rendition
		url = strings.Replace(url, "/upload/", "/upload/f_webp,q_auto,w_1280/", 1)
	}
	return &Object{Key: resourceType + ":" + result.PublicID, URL: url}, nil
}

// Delete destroys an uploaded asset by the key Save returned
func (c *CloudinaryStorage) Delete(ctx context.Context, key string) error {
	resourceType, publicID, ok := strings.Cut(key, ":")
	if !ok {
		resourceType, publicID = "image", key
	}
	result, err := c.cld.Upload.Destroy(ctx, uploader.DestroyParams{
		PublicID:     publicID,
		ResourceType: resourceType,
	})
	if err != nil {
		return errors.Wrapf(err, "error deleting %s from cloudinary", publicID)
	}
	if result.Error.Message != "" {
		return errors.Errorf("cloudinary destroy rejected: %s", result.Error.Message)
	}
	return nil
}

func resourceTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".webp", ".gif":
		return "image"
	case ".mp4", ".mov", ".webm", ".mkv", ".m4v":
		return "video"
	}
	return "auto"
}
