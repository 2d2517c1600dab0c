// Package storage keeps uploaded media in an object store.
package storage

import (
	"context"
	"io"

	"swipeskills/internal/config"

	"github.com/pkg/errors"
)

// ErrDisabled is returned when no media backend is configured.
var ErrDisabled = errors.New("storage: media uploads are disabled")

// Object locates a stored file. Key is what Delete takes.
type Object struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// MediaStorage stores and removes media files.
type MediaStorage interface {
	Save(ctx context.Context, name string, r io.Reader) (*Object, error)
	Delete(ctx context.Context, key string) error
}

// New builds the backend named by cfg.MediaBackend. It returns nil for
// "none" or an empty setting.
func New(ctx context.Context, cfg *config.Config) (MediaStorage, error) {
	switch cfg.MediaBackend {
	case "", "none":
		return nil, nil
	case "cloudinary":
		return NewCloudinaryStorage(cfg)
	case "s3":
		return NewS3Storage(ctx, cfg)
	}
	return nil, errors.Errorf("storage: unknown backend %q", cfg.MediaBackend)
}
