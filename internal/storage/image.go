package storage

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// thumbnailQuality is the JPEG quality thumbnails are re-encoded at
const thumbnailQuality = 80

// CompressThumbnail re-encodes a JPEG or PNG thumbnail as a JPEG at reduced
// quality and returns the new reader and file name. WebP is passed through.
func CompressThumbnail(r io.Reader, name string) (io.Reader, string, error) {
	var img image.Image
	var err error
	ext := strings.ToLower(filepath.Ext(name))

	switch ext {
	case ".jpg", ".jpeg":
		img, err = jpeg.Decode(r)
		if err != nil {
			return nil, "", errors.Wrap(err, "error decoding JPEG")
		}
	case ".png":
		img, err = png.Decode(r)
		if err != nil {
			return nil, "", errors.Wrap(err, "error decoding PNG")
		}
	case ".webp":
		return r, name, nil
	default:
		return nil, "", errors.Errorf("unsupported image format: %s", ext)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		return nil, "", errors.Wrap(err, "error encoding compressed image")
	}
	return &buf, strings.TrimSuffix(name, filepath.Ext(name)) + ".jpg", nil
}
