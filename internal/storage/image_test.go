package storage

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for x := 0; x < 16; x++ {
		for y := 0; y < 16; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: 128, A: 255})
		}
	}
	return img
}

func TestCompressThumbnailConvertsPNGToJPEG(t *testing.T) {
	var src bytes.Buffer
	require.NoError(t, png.Encode(&src, testImage()))

	r, name, err := CompressThumbnail(&src, "thumbs/cover.png")
	require.NoError(t, err)
	assert.Equal(t, "thumbs/cover.jpg", name)

	decoded, err := jpeg.Decode(r)
	require.NoError(t, err)
	assert.Equal(t, 16, decoded.Bounds().Dx())
}

func TestCompressThumbnailPassesWebPThrough(t *testing.T) {
	src := strings.NewReader("RIFF....WEBP")
	r, name, err := CompressThumbnail(src, "cover.webp")
	require.NoError(t, err)
	assert.Equal(t, "cover.webp", name)
	assert.Same(t, src, r)
}

func TestCompressThumbnailRejectsUnknownFormat(t *testing.T) {
	_, _, err := CompressThumbnail(strings.NewReader("GIF89a"), "cover.gif")
	assert.Error(t, err)
}

func TestResourceTypeFor(t *testing.T) {
	assert.Equal(t, "video", resourceTypeFor("clip.MP4"))
	assert.Equal(t, "image", resourceTypeFor("thumb.jpg"))
	assert.Equal(t, "auto", resourceTypeFor("notes.txt"))
}
