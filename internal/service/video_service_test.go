package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"sync"
	"testing"

	"swipeskills/internal/model"
	"swipeskills/internal/storage"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memMedia struct {
	mu      sync.Mutex
	objects map[string][]byte
	failOn  string
}

func newMemMedia() *memMedia {
	return &memMedia{objects: make(map[string][]byte)}
}

func (m *memMedia) Save(ctx context.Context, name string, r io.Reader) (*storage.Object, error) {
	if m.failOn != "" && strings.Contains(name, m.failOn) {
		return nil, errors.New("upload rejected")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = data
	return &storage.Object{Key: name, URL: "https://media.test/" + name}, nil
}

func (m *memMedia) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memMedia) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

func pngThumbnail(t *testing.T) io.Reader {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return &buf
}

func TestUploadStoresMediaAndCountsVideo(t *testing.T) {
	media := newMemMedia()
	e := newTestEnvWith(t, nil, media)
	e.seedUser(t, "c1", "Creator", model.RoleCreator)

	v, err := e.videoSvc.Upload(e.ctx, "c1", UploadVideoInput{
		Title:         "  Goroutines  ",
		Tags:          []string{"go", "Go", " concurrency "},
		MediaName:     "clip.mp4",
		Media:         strings.NewReader("video-bytes"),
		ThumbnailName: "cover.png",
		Thumbnail:     pngThumbnail(t),
	})
	require.NoError(t, err)

	assert.Equal(t, "Goroutines", v.Title)
	assert.Equal(t, []string{"go", "concurrency"}, v.Tags)
	assert.Equal(t, "https://media.test/videos/"+v.ID+"/clip.mp4", v.MediaURL)
	assert.True(t, strings.HasSuffix(v.ThumbnailURL, "thumb-cover.jpg"))
	assert.Len(t, v.StorageKeys, 2)
	assert.Equal(t, 2, media.count())

	assert.Equal(t, int64(1), e.user(t, "c1").Stats.VideosCount)
	stored, err := e.videoSvc.GetVideo(e.ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, v.MediaURL, stored.MediaURL)
}

func TestUploadGuards(t *testing.T) {
	media := newMemMedia()
	e := newTestEnvWith(t, nil, media)
	e.seedUser(t, "a1", "Ana", model.RoleLearner)
	e.seedUser(t, "c1", "Creator", model.RoleCreator)

	_, err := e.videoSvc.Upload(e.ctx, "a1", UploadVideoInput{Title: "mine", MediaURL: "https://x/y.mp4"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = e.videoSvc.Upload(e.ctx, "c1", UploadVideoInput{Title: " ", MediaURL: "https://x/y.mp4"})
	assert.ErrorIs(t, err, ErrInvalidOperation)

	_, err = e.videoSvc.Upload(e.ctx, "c1", UploadVideoInput{Title: "no media"})
	assert.ErrorIs(t, err, ErrInvalidOperation)

	_, err = e.videoSvc.Upload(e.ctx, "c1", UploadVideoInput{
		Title: "bad thumb", MediaURL: "https://x/y.mp4",
		ThumbnailName: "cover.gif", Thumbnail: strings.NewReader("gif"),
	})
	assert.ErrorIs(t, err, ErrInvalidOperation)

	media.failOn = "thumb-"
	_, err = e.videoSvc.Upload(e.ctx, "c1", UploadVideoInput{
		Title: "half stored", MediaName: "clip.mp4", Media: strings.NewReader("bytes"),
		ThumbnailName: "cover.png", Thumbnail: pngThumbnail(t),
	})
	assert.ErrorIs(t, err, ErrTransient)

	assert.Zero(t, media.count())
	assert.Equal(t, 0, e.countDocs(t, model.CollectionVideos))
	assert.Equal(t, int64(0), e.user(t, "c1").Stats.VideosCount)
}

func TestUploadWithoutStorageAcceptsHostedMedia(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser(t, "c1", "Creator", model.RoleCreator)

	_, err := e.videoSvc.Upload(e.ctx, "c1", UploadVideoInput{Title: "raw", Media: strings.NewReader("bytes")})
	assert.ErrorIs(t, err, ErrInvalidOperation)

	v, err := e.videoSvc.Upload(e.ctx, "c1", UploadVideoInput{Title: "hosted", MediaURL: "https://cdn.example/v.mp4"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/v.mp4", v.MediaURL)

	list, err := e.videoSvc.ListByCreator(e.ctx, "c1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, v.ID, list[0].ID)
}

func TestDeleteVideoCascades(t *testing.T) {
	media := newMemMedia()
	e := newTestEnvWith(t, nil, media)
	e.seedUser(t, "c1", "Creator", model.RoleCreator)
	e.seedUser(t, "a1", "Ana", model.RoleLearner)

	v, err := e.videoSvc.Upload(e.ctx, "c1", UploadVideoInput{
		Title: "doomed", MediaName: "clip.mp4", Media: strings.NewReader("bytes"),
	})
	require.NoError(t, err)

	top, err := e.commentSvc.AddComment(e.ctx, "a1", v.ID, "nice")
	require.NoError(t, err)
	_, err = e.commentSvc.AddReply(e.ctx, "c1", top.ID, "thanks")
	require.NoError(t, err)
	_, err = e.shareSvc.ShareVideo(e.ctx, "a1", v.ID, "link")
	require.NoError(t, err)

	assert.ErrorIs(t, e.videoSvc.Delete(e.ctx, "a1", v.ID), ErrForbidden)

	require.NoError(t, e.videoSvc.Delete(e.ctx, "c1", v.ID))

	assert.Equal(t, 0, e.countDocs(t, model.CollectionVideos))
	assert.Equal(t, 0, e.countDocs(t, model.CollectionComments))
	assert.Equal(t, 0, e.countDocs(t, model.CollectionShares))
	assert.Equal(t, int64(0), e.user(t, "c1").Stats.VideosCount)
	assert.Equal(t, int64(0), e.user(t, "c1").Stats.CommentsCount)
	assert.Equal(t, int64(0), e.user(t, "a1").Stats.CommentsCount)
	assert.Zero(t, media.count())

	_, err = e.videoSvc.GetVideo(e.ctx, v.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, e.videoSvc.Delete(e.ctx, "c1", v.ID), ErrNotFound)
}
