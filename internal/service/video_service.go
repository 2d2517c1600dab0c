package service

import (
	"context"
	"io"
	"path"
	"strings"

	"swipeskills/internal/docstore"
	"swipeskills/internal/logging"
	"swipeskills/internal/model"
	"swipeskills/internal/repository"
	"swipeskills/internal/storage"

	"github.com/pkg/errors"
)

// UploadVideoInput carries the metadata and media of a new video. When Media
// is nil MediaURL must point at already hosted media.
type UploadVideoInput struct {
	Title         string
	Description   string
	Category      string
	Tags          []string
	MediaURL      string
	MediaName     string
	Media         io.Reader
	ThumbnailName string
	Thumbnail     io.Reader
}

type VideoService interface {
	Upload(ctx context.Context, actorID string, in UploadVideoInput) (*model.Video, error)
	Delete(ctx context.Context, actorID, videoID string) error
	GetVideo(ctx context.Context, videoID string) (*model.Video, error)
	ListByCreator(ctx context.Context, creatorID string) ([]*model.Video, error)
}

type videoService struct {
	store     docstore.Store
	userRepo  repository.UserRepository
	videoRepo repository.VideoRepository
	media     storage.MediaStorage
}

func NewVideoService(
	store docstore.Store,
	userRepo repository.UserRepository,
	videoRepo repository.VideoRepository,
	media storage.MediaStorage,
) VideoService {
	return &videoService{
		store:     store,
		userRepo:  userRepo,
		videoRepo: videoRepo,
		media:     media,
	}
}

// Upload stores the media, then creates the video and bumps the creator's
// videosCount in one transaction. Stored objects are removed again when the
// transaction fails.
func (s *videoService) Upload(ctx context.Context, actorID string, in UploadVideoInput) (*model.Video, error) {
	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, errors.Wrap(ErrInvalidOperation, "title is required")
	}
	if in.Media == nil && strings.TrimSpace(in.MediaURL) == "" {
		return nil, errors.Wrap(ErrInvalidOperation, "media is required")
	}

	creator, err := s.userRepo.FindByID(ctx, actorID)
	if err != nil {
		return nil, classify(notFound(err, "user profile"))
	}
	if !creator.IsCreator() {
		return nil, errors.Wrap(ErrForbidden, "only creators can upload videos")
	}

	video := &model.Video{
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Category:    strings.TrimSpace(in.Category),
		Tags:        cleanTags(in.Tags),
		CreatorID:   actorID,
		MediaURL:    strings.TrimSpace(in.MediaURL),
	}
	video.BeforeCreate()

	if err := s.storeMedia(ctx, video, in); err != nil {
		s.removeObjects(ctx, video.StorageKeys)
		return nil, err
	}

	err = s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		user, err := tx.Get(s.userRepo.Ref(actorID))
		if err != nil {
			return notFound(err, "user profile")
		}
		if role, _ := user.Field(model.FieldRole).(string); role != model.RoleCreator {
			return errors.Wrap(ErrForbidden, "only creators can upload videos")
		}
		if err := tx.Create(s.videoRepo.Ref(video.ID), docstore.MustData(video)); err != nil {
			return err
		}
		return tx.Update(user.Ref, increment(model.FieldVideosCount))
	})
	if err != nil {
		s.removeObjects(ctx, video.StorageKeys)
		return nil, classify(err)
	}
	s.userRepo.Invalidate(ctx, actorID)
	return video, nil
}

func (s *videoService) storeMedia(ctx context.Context, video *model.Video, in UploadVideoInput) error {
	if in.Media == nil && in.Thumbnail == nil {
		return nil
	}
	if s.media == nil {
		return errors.Wrap(ErrInvalidOperation, storage.ErrDisabled.Error())
	}
	prefix := path.Join("videos", video.ID)

	if in.Media != nil {
		name := path.Base(in.MediaName)
		if name == "." || name == "/" {
			name = "media.mp4"
		}
		obj, err := s.media.Save(ctx, path.Join(prefix, name), in.Media)
		if err != nil {
			return &transientError{cause: err}
		}
		video.MediaURL = obj.URL
		video.StorageKeys = append(video.StorageKeys, obj.Key)
	}

	if in.Thumbnail != nil {
		r, name, err := storage.CompressThumbnail(in.Thumbnail, path.Base(in.ThumbnailName))
		if err != nil {
			return errors.Wrap(ErrInvalidOperation, err.Error())
		}
		obj, err := s.media.Save(ctx, path.Join(prefix, "thumb-"+name), r)
		if err != nil {
			return &transientError{cause: err}
		}
		video.ThumbnailURL = obj.URL
		video.StorageKeys = append(video.StorageKeys, obj.Key)
	}
	return nil
}

// Delete removes the video with its comments and share records and lowers
// the creator's videosCount and each comment author's commentsCount. Media
// objects are removed afterwards, best effort.
func (s *videoService) Delete(ctx context.Context, actorID, videoID string) error {
	if err := requireActor(actorID); err != nil {
		return err
	}

	var storageKeys, touched []string
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		snap, err := tx.Get(s.videoRepo.Ref(videoID))
		if err != nil {
			return notFound(err, "video")
		}
		var video model.Video
		if err := snap.DataTo(&video); err != nil {
			return err
		}
		if video.CreatorID != actorID {
			return errors.Wrap(ErrForbidden, "only the creator can delete a video")
		}
		storageKeys = video.StorageKeys

		comments, err := tx.Query(repository.ByVideoQuery(model.CollectionComments, videoID))
		if err != nil {
			return err
		}
		shares, err := tx.Query(repository.ByVideoQuery(model.CollectionShares, videoID))
		if err != nil {
			return err
		}

		perAuthor := make(map[string]int64)
		for _, c := range comments {
			var comment model.Comment
			if err := c.DataTo(&comment); err != nil {
				return err
			}
			perAuthor[comment.UserID]++
			for _, legacy := range comment.Replies {
				perAuthor[legacy.UserID]++
			}
		}
		creator, err := getOptional(tx, s.userRepo.Ref(actorID))
		if err != nil {
			return err
		}
		authors := make([]*docstore.Snapshot, 0, len(perAuthor))
		touched = append(touched[:0], actorID)
		for uid := range perAuthor {
			if uid == "" || uid == actorID {
				continue
			}
			a, err := getOptional(tx, s.userRepo.Ref(uid))
			if err != nil {
				return err
			}
			if a.Exists {
				authors = append(authors, a)
				touched = append(touched, uid)
			}
		}

		for _, d := range append(comments, shares...) {
			if err := tx.Delete(d.Ref); err != nil {
				return err
			}
		}
		if err := tx.Delete(snap.Ref); err != nil {
			return err
		}
		if creator.Exists {
			updates := []docstore.Update{decrement(ctx, creator, model.FieldVideosCount, 1)}
			if n := perAuthor[actorID]; n > 0 {
				updates = append(updates, decrement(ctx, creator, model.FieldCommentsCount, n))
			}
			if err := tx.Update(creator.Ref, updates...); err != nil {
				return err
			}
		}
		for _, a := range authors {
			if err := tx.Update(a.Ref, decrement(ctx, a, model.FieldCommentsCount, perAuthor[a.Ref.ID])); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return classify(err)
	}
	s.userRepo.Invalidate(ctx, touched...)
	s.removeObjects(ctx, storageKeys)
	return nil
}

func (s *videoService) GetVideo(ctx context.Context, videoID string) (*model.Video, error) {
	video, err := s.videoRepo.FindByID(ctx, videoID)
	if err != nil {
		return nil, classify(notFound(err, "video"))
	}
	return video, nil
}

func (s *videoService) ListByCreator(ctx context.Context, creatorID string) ([]*model.Video, error) {
	videos, err := s.videoRepo.FindByCreator(ctx, creatorID)
	return videos, classify(err)
}

func (s *videoService) removeObjects(ctx context.Context, keys []string) {
	if s.media == nil {
		return
	}
	for _, key := range keys {
		if err := s.media.Delete(ctx, key); err != nil {
			logging.FromContext(ctx).WithError(err).WithField("key", key).Warn("failed to remove stored media")
		}
	}
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		key := strings.ToLower(t)
		if t == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out
}
