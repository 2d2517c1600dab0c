package service

import (
	"context"
	"sort"
	"strings"

	"swipeskills/internal/model"
	"swipeskills/internal/repository"
)

const (
	DefaultFeedLimit = 20
	MaxFeedLimit     = 100
)

// FeedItem is a video decorated for display
type FeedItem struct {
	*model.Video
	CreatorName   string `json:"creatorName,omitempty"`
	CreatorAvatar string `json:"creatorAvatar,omitempty"`
	CreatorBadge  string `json:"creatorBadge,omitempty"`
	LikedByViewer bool   `json:"likedByViewer"`
	SavedByViewer bool   `json:"savedByViewer"`
}

type FeedService interface {
	HomeFeed(ctx context.Context, viewerID string, limit int) ([]*FeedItem, error)
	SearchFeed(ctx context.Context, viewerID, query string) ([]*FeedItem, error)
}

type feedService struct {
	userRepo     repository.UserRepository
	videoRepo    repository.VideoRepository
	cache        *MembershipCache
	defaultLimit int
	maxLimit     int
}

func NewFeedService(
	userRepo repository.UserRepository,
	videoRepo repository.VideoRepository,
	cache *MembershipCache,
	defaultLimit, maxLimit int,
) FeedService {
	if defaultLimit <= 0 {
		defaultLimit = DefaultFeedLimit
	}
	if maxLimit <= 0 {
		maxLimit = MaxFeedLimit
	}
	return &feedService{
		userRepo:     userRepo,
		videoRepo:    videoRepo,
		cache:        cache,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}
}

// HomeFeed returns the newest videos with those matching the viewer's
// interests moved to the front. Relative order inside each group is kept.
func (s *feedService) HomeFeed(ctx context.Context, viewerID string, limit int) ([]*FeedItem, error) {
	if err := requireActor(viewerID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.defaultLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}

	videos, err := s.videoRepo.FindLatest(ctx, limit)
	if err != nil {
		return nil, classify(err)
	}

	var interests []string
	if viewer, err := s.userRepo.FindByID(ctx, viewerID); err == nil {
		interests = viewer.Interests
	} else if !repository.IsNotFound(err) {
		return nil, classify(err)
	}

	return s.decorate(ctx, viewerID, PartitionByInterests(videos, interests))
}

// SearchFeed returns every video matching query (all when empty), ranked by
// likes plus views
func (s *feedService) SearchFeed(ctx context.Context, viewerID, query string) ([]*FeedItem, error) {
	if err := requireActor(viewerID); err != nil {
		return nil, err
	}

	videos, err := s.videoRepo.FindAll(ctx)
	if err != nil {
		return nil, classify(err)
	}

	query = strings.ToLower(strings.TrimSpace(query))
	if query != "" {
		matched := videos[:0]
		for _, v := range videos {
			if matchesQuery(v, query) {
				matched = append(matched, v)
			}
		}
		videos = matched
	}

	items, err := s.decorate(ctx, viewerID, videos)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Popularity() > items[j].Popularity()
	})
	return items, nil
}

// decorate adds creator display fields and the viewer's membership flags
func (s *feedService) decorate(ctx context.Context, viewerID string, videos []*model.Video) ([]*FeedItem, error) {
	creatorIDs := make([]string, 0, len(videos))
	for _, v := range videos {
		creatorIDs = append(creatorIDs, v.CreatorID)
	}
	creators, err := s.userRepo.FindByIDs(ctx, creatorIDs)
	if err != nil {
		return nil, classify(err)
	}
	membership, err := s.cache.Get(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	items := make([]*FeedItem, 0, len(videos))
	for _, v := range videos {
		item := &FeedItem{
			Video:         v,
			CreatorBadge:  model.BadgeLearner,
			LikedByViewer: membership.IsLiked(v.ID),
			SavedByViewer: membership.IsSaved(v.ID),
		}
		if c, ok := creators[v.CreatorID]; ok {
			item.CreatorName = c.Name
			item.CreatorAvatar = c.AvatarURL
			item.CreatorBadge = c.DisplayBadge()
		}
		items = append(items, item)
	}
	return items, nil
}

// PartitionByInterests stably moves videos whose category or any tag
// matches an interest (case-insensitive) ahead of the rest
func PartitionByInterests(videos []*model.Video, interests []string) []*model.Video {
	if len(interests) == 0 {
		return videos
	}
	wanted := make(map[string]struct{}, len(interests))
	for _, in := range interests {
		wanted[strings.ToLower(strings.TrimSpace(in))] = struct{}{}
	}

	matched := make([]*model.Video, 0, len(videos))
	rest := make([]*model.Video, 0, len(videos))
	for _, v := range videos {
		if matchesInterest(v, wanted) {
			matched = append(matched, v)
		} else {
			rest = append(rest, v)
		}
	}
	return append(matched, rest...)
}

func matchesInterest(v *model.Video, wanted map[string]struct{}) bool {
	if _, ok := wanted[strings.ToLower(v.Category)]; ok && v.Category != "" {
		return true
	}
	for _, tag := range v.Tags {
		if _, ok := wanted[strings.ToLower(tag)]; ok {
			return true
		}
	}
	return false
}

func matchesQuery(v *model.Video, query string) bool {
	if strings.Contains(strings.ToLower(v.Title), query) ||
		strings.Contains(strings.ToLower(v.Description), query) ||
		strings.Contains(strings.ToLower(v.Category), query) {
		return true
	}
	for _, tag := range v.Tags {
		if strings.Contains(strings.ToLower(tag), query) {
			return true
		}
	}
	return false
}
