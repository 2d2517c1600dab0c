package repository

import (
	"context"

	"swipeskills/internal/docstore"
	"swipeskills/internal/model"
)

type VideoRepository interface {
	Ref(id string) docstore.Ref
	FindByID(ctx context.Context, id string) (*model.Video, error)
	FindLatest(ctx context.Context, limit int) ([]*model.Video, error)
	FindAll(ctx context.Context) ([]*model.Video, error)
	FindByCreator(ctx context.Context, creatorID string) ([]*model.Video, error)
}

type videoRepository struct {
	store docstore.Store
}

func NewVideoRepository(store docstore.Store) VideoRepository {
	return &videoRepository{store: store}
}

func (r *videoRepository) Ref(id string) docstore.Ref {
	return docstore.Doc(model.CollectionVideos, id)
}

func (r *videoRepository) FindByID(ctx context.Context, id string) (*model.Video, error) {
	snap, err := r.store.Get(ctx, r.Ref(id))
	if err != nil {
		return nil, err
	}
	return decodeOne[model.Video](snap)
}

// FindLatest returns the newest videos first
func (r *videoRepository) FindLatest(ctx context.Context, limit int) ([]*model.Video, error) {
	q := docstore.From(model.CollectionVideos).
		Order(model.FieldCreatedAt, true).
		Page(0, limit)
	return r.query(ctx, q)
}

// FindAll returns every video, newest first
func (r *videoRepository) FindAll(ctx context.Context) ([]*model.Video, error) {
	return r.query(ctx, docstore.From(model.CollectionVideos).Order(model.FieldCreatedAt, true))
}

func (r *videoRepository) FindByCreator(ctx context.Context, creatorID string) ([]*model.Video, error) {
	q := docstore.From(model.CollectionVideos).
		Where(model.FieldCreatorID, docstore.OpEqual, creatorID).
		Order(model.FieldCreatedAt, true)
	return r.query(ctx, q)
}

func (r *videoRepository) query(ctx context.Context, q docstore.Query) ([]*model.Video, error) {
	snaps, err := r.store.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return decodeAll[model.Video](snaps)
}
