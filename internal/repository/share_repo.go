package repository

import (
	"context"

	"swipeskills/internal/docstore"
	"swipeskills/internal/model"
)

type ShareRepository interface {
	Ref(id string) docstore.Ref
	FindByVideoID(ctx context.Context, videoID string) ([]*model.Share, error)
	CountByVideoID(ctx context.Context, videoID string) (int64, error)
}

type shareRepository struct {
	store docstore.Store
}

func NewShareRepository(store docstore.Store) ShareRepository {
	return &shareRepository{store: store}
}

func (r *shareRepository) Ref(id string) docstore.Ref {
	return docstore.Doc(model.CollectionShares, id)
}

func (r *shareRepository) FindByVideoID(ctx context.Context, videoID string) ([]*model.Share, error) {
	snaps, err := r.store.Query(ctx, ByVideoQuery(model.CollectionShares, videoID).Order(model.FieldCreatedAt, true))
	if err != nil {
		return nil, err
	}
	return decodeAll[model.Share](snaps)
}

func (r *shareRepository) CountByVideoID(ctx context.Context, videoID string) (int64, error) {
	snaps, err := r.store.Query(ctx, ByVideoQuery(model.CollectionShares, videoID))
	if err != nil {
		return 0, err
	}
	return int64(len(snaps)), nil
}
