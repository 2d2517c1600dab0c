package repository

import (
	"context"

	"swipeskills/internal/docstore"
	"swipeskills/internal/model"
)

type CommentRepository interface {
	Ref(id string) docstore.Ref
	FindByID(ctx context.Context, id string) (*model.Comment, error)
	FindByVideoID(ctx context.Context, videoID string) ([]*model.Comment, error)
	FindReplies(ctx context.Context, parentID string) ([]*model.Comment, error)
}

type commentRepository struct {
	store docstore.Store
}

func NewCommentRepository(store docstore.Store) CommentRepository {
	return &commentRepository{store: store}
}

func (r *commentRepository) Ref(id string) docstore.Ref {
	return docstore.Doc(model.CollectionComments, id)
}

func (r *commentRepository) FindByID(ctx context.Context, id string) (*model.Comment, error) {
	snap, err := r.store.Get(ctx, r.Ref(id))
	if err != nil {
		return nil, err
	}
	return decodeOne[model.Comment](snap)
}

// FindByVideoID returns top-level comments and replies of a video, oldest first
func (r *commentRepository) FindByVideoID(ctx context.Context, videoID string) ([]*model.Comment, error) {
	return r.query(ctx, ByVideoQuery(model.CollectionComments, videoID).Order(model.FieldCreatedAt, false))
}

// FindReplies returns the flat replies of a top-level comment, oldest first
func (r *commentRepository) FindReplies(ctx context.Context, parentID string) ([]*model.Comment, error) {
	return r.query(ctx, RepliesQuery(parentID).Order(model.FieldCreatedAt, false))
}

func (r *commentRepository) query(ctx context.Context, q docstore.Query) ([]*model.Comment, error) {
	snaps, err := r.store.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return decodeAll[model.Comment](snaps)
}

// RepliesQuery selects the flat replies of parentID
func RepliesQuery(parentID string) docstore.Query {
	return docstore.From(model.CollectionComments).
		Where(model.FieldReplyToID, docstore.OpEqual, parentID)
}

// ByVideoQuery selects documents of collection that belong to videoID
func ByVideoQuery(collection, videoID string) docstore.Query {
	return docstore.From(collection).
		Where(model.FieldVideoID, docstore.OpEqual, videoID)
}
