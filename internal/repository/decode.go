package repository

import (
	"github.com/pkg/errors"

	"swipeskills/internal/docstore"
)

// decodeAll decodes every existing snapshot into a fresh T
func decodeAll[T any](snaps []*docstore.Snapshot) ([]*T, error) {
	out := make([]*T, 0, len(snaps))
	for _, s := range snaps {
		if !s.Exists {
			continue
		}
		v := new(T)
		if err := s.DataTo(v); err != nil {
			return nil, errors.Wrapf(err, "decode %s", s.Ref)
		}
		out = append(out, v)
	}
	return out, nil
}

func decodeOne[T any](snap *docstore.Snapshot) (*T, error) {
	v := new(T)
	if err := snap.DataTo(v); err != nil {
		return nil, errors.Wrapf(err, "decode %s", snap.Ref)
	}
	return v, nil
}

// IsNotFound reports whether err means the document is missing
func IsNotFound(err error) bool {
	return errors.Is(err, docstore.ErrNotFound)
}
