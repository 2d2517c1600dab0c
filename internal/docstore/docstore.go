// Package docstore defines the document-store contract the interaction layer is
// written against: keyed documents grouped in collections, atomic batches,
// optimistic read-modify-write transactions, field transforms and live queries.
package docstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrAlreadyExists is returned by Create when the document is present.
	ErrAlreadyExists = errors.New("docstore: document already exists")
	// ErrAborted is returned when a transaction keeps conflicting after all attempts.
	ErrAborted = errors.New("docstore: transaction aborted after conflicting writes")
	// ErrReadAfterWrite is returned when a transaction reads after it has written.
	ErrReadAfterWrite = errors.New("docstore: transaction reads must precede writes")
	// ErrClosed is returned by a store that has been closed.
	ErrClosed = errors.New("docstore: store closed")
)

// DefaultMaxAttempts bounds transaction retries on conflict.
const DefaultMaxAttempts = 5

// Ref addresses one document.
type Ref struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// Doc builds a Ref.
func Doc(collection, id string) Ref {
	return Ref{Collection: collection, ID: id}
}

func (r Ref) String() string {
	return r.Collection + "/" + r.ID
}

// Data holds document fields. Nested maps are addressed with dotted paths.
type Data map[string]any

// Snapshot is a point-in-time read of a document.
type Snapshot struct {
	Ref        Ref       `json:"ref"`
	Data       Data      `json:"data"`
	Exists     bool      `json:"exists"`
	Version    int64     `json:"version"`
	UpdateTime time.Time `json:"updateTime"`
}

// DataTo decodes the snapshot fields into v.
func (s *Snapshot) DataTo(v any) error {
	if s == nil || !s.Exists {
		return ErrNotFound
	}
	return DataTo(s.Data, v)
}

// Field returns the value at a dotted path, or nil.
func (s *Snapshot) Field(path string) any {
	if s == nil {
		return nil
	}
	return GetPath(s.Data, path)
}

// WriteKind tells a Write what to do with its document.
type WriteKind int

const (
	KindCreate WriteKind = iota
	KindSet
	KindUpdate
	KindDelete
)

func (k WriteKind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindSet:
		return "set"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	}
	return "unknown"
}

// Write is one mutation inside a batch or transaction.
type Write struct {
	Kind    WriteKind
	Ref     Ref
	Data    Data
	Updates []Update
}

func WriteCreate(ref Ref, data Data) Write {
	return Write{Kind: KindCreate, Ref: ref, Data: data}
}

func WriteSet(ref Ref, data Data) Write {
	return Write{Kind: KindSet, Ref: ref, Data: data}
}

func WriteUpdate(ref Ref, updates ...Update) Write {
	return Write{Kind: KindUpdate, Ref: ref, Updates: updates}
}

func WriteDelete(ref Ref) Write {
	return Write{Kind: KindDelete, Ref: ref}
}

// Tx is the view of the store inside RunTransaction. All reads must happen
// before the first write; writes are buffered and committed together. Get on
// a missing document returns a snapshot with Exists false together with an
// error wrapping ErrNotFound, and the absence is part of the read set.
type Tx interface {
	Get(ref Ref) (*Snapshot, error)
	Query(q Query) ([]*Snapshot, error)
	Create(ref Ref, data Data) error
	Set(ref Ref, data Data) error
	Update(ref Ref, updates ...Update) error
	Delete(ref Ref) error
}

// TxFunc is run, possibly several times, by RunTransaction.
type TxFunc func(ctx context.Context, tx Tx) error

// Store is implemented by every backend.
type Store interface {
	Get(ctx context.Context, ref Ref) (*Snapshot, error)
	GetAll(ctx context.Context, refs ...Ref) ([]*Snapshot, error)
	Create(ctx context.Context, ref Ref, data Data) error
	Set(ctx context.Context, ref Ref, data Data) error
	Update(ctx context.Context, ref Ref, updates ...Update) error
	Delete(ctx context.Context, ref Ref) error
	Batch(ctx context.Context, writes ...Write) error
	RunTransaction(ctx context.Context, fn TxFunc) error
	Query(ctx context.Context, q Query) ([]*Snapshot, error)
	Subscribe(ctx context.Context, q Query) (*Subscription, error)
	Close() error
}

// Collections returns the distinct collections touched by writes.
func Collections(writes []Write) []string {
	seen := make(map[string]struct{}, len(writes))
	out := make([]string, 0, len(writes))
	for _, w := range writes {
		if _, ok := seen[w.Ref.Collection]; ok {
			continue
		}
		seen[w.Ref.Collection] = struct{}{}
		out = append(out, w.Ref.Collection)
	}
	return out
}

// ApplyWrite computes the new state of a document after w. exists reports
// whether current held a document before the write. A nil result with a nil
// error means the document is deleted.
func ApplyWrite(current Data, exists bool, w Write) (Data, error) {
	switch w.Kind {
	case KindCreate:
		if exists {
			return nil, errors.Wrap(ErrAlreadyExists, w.Ref.String())
		}
		return newData(w.Data), nil
	case KindSet:
		return newData(w.Data), nil
	case KindUpdate:
		if !exists {
			return nil, errors.Wrap(ErrNotFound, w.Ref.String())
		}
		return ApplyUpdates(current, w.Updates)
	case KindDelete:
		return nil, nil
	}
	return nil, errors.Errorf("docstore: unknown write kind %d", w.Kind)
}

func newData(d Data) Data {
	if d == nil {
		return Data{}
	}
	return NormalizeData(d)
}
