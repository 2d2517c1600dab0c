// Package memory is an in-process docstore used for local development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"swipeskills/internal/docstore"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// OpKind names the store operation a fault hook is asked about.
type OpKind string

const (
	OpRead   OpKind = "read"
	OpCommit OpKind = "commit"
)

// Op describes an operation about to run. For commits Refs lists every
// document written.
type Op struct {
	Kind OpKind
	Refs []docstore.Ref
}

// Touches reports whether the op involves the collection.
func (o Op) Touches(collection string) bool {
	for _, r := range o.Refs {
		if r.Collection == collection {
			return true
		}
	}
	return false
}

// FaultFunc returns a non-nil error to make an operation fail before it runs.
type FaultFunc func(op Op) error

type document struct {
	data    docstore.Data
	version int64
	updated time.Time
}

// Store keeps documents in maps guarded by a single lock. Transactions are
// optimistic: reads record versions, commit validates them and retries.
type Store struct {
	mu      sync.RWMutex
	docs    map[string]map[string]*document
	seq     int64
	closed  bool
	watcher *docstore.Watcher

	faultMu sync.Mutex
	fault   FaultFunc

	maxAttempts int
	now         func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithMaxAttempts bounds transaction retries.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		docs:        make(map[string]map[string]*document),
		maxAttempts: docstore.DefaultMaxAttempts,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.watcher = docstore.NewWatcher(s.Query, logrus.WithField("docstore", "memory"))
	return s
}

// SetFault installs a hook consulted before every read and commit. Pass nil to clear.
func (s *Store) SetFault(f FaultFunc) {
	s.faultMu.Lock()
	s.fault = f
	s.faultMu.Unlock()
}

// FailCommitsTouching makes every commit that writes to one of the
// collections fail with err until cleared.
func (s *Store) FailCommitsTouching(err error, collections ...string) {
	s.SetFault(func(op Op) error {
		if op.Kind != OpCommit {
			return nil
		}
		for _, c := range collections {
			if op.Touches(c) {
				return err
			}
		}
		return nil
	})
}

func (s *Store) checkFault(op Op) error {
	s.faultMu.Lock()
	f := s.fault
	s.faultMu.Unlock()
	if f == nil {
		return nil
	}
	return f(op)
}

func (s *Store) snapshotLocked(ref docstore.Ref) *docstore.Snapshot {
	snap := &docstore.Snapshot{Ref: ref}
	if d, ok := s.docs[ref.Collection][ref.ID]; ok {
		snap.Exists = true
		snap.Data = docstore.Copy(d.data)
		snap.Version = d.version
		snap.UpdateTime = d.updated
	}
	return snap
}

func (s *Store) Get(ctx context.Context, ref docstore.Ref) (*docstore.Snapshot, error) {
	if err := s.checkFault(Op{Kind: OpRead, Refs: []docstore.Ref{ref}}); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, docstore.ErrClosed
	}
	snap := s.snapshotLocked(ref)
	if !snap.Exists {
		return snap, errors.Wrap(docstore.ErrNotFound, ref.String())
	}
	return snap, nil
}

func (s *Store) GetAll(ctx context.Context, refs ...docstore.Ref) ([]*docstore.Snapshot, error) {
	if err := s.checkFault(Op{Kind: OpRead, Refs: refs}); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, docstore.ErrClosed
	}
	out := make([]*docstore.Snapshot, len(refs))
	for i, ref := range refs {
		out[i] = s.snapshotLocked(ref)
	}
	return out, nil
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]*docstore.Snapshot, error) {
	if err := s.checkFault(Op{Kind: OpRead}); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, docstore.ErrClosed
	}
	return s.queryLocked(q), nil
}

func (s *Store) queryLocked(q docstore.Query) []*docstore.Snapshot {
	coll := s.docs[q.Collection]
	ids := make([]string, 0, len(coll))
	for id := range coll {
		ids = append(ids, id)
	}
	// map order is random; give unordered queries a stable order
	sort.Strings(ids)
	all := make([]*docstore.Snapshot, 0, len(ids))
	for _, id := range ids {
		all = append(all, s.snapshotLocked(docstore.Doc(q.Collection, id)))
	}
	return q.Apply(all)
}

func (s *Store) Create(ctx context.Context, ref docstore.Ref, data docstore.Data) error {
	return s.commit(nil, nil, []docstore.Write{docstore.WriteCreate(ref, data)})
}

func (s *Store) Set(ctx context.Context, ref docstore.Ref, data docstore.Data) error {
	return s.commit(nil, nil, []docstore.Write{docstore.WriteSet(ref, data)})
}

func (s *Store) Update(ctx context.Context, ref docstore.Ref, updates ...docstore.Update) error {
	return s.commit(nil, nil, []docstore.Write{docstore.WriteUpdate(ref, updates...)})
}

func (s *Store) Delete(ctx context.Context, ref docstore.Ref) error {
	return s.commit(nil, nil, []docstore.Write{docstore.WriteDelete(ref)})
}

func (s *Store) Batch(ctx context.Context, writes ...docstore.Write) error {
	if len(writes) == 0 {
		return nil
	}
	return s.commit(nil, nil, writes)
}

func (s *Store) Subscribe(ctx context.Context, q docstore.Query) (*docstore.Subscription, error) {
	return s.watcher.Subscribe(ctx, q)
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.watcher.Close()
	return nil
}

// RunTransaction runs fn until its reads are still current at commit time,
// up to the configured number of attempts.
func (s *Store) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := &transaction{store: s, reads: make(map[docstore.Ref]int64)}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		err := s.commit(tx.reads, tx.queries, tx.writes)
		if errors.Is(err, errConflict) {
			continue
		}
		return err
	}
	return docstore.ErrAborted
}

var errConflict = errors.New("memory: read set changed")

type queryRead struct {
	query    docstore.Query
	versions map[string]int64
}

func (s *Store) commit(reads map[docstore.Ref]int64, queries []queryRead, writes []docstore.Write) error {
	refs := make([]docstore.Ref, len(writes))
	for i, w := range writes {
		refs[i] = w.Ref
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return docstore.ErrClosed
	}

	for ref, version := range reads {
		if s.versionLocked(ref) != version {
			s.mu.Unlock()
			return errConflict
		}
	}
	for _, qr := range queries {
		current := s.queryLocked(qr.query)
		if len(current) != len(qr.versions) {
			s.mu.Unlock()
			return errConflict
		}
		for _, snap := range current {
			if v, ok := qr.versions[snap.Ref.ID]; !ok || v != snap.Version {
				s.mu.Unlock()
				return errConflict
			}
		}
	}

	if len(writes) == 0 {
		s.mu.Unlock()
		return nil
	}

	if err := s.checkFault(Op{Kind: OpCommit, Refs: refs}); err != nil {
		s.mu.Unlock()
		return err
	}

	// stage every write first so a failing write leaves nothing applied
	type staged struct {
		data   docstore.Data
		exists bool
	}
	stage := make(map[docstore.Ref]*staged)
	order := make([]docstore.Ref, 0, len(writes))
	for _, w := range writes {
		st, ok := stage[w.Ref]
		if !ok {
			st = &staged{}
			if d, found := s.docs[w.Ref.Collection][w.Ref.ID]; found {
				st.data, st.exists = d.data, true
			}
			stage[w.Ref] = st
			order = append(order, w.Ref)
		}
		next, err := docstore.ApplyWrite(st.data, st.exists, w)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		st.data, st.exists = next, next != nil
	}

	now := s.now().UTC()
	s.seq++
	for _, ref := range order {
		st := stage[ref]
		coll := s.docs[ref.Collection]
		if !st.exists {
			delete(coll, ref.ID)
			continue
		}
		if coll == nil {
			coll = make(map[string]*document)
			s.docs[ref.Collection] = coll
		}
		coll[ref.ID] = &document{data: st.data, version: s.seq, updated: now}
	}
	s.mu.Unlock()

	s.watcher.Notify(docstore.Collections(writes)...)
	return nil
}

func (s *Store) versionLocked(ref docstore.Ref) int64 {
	if d, ok := s.docs[ref.Collection][ref.ID]; ok {
		return d.version
	}
	return 0
}

type transaction struct {
	store   *Store
	reads   map[docstore.Ref]int64
	queries []queryRead
	writes  []docstore.Write
}

func (t *transaction) Get(ref docstore.Ref) (*docstore.Snapshot, error) {
	if len(t.writes) > 0 {
		return nil, docstore.ErrReadAfterWrite
	}
	if err := t.store.checkFault(Op{Kind: OpRead, Refs: []docstore.Ref{ref}}); err != nil {
		return nil, err
	}
	t.store.mu.RLock()
	snap := t.store.snapshotLocked(ref)
	t.store.mu.RUnlock()
	t.reads[ref] = snap.Version
	if !snap.Exists {
		return snap, errors.Wrap(docstore.ErrNotFound, ref.String())
	}
	return snap, nil
}

func (t *transaction) Query(q docstore.Query) ([]*docstore.Snapshot, error) {
	if len(t.writes) > 0 {
		return nil, docstore.ErrReadAfterWrite
	}
	if err := t.store.checkFault(Op{Kind: OpRead}); err != nil {
		return nil, err
	}
	t.store.mu.RLock()
	docs := t.store.queryLocked(q)
	t.store.mu.RUnlock()
	qr := queryRead{query: q, versions: make(map[string]int64, len(docs))}
	for _, d := range docs {
		qr.versions[d.Ref.ID] = d.Version
	}
	t.queries = append(t.queries, qr)
	return docs, nil
}

func (t *transaction) Create(ref docstore.Ref, data docstore.Data) error {
	t.writes = append(t.writes, docstore.WriteCreate(ref, data))
	return nil
}

func (t *transaction) Set(ref docstore.Ref, data docstore.Data) error {
	t.writes = append(t.writes, docstore.WriteSet(ref, data))
	return nil
}

func (t *transaction) Update(ref docstore.Ref, updates ...docstore.Update) error {
	t.writes = append(t.writes, docstore.WriteUpdate(ref, updates...))
	return nil
}

func (t *transaction) Delete(ref docstore.Ref) error {
	t.writes = append(t.writes, docstore.WriteDelete(ref))
	return nil
}
