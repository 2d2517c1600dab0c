package docstore

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// QuerySnapshot is one push on a subscription.
type QuerySnapshot struct {
	Docs     []*Snapshot `json:"docs"`
	ReadTime time.Time   `json:"readTime"`
}

// Subscription streams query results until Stop is called or its context ends.
// Only the latest undelivered snapshot is kept for slow readers.
type Subscription struct {
	C <-chan QuerySnapshot

	query   Query
	ch      chan QuerySnapshot
	mu      sync.Mutex
	stopped bool
	stop    func()
}

// Stop ends the subscription and closes C.
func (s *Subscription) Stop() {
	s.stop()
}

// Query returns the subscribed query.
func (s *Subscription) Query() Query {
	return s.query
}

func (s *Subscription) deliver(snap QuerySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	select {
	case s.ch <- snap:
		return
	default:
	}
	// replace the stale snapshot
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- snap:
	default:
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.ch)
}

// QueryFunc runs a query against the current state of a backend.
type QueryFunc func(ctx context.Context, q Query) ([]*Snapshot, error)

// Watcher fans change notifications out to live subscriptions. Backends call
// Notify with the collections a commit touched; a single dispatcher re-runs
// the affected queries so each subscriber sees snapshots in commit order.
type Watcher struct {
	run QueryFunc
	log *logrus.Entry

	// dispatch serializes pushes so the initial snapshot never overtakes a refresh
	dispatch sync.Mutex

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	dirty  map[string]struct{}
	kick   chan struct{}
	done   chan struct{}
	closed bool
}

func NewWatcher(run QueryFunc, log *logrus.Entry) *Watcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	w := &Watcher{
		run:   run,
		log:   log,
		subs:  make(map[*Subscription]struct{}),
		dirty: make(map[string]struct{}),
		kick:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go w.loop()
	return w
}

// Subscribe registers q and pushes its current result.
func (w *Watcher) Subscribe(ctx context.Context, q Query) (*Subscription, error) {
	ch := make(chan QuerySnapshot, 1)
	sub := &Subscription{C: ch, ch: ch, query: q}

	subCtx, cancel := context.WithCancel(ctx)
	sub.stop = func() {
		cancel()
		w.remove(sub)
	}

	w.dispatch.Lock()
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.dispatch.Unlock()
		cancel()
		return nil, ErrClosed
	}
	w.subs[sub] = struct{}{}
	w.mu.Unlock()

	docs, err := w.run(ctx, q)
	if err != nil {
		w.dispatch.Unlock()
		sub.Stop()
		return nil, err
	}
	sub.deliver(QuerySnapshot{Docs: docs, ReadTime: time.Now().UTC()})
	w.dispatch.Unlock()

	go func() {
		<-subCtx.Done()
		w.remove(sub)
	}()
	return sub, nil
}

// Notify marks collections as changed.
func (w *Watcher) Notify(collections ...string) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	for _, c := range collections {
		w.dirty[c] = struct{}{}
	}
	w.mu.Unlock()
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Close stops dispatching and closes every subscription.
func (w *Watcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	subs := make([]*Subscription, 0, len(w.subs))
	for s := range w.subs {
		subs = append(subs, s)
	}
	w.subs = map[*Subscription]struct{}{}
	w.mu.Unlock()

	close(w.done)
	for _, s := range subs {
		s.close()
	}
}

func (w *Watcher) remove(sub *Subscription) {
	w.mu.Lock()
	delete(w.subs, sub)
	w.mu.Unlock()
	sub.close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case <-w.kick:
		}

		w.mu.Lock()
		dirty := w.dirty
		w.dirty = make(map[string]struct{})
		var targets []*Subscription
		for s := range w.subs {
			if _, ok := dirty[s.query.Collection]; ok {
				targets = append(targets, s)
			}
		}
		w.mu.Unlock()

		w.dispatch.Lock()
		for _, s := range targets {
			docs, err := w.run(context.Background(), s.query)
			if err != nil {
				w.log.WithError(err).WithField("collection", s.query.Collection).Warn("refresh subscription")
				continue
			}
			s.deliver(QuerySnapshot{Docs: docs, ReadTime: time.Now().UTC()})
		}
		w.dispatch.Unlock()
	}
}
