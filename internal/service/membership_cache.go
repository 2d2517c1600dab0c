package service

import (
	"context"
	"sync"
	"time"

	"swipeskills/internal/docstore"
	"swipeskills/internal/logging"
	"swipeskills/internal/model"

	"github.com/pkg/errors"
)

// Membership is one user's liked and saved video ids
type Membership struct {
	Liked map[string]struct{}
	Saved map[string]struct{}
}

func (m Membership) IsLiked(videoID string) bool {
	_, ok := m.Liked[videoID]
	return ok
}

func (m Membership) IsSaved(videoID string) bool {
	_, ok := m.Saved[videoID]
	return ok
}

type membershipEntry struct {
	liked    map[string]struct{}
	saved    map[string]struct{}
	loadedAt time.Time
}

// pendingLoad tracks store reads in flight for one user. seq moves on every
// change so a read that started before it is not cached.
type pendingLoad struct {
	readers int
	seq     uint64
}

const (
	defaultMembershipTTL   = 30 * time.Second
	defaultMembershipLimit = 10000
)

// MembershipCache is a read-through cache of like/save membership. Entries
// load from the user document on first use, follow successful local
// operations, and are replaced wholesale by pushed server snapshots while
// Watch runs. Unwatched entries expire after the TTL so writes from other
// instances show up, and the map holds at most limit entries.
type MembershipCache struct {
	store docstore.Store
	ttl   time.Duration
	limit int
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]*membershipEntry
	watched map[string]int
	pending map[string]*pendingLoad
}

type MembershipOption func(*MembershipCache)

// WithMembershipTTL sets how long an unwatched entry is served before reload
func WithMembershipTTL(ttl time.Duration) MembershipOption {
	return func(c *MembershipCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithMembershipLimit caps the number of cached users
func WithMembershipLimit(n int) MembershipOption {
	return func(c *MembershipCache) {
		if n > 0 {
			c.limit = n
		}
	}
}

func NewMembershipCache(store docstore.Store, opts ...MembershipOption) *MembershipCache {
	c := &MembershipCache{
		store:   store,
		ttl:     defaultMembershipTTL,
		limit:   defaultMembershipLimit,
		now:     time.Now,
		entries: make(map[string]*membershipEntry),
		watched: make(map[string]int),
		pending: make(map[string]*pendingLoad),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a copy of the user's membership, loading it on miss or expiry
func (c *MembershipCache) Get(ctx context.Context, userID string) (Membership, error) {
	c.mu.Lock()
	if entry, ok := c.entries[userID]; ok && c.fresh(userID, entry) {
		m := entry.copy()
		c.mu.Unlock()
		return m, nil
	}
	load := c.pending[userID]
	if load == nil {
		load = &pendingLoad{}
		c.pending[userID] = load
	}
	load.readers++
	seq := load.seq
	c.mu.Unlock()

	snap, err := c.store.Get(ctx, docstore.Doc(model.CollectionUsers, userID))

	c.mu.Lock()
	defer c.mu.Unlock()
	// a change committed while we were reading makes snap stale
	stale := load.seq != seq
	if load.readers--; load.readers == 0 {
		delete(c.pending, userID)
	}
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Membership{Liked: map[string]struct{}{}, Saved: map[string]struct{}{}}, nil
		}
		return Membership{}, classify(err)
	}

	entry := entryFrom(snap)
	entry.loadedAt = c.now()
	if existing, ok := c.entries[userID]; ok && (stale || c.fresh(userID, existing)) {
		// a pushed snapshot or a newer load won
		return existing.copy(), nil
	}
	if !stale {
		c.put(userID, entry)
	}
	return entry.copy(), nil
}

func (c *MembershipCache) fresh(userID string, entry *membershipEntry) bool {
	return c.watched[userID] > 0 || c.now().Sub(entry.loadedAt) < c.ttl
}

// put inserts entry, evicting an expired or else the oldest unwatched
// entry when the cache is full. Callers hold mu.
func (c *MembershipCache) put(userID string, entry *membershipEntry) {
	if _, ok := c.entries[userID]; !ok && len(c.entries) >= c.limit {
		c.evict()
	}
	c.entries[userID] = entry
}

func (c *MembershipCache) evict() {
	var (
		victim string
		oldest time.Time
	)
	for id, e := range c.entries {
		if c.watched[id] > 0 {
			continue
		}
		if !c.fresh(id, e) {
			delete(c.entries, id)
			return
		}
		if victim == "" || e.loadedAt.Before(oldest) {
			victim, oldest = id, e.loadedAt
		}
	}
	if victim != "" {
		delete(c.entries, victim)
	}
}

// changed marks in-flight loads for userID as stale. Callers hold mu.
func (c *MembershipCache) changed(userID string) {
	if load, ok := c.pending[userID]; ok {
		load.seq++
	}
}

// apply records a committed like/save change for a loaded entry
func (c *MembershipCache) apply(userID, field, videoID string, member bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changed(userID)
	entry, ok := c.entries[userID]
	if !ok {
		return
	}
	set := entry.liked
	if field == model.FieldFavorites {
		set = entry.saved
	}
	if member {
		set[videoID] = struct{}{}
	} else {
		delete(set, videoID)
	}
}

// Forget drops the cached entry for userID
func (c *MembershipCache) Forget(userID string) {
	c.mu.Lock()
	c.changed(userID)
	delete(c.entries, userID)
	c.mu.Unlock()
}

// Len reports the number of cached users
func (c *MembershipCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Watch subscribes to the user document and reconciles the entry with every
// pushed snapshot until ctx ends. It returns once the subscription is open.
// The entry is dropped when the last watch for the user ends.
func (c *MembershipCache) Watch(ctx context.Context, userID string) error {
	q := docstore.From(model.CollectionUsers).Where(docstore.FieldID, docstore.OpEqual, userID)
	c.mu.Lock()
	c.watched[userID]++
	c.mu.Unlock()

	sub, err := c.store.Subscribe(ctx, q)
	if err != nil {
		c.unwatch(userID)
		return classify(err)
	}
	log := logging.FromContext(ctx).WithField("user_id", userID)

	go func() {
		defer c.unwatch(userID)
		defer sub.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-sub.C:
				if !ok {
					log.Debug("membership subscription closed")
					return
				}
				c.reconcile(userID, snap)
			}
		}
	}()
	return nil
}

func (c *MembershipCache) unwatch(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watched[userID]--; c.watched[userID] > 0 {
		return
	}
	delete(c.watched, userID)
	delete(c.entries, userID)
}

func (c *MembershipCache) reconcile(userID string, snap docstore.QuerySnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watched[userID] == 0 {
		return
	}
	c.changed(userID)
	for _, doc := range snap.Docs {
		if doc.Ref.ID == userID && doc.Exists {
			entry := entryFrom(doc)
			entry.loadedAt = c.now()
			c.put(userID, entry)
			return
		}
	}
	delete(c.entries, userID)
}

func entryFrom(snap *docstore.Snapshot) *membershipEntry {
	return &membershipEntry{
		liked: toSet(docstore.Strings(snap.Field(model.FieldLikedVideos))),
		saved: toSet(docstore.Strings(snap.Field(model.FieldFavorites))),
	}
}

func (e *membershipEntry) copy() Membership {
	m := Membership{
		Liked: make(map[string]struct{}, len(e.liked)),
		Saved: make(map[string]struct{}, len(e.saved)),
	}
	for k := range e.liked {
		m.Liked[k] = struct{}{}
	}
	for k := range e.saved {
		m.Saved[k] = struct{}{}
	}
	return m
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
