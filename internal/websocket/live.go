package websocket

import (
	"context"
	"strings"
	"sync"

	"swipeskills/internal/docstore"
	"swipeskills/internal/model"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	maxSubscriptionsPerClient = 16
	defaultLiveLimit          = 50
	maxLiveLimit              = 100
)

// liveCollections lists what clients may watch
var liveCollections = map[string]bool{
	model.CollectionVideos:        true,
	model.CollectionUsers:         true,
	model.CollectionComments:      true,
	model.CollectionFollows:       true,
	model.CollectionShares:        true,
	model.CollectionNotifications: true,
}

var liveOps = map[docstore.Op]bool{
	docstore.OpEqual:         true,
	docstore.OpNotEqual:      true,
	docstore.OpArrayContains: true,
	docstore.OpIn:            true,
}

// ClientRequest is a frame sent by the client. Subscribe requests name a
// collection and either a docId or filters.
type ClientRequest struct {
	Type       string            `json:"type"`
	ID         string            `json:"id,omitempty"`
	Collection string            `json:"collection,omitempty"`
	DocID      string            `json:"docId,omitempty"`
	Filters    []docstore.Filter `json:"filters,omitempty"`
	OrderBy    string            `json:"orderBy,omitempty"`
	Descending bool              `json:"descending,omitempty"`
	Limit      int               `json:"limit,omitempty"`
}

type sink interface {
	enqueue(m *Message) bool
}

// liveSub is one open subscription. Once stopped nothing more is forwarded.
type liveSub struct {
	cancel context.CancelFunc

	mu      sync.Mutex
	sub     *docstore.Subscription
	stopped bool
}

// attach records the store subscription. It reports false when Stop already ran.
func (s *liveSub) attach(sub *docstore.Subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.sub = sub
	return true
}

// forward sends m unless the subscription has been stopped
func (s *liveSub) forward(out sink, m *Message) (sent, open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false, false
	}
	return out.enqueue(m), true
}

func (s *liveSub) stop() {
	s.mu.Lock()
	s.stopped = true
	sub := s.sub
	s.mu.Unlock()
	if sub != nil {
		sub.Stop()
	}
	s.cancel()
}

// LiveSubscriptions holds one connection's open document and query
// subscriptions, keyed by the client's subscription id.
type LiveSubscriptions struct {
	store  docstore.Store
	userID string
	log    *logrus.Entry

	mu   sync.Mutex
	subs map[string]*liveSub
}

func NewLiveSubscriptions(store docstore.Store, userID string) *LiveSubscriptions {
	return &LiveSubscriptions{
		store:  store,
		userID: userID,
		subs:   make(map[string]*liveSub),
		log:    logrus.WithFields(logrus.Fields{"component": "ws_live", "user_id": userID}),
	}
}

// BuildQuery turns a subscribe request into a query. Notification queries
// are always narrowed to the connected user, and user queries may not filter
// or order on another user's private fields.
func (l *LiveSubscriptions) BuildQuery(req ClientRequest) (docstore.Query, error) {
	if !liveCollections[req.Collection] {
		return docstore.Query{}, errors.Errorf("collection %q cannot be watched", req.Collection)
	}
	q := docstore.From(req.Collection)
	if req.DocID != "" {
		q = q.Where(docstore.FieldID, docstore.OpEqual, req.DocID)
	}
	for _, f := range req.Filters {
		if f.Path == "" || !liveOps[f.Op] {
			return docstore.Query{}, errors.Errorf("unsupported filter %q %q", f.Path, f.Op)
		}
		if req.Collection == model.CollectionUsers && privateUserPath(f.Path) && !l.ownDocOnly(req) {
			return docstore.Query{}, errors.Errorf("filter on %q is not allowed", f.Path)
		}
		q = q.Where(f.Path, f.Op, f.Value)
	}
	if req.Collection == model.CollectionUsers && privateUserPath(req.OrderBy) && !l.ownDocOnly(req) {
		return docstore.Query{}, errors.Errorf("order by %q is not allowed", req.OrderBy)
	}
	if req.Collection == model.CollectionNotifications {
		q = q.Where(model.FieldUserID, docstore.OpEqual, l.userID)
	}
	if req.OrderBy != "" {
		q = q.Order(req.OrderBy, req.Descending)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLiveLimit
	}
	if limit > maxLiveLimit {
		limit = maxLiveLimit
	}
	return q.Page(0, limit), nil
}

// Start opens a subscription and streams its snapshots to out until Stop,
// StopAll or ctx ends.
func (l *LiveSubscriptions) Start(ctx context.Context, out sink, req ClientRequest) error {
	if req.ID == "" {
		return errors.New("subscription id is required")
	}
	q, err := l.BuildQuery(req)
	if err != nil {
		return err
	}

	l.mu.Lock()
	if _, ok := l.subs[req.ID]; ok {
		l.mu.Unlock()
		return errors.Errorf("subscription %q already exists", req.ID)
	}
	if len(l.subs) >= maxSubscriptionsPerClient {
		l.mu.Unlock()
		return errors.New("too many subscriptions")
	}
	subCtx, cancel := context.WithCancel(ctx)
	ls := &liveSub{cancel: cancel}
	l.subs[req.ID] = ls
	l.mu.Unlock()

	sub, err := l.store.Subscribe(subCtx, q)
	if err != nil {
		l.Stop(req.ID)
		return errors.Wrap(err, "subscribe")
	}
	if !ls.attach(sub) {
		sub.Stop()
		return nil
	}

	go func() {
		defer sub.Stop()
		for snap := range sub.C {
			sent, open := ls.forward(out, l.snapshotMessage(req.ID, q.Collection, snap))
			if !open {
				return
			}
			if !sent {
				l.log.WithField("subscription", req.ID).Debug("snapshot dropped")
			}
		}
	}()
	l.log.WithFields(logrus.Fields{"subscription": req.ID, "collection": q.Collection}).Debug("live subscription opened")
	return nil
}

// Stop closes one subscription. No snapshot for it is sent after Stop returns.
func (l *LiveSubscriptions) Stop(id string) {
	l.mu.Lock()
	ls, ok := l.subs[id]
	delete(l.subs, id)
	l.mu.Unlock()
	if ok {
		ls.stop()
	}
}

// StopAll closes every subscription of the connection
func (l *LiveSubscriptions) StopAll() {
	l.mu.Lock()
	subs := l.subs
	l.subs = make(map[string]*liveSub)
	l.mu.Unlock()
	for _, ls := range subs {
		ls.stop()
	}
}

// Count returns the number of open subscriptions
func (l *LiveSubscriptions) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

// ownDocOnly reports whether req is pinned to the connected user's profile
func (l *LiveSubscriptions) ownDocOnly(req ClientRequest) bool {
	return req.DocID == l.userID
}

func privateUserPath(path string) bool {
	for _, p := range model.PrivateUserFields {
		if path == p || strings.HasPrefix(path, p+".") {
			return true
		}
	}
	return false
}

// visibleData strips private profile fields from other users' documents
func (l *LiveSubscriptions) visibleData(collection string, d *docstore.Snapshot) docstore.Data {
	if collection != model.CollectionUsers || d.Ref.ID == l.userID {
		return d.Data
	}
	data := make(docstore.Data, len(d.Data))
	for k, v := range d.Data {
		data[k] = v
	}
	for _, p := range model.PrivateUserFields {
		delete(data, p)
	}
	return data
}

func (l *LiveSubscriptions) snapshotMessage(id, collection string, snap docstore.QuerySnapshot) *Message {
	docs := make([]map[string]interface{}, 0, len(snap.Docs))
	for _, d := range snap.Docs {
		docs = append(docs, map[string]interface{}{
			"id":         d.Ref.ID,
			"data":       l.visibleData(collection, d),
			"updateTime": d.UpdateTime,
		})
	}
	return &Message{
		Type: TypeSnapshot,
		ID:   id,
		Payload: map[string]interface{}{
			"collection": collection,
			"readTime":   snap.ReadTime,
			"docs":       docs,
		},
	}
}
