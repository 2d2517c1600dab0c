// Package mongo stores each docstore collection in a MongoDB collection of the
// same name. Fields live under "data"; "_v" carries the document version used
// to validate transactional reads.
package mongo

import (
	"context"
	"time"

	"swipeskills/internal/docstore"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	fieldData    = "data"
	fieldVersion = "_v"
	fieldUpdated = "_updated"
	fieldTxn     = "_txn"
)

var errConflict = errors.New("mongo: read set changed")

// Store implements docstore.Store on a MongoDB database. Transactions need a
// replica set; the change stream that feeds remote commits into live
// subscriptions does too.
type Store struct {
	client      *mongo.Client
	db          *mongo.Database
	watcher     *docstore.Watcher
	log         *logrus.Entry
	maxAttempts int
	cancel      context.CancelFunc
}

// Connect dials uri and opens database name.
func Connect(ctx context.Context, uri, name string) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "connect to mongodb")
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, "ping mongodb")
	}
	return New(client, name), nil
}

func New(client *mongo.Client, name string) *Store {
	s := &Store{
		client:      client,
		db:          client.Database(name),
		log:         logrus.WithField("docstore", "mongo"),
		maxAttempts: docstore.DefaultMaxAttempts,
	}
	s.watcher = docstore.NewWatcher(s.Query, s.log)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.follow(ctx)
	return s
}

// follow tails the database change stream so commits from other instances
// refresh local subscriptions.
func (s *Store) follow(ctx context.Context) {
	stream, err := s.db.Watch(ctx, mongo.Pipeline{})
	if err != nil {
		s.log.WithError(err).Warn("change stream unavailable; live queries only see local commits")
		return
	}
	defer stream.Close(context.Background())

	for stream.Next(ctx) {
		var event struct {
			NS struct {
				Coll string `bson:"coll"`
			} `bson:"ns"`
		}
		if err := stream.Decode(&event); err != nil {
			continue
		}
		if event.NS.Coll != "" {
			s.watcher.Notify(event.NS.Coll)
		}
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		s.log.WithError(err).Warn("change stream stopped")
	}
}

func fromBSON(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = fromBSON(item)
		}
		return out
	case map[string]any:
		return fromBSON(bson.M(t))
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = fromBSON(e.Value)
		}
		return out
	case bson.A:
		return fromBSON([]any(t))
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = fromBSON(item)
		}
		return out
	case primitive.DateTime:
		return t.Time()
	default:
		return t
	}
}

func toSnapshot(collection string, raw bson.M) *docstore.Snapshot {
	id, _ := raw["_id"].(string)
	snap := &docstore.Snapshot{
		Ref:     docstore.Doc(collection, id),
		Exists:  true,
		Version: docstore.Int(fromBSON(raw[fieldVersion])),
	}
	if data, ok := fromBSON(raw[fieldData]).(map[string]any); ok {
		snap.Data = docstore.NormalizeData(data)
	} else {
		snap.Data = docstore.Data{}
	}
	if updated, ok := raw[fieldUpdated].(primitive.DateTime); ok {
		snap.UpdateTime = updated.Time()
	}
	return snap
}

func (s *Store) get(ctx context.Context, ref docstore.Ref) (*docstore.Snapshot, error) {
	var raw bson.M
	err := s.db.Collection(ref.Collection).FindOne(ctx, bson.M{"_id": ref.ID}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return &docstore.Snapshot{Ref: ref}, errors.Wrap(docstore.ErrNotFound, ref.String())
	}
	if err != nil {
		return nil, err
	}
	return toSnapshot(ref.Collection, raw), nil
}

func filterFor(q docstore.Query) bson.M {
	filter := bson.M{}
	for _, f := range q.Filters {
		key := fieldData + "." + f.Path
		if f.Path == docstore.FieldID {
			key = "_id"
		}
		switch f.Op {
		case docstore.OpEqual, docstore.OpArrayContains:
			filter[key] = f.Value
		case docstore.OpNotEqual:
			filter[key] = bson.M{"$ne": f.Value}
		case docstore.OpIn:
			filter[key] = bson.M{"$in": docstore.Normalize(f.Value)}
		}
	}
	return filter
}

func (s *Store) query(ctx context.Context, q docstore.Query) ([]*docstore.Snapshot, error) {
	cur, err := s.db.Collection(q.Collection).Find(ctx, filterFor(q), options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var raws []bson.M
	if err := cur.All(ctx, &raws); err != nil {
		return nil, err
	}
	docs := make([]*docstore.Snapshot, 0, len(raws))
	for _, raw := range raws {
		docs = append(docs, toSnapshot(q.Collection, raw))
	}
	// a field filter may be repeated per path; Apply enforces the exact semantics
	return q.Apply(docs), nil
}

func (s *Store) Get(ctx context.Context, ref docstore.Ref) (*docstore.Snapshot, error) {
	return s.get(ctx, ref)
}

func (s *Store) GetAll(ctx context.Context, refs ...docstore.Ref) ([]*docstore.Snapshot, error) {
	out := make([]*docstore.Snapshot, len(refs))
	for i, ref := range refs {
		snap, err := s.get(ctx, ref)
		if err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return nil, err
		}
		out[i] = snap
	}
	return out, nil
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]*docstore.Snapshot, error) {
	return s.query(ctx, q)
}

func (s *Store) Create(ctx context.Context, ref docstore.Ref, data docstore.Data) error {
	return s.Batch(ctx, docstore.WriteCreate(ref, data))
}

func (s *Store) Set(ctx context.Context, ref docstore.Ref, data docstore.Data) error {
	return s.Batch(ctx, docstore.WriteSet(ref, data))
}

func (s *Store) Update(ctx context.Context, ref docstore.Ref, updates ...docstore.Update) error {
	return s.Batch(ctx, docstore.WriteUpdate(ref, updates...))
}

func (s *Store) Delete(ctx context.Context, ref docstore.Ref) error {
	return s.Batch(ctx, docstore.WriteDelete(ref))
}

func (s *Store) Batch(ctx context.Context, writes ...docstore.Write) error {
	if len(writes) == 0 {
		return nil
	}
	return s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		t := tx.(*transaction)
		t.writes = append(t.writes, writes...)
		return nil
	})
}

func (s *Store) Subscribe(ctx context.Context, q docstore.Query) (*docstore.Subscription, error) {
	return s.watcher.Subscribe(ctx, q)
}

func (s *Store) Close() error {
	s.cancel()
	s.watcher.Close()
	return s.client.Disconnect(context.Background())
}

// RunTransaction runs fn in a MongoDB session transaction. The driver retries
// transient transaction errors itself; version mismatches on the read set are
// retried here.
func (s *Store) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	session, err := s.client.StartSession()
	if err != nil {
		return errors.Wrap(err, "start mongodb session")
	}
	defer session.EndSession(ctx)

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		var writes []docstore.Write
		_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
			t := &transaction{store: s, ctx: sc, reads: make(map[docstore.Ref]*docstore.Snapshot)}
			if err := fn(sc, t); err != nil {
				return nil, err
			}
			writes = t.writes
			return nil, t.commit()
		})
		if errors.Is(err, errConflict) {
			continue
		}
		if err != nil {
			return err
		}
		if len(writes) > 0 {
			s.watcher.Notify(docstore.Collections(writes)...)
		}
		return nil
	}
	return docstore.ErrAborted
}

type transaction struct {
	store  *Store
	ctx    mongo.SessionContext
	reads  map[docstore.Ref]*docstore.Snapshot
	writes []docstore.Write
}

func (t *transaction) Get(ref docstore.Ref) (*docstore.Snapshot, error) {
	if len(t.writes) > 0 {
		return nil, docstore.ErrReadAfterWrite
	}
	snap, err := t.store.get(t.ctx, ref)
	if snap != nil {
		t.reads[ref] = snap
	}
	return snap, err
}

func (t *transaction) Query(q docstore.Query) ([]*docstore.Snapshot, error) {
	if len(t.writes) > 0 {
		return nil, docstore.ErrReadAfterWrite
	}
	docs, err := t.store.query(t.ctx, q)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		t.reads[d.Ref] = d
	}
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

func (t *transaction) commit() error {
	type staged struct {
		base   *docstore.Snapshot
		data   docstore.Data
		exists bool
	}
	stage := make(map[docstore.Ref]*staged)
	order := make([]docstore.Ref, 0, len(t.writes))
	for _, w := range t.writes {
		st, ok := stage[w.Ref]
		if !ok {
			base, found := t.reads[w.Ref]
			if !found {
				var err error
				base, err = t.store.get(t.ctx, w.Ref)
				if err != nil && !errors.Is(err, docstore.ErrNotFound) {
					return err
				}
			}
			st = &staged{base: base, data: base.Data, exists: base.Exists}
			stage[w.Ref] = st
			order = append(order, w.Ref)
		}
		next, err := docstore.ApplyWrite(st.data, st.exists, w)
		if err != nil {
			return err
		}
		st.data, st.exists = next, next != nil
	}

	// claim every document that was only read so a concurrent writer conflicts
	txnID := uuid.NewString()
	for ref, snap := range t.reads {
		if _, written := stage[ref]; written || !snap.Exists {
			continue
		}
		res, err := t.store.db.Collection(ref.Collection).UpdateOne(t.ctx,
			bson.M{"_id": ref.ID, fieldVersion: snap.Version},
			bson.M{"$set": bson.M{fieldTxn: txnID}})
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return errConflict
		}
	}

	now := time.Now().UTC()
	for _, ref := range order {
		st := stage[ref]
		coll := t.store.db.Collection(ref.Collection)
		switch {
		case !st.exists && st.base.Exists:
			res, err := coll.DeleteOne(t.ctx, bson.M{"_id": ref.ID, fieldVersion: st.base.Version})
			if err != nil {
				return err
			}
			if res.DeletedCount == 0 {
				return errConflict
			}
		case !st.exists:
		case !st.base.Exists:
			_, err := coll.InsertOne(t.ctx, bson.M{
				"_id":        ref.ID,
				fieldData:    map[string]any(st.data),
				fieldVersion: int64(1),
				fieldUpdated: now,
			})
			if mongo.IsDuplicateKeyError(err) {
				return errConflict
			}
			if err != nil {
				return err
			}
		default:
			res, err := coll.UpdateOne(t.ctx,
				bson.M{"_id": ref.ID, fieldVersion: st.base.Version},
				bson.M{
					"$set": bson.M{fieldData: map[string]any(st.data), fieldUpdated: now},
					"$inc": bson.M{fieldVersion: int64(1)},
				})
			if err != nil {
				return err
			}
			if res.MatchedCount == 0 {
				return errConflict
			}
		}
	}
	return nil
}

