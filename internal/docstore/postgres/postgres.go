// Package postgres stores documents as JSONB rows through GORM. Transactions
// run at SERIALIZABLE with row locks and are retried on serialization failures.
// Commits are announced on a Redis channel so every instance can refresh its
// live subscriptions.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"strings"
	"time"

	"swipeskills/internal/docstore"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// ChangeChannel is the Redis pub/sub channel carrying commit announcements.
	ChangeChannel = "docstore:changes"

	txBaseBackoff = 20 * time.Millisecond
	txMaxBackoff  = 500 * time.Millisecond
)

var retryablePgErrorCodes = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available
	"23505": {}, // unique_violation from a concurrent insert; the retry re-reads
}

// Document is the row backing one document.
type Document struct {
	Collection string         `gorm:"primaryKey;size:64"`
	ID         string         `gorm:"primaryKey;size:128"`
	Data       datatypes.JSON `gorm:"type:jsonb;not null;index:idx_documents_data,type:gin"`
	Version    int64          `gorm:"not null;default:1"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (Document) TableName() string {
	return "documents"
}

type changeMessage struct {
	Origin      string   `json:"origin"`
	Collections []string `json:"collections"`
}

// Store implements docstore.Store on PostgreSQL (or CockroachDB).
type Store struct {
	db          *gorm.DB
	rdb         *redis.Client
	watcher     *docstore.Watcher
	log         *logrus.Entry
	instanceID  string
	maxAttempts int
	cancel      context.CancelFunc
	pubsub      *redis.PubSub
}

// New migrates the documents table and, when rdb is not nil, joins the
// cross-instance change feed.
func New(db *gorm.DB, rdb *redis.Client) (*Store, error) {
	if err := db.AutoMigrate(&Document{}); err != nil {
		return nil, errors.Wrap(err, "migrate documents table")
	}

	s := &Store{
		db:          db,
		rdb:         rdb,
		log:         logrus.WithField("docstore", "postgres"),
		instanceID:  uuid.NewString(),
		maxAttempts: docstore.DefaultMaxAttempts,
	}
	s.watcher = docstore.NewWatcher(s.Query, s.log)

	if rdb != nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.pubsub = rdb.Subscribe(ctx, ChangeChannel)
		go s.listen(ctx)
	}
	return s, nil
}

func (s *Store) listen(ctx context.Context) {
	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var change changeMessage
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				s.log.WithError(err).Warn("discarding malformed change message")
				continue
			}
			if change.Origin == s.instanceID {
				continue
			}
			s.watcher.Notify(change.Collections...)
		}
	}
}

func (s *Store) announce(ctx context.Context, collections []string) {
	s.watcher.Notify(collections...)
	if s.rdb == nil {
		return
	}
	payload, err := json.Marshal(changeMessage{Origin: s.instanceID, Collections: collections})
	if err != nil {
		return
	}
	if err := s.rdb.Publish(ctx, ChangeChannel, payload).Err(); err != nil {
		s.log.WithError(err).Warn("publish change notification")
	}
}

func toSnapshot(row *Document) (*docstore.Snapshot, error) {
	var data docstore.Data
	dec := json.NewDecoder(strings.NewReader(string(row.Data)))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		return nil, errors.Wrapf(err, "decode %s/%s", row.Collection, row.ID)
	}
	return &docstore.Snapshot{
		Ref:        docstore.Doc(row.Collection, row.ID),
		Data:       docstore.NormalizeData(data),
		Exists:     true,
		Version:    row.Version,
		UpdateTime: row.UpdatedAt,
	}, nil
}

func getRow(db *gorm.DB, ref docstore.Ref) (*Document, error) {
	var row Document
	err := db.Where("collection = ? AND id = ?", ref.Collection, ref.ID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func get(db *gorm.DB, ref docstore.Ref) (*docstore.Snapshot, error) {
	row, err := getRow(db, ref)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return &docstore.Snapshot{Ref: ref}, errors.Wrap(docstore.ErrNotFound, ref.String())
	}
	return toSnapshot(row)
}

// containment builds the JSON object matched with `data @> ?` for a dotted path.
func containment(path string, value any) (string, error) {
	parts := strings.Split(path, ".")
	var obj any = docstore.Normalize(value)
	for i := len(parts) - 1; i >= 0; i-- {
		obj = map[string]any{parts[i]: obj}
	}
	raw, err := json.Marshal(obj)
	return string(raw), err
}

// query pushes equality, membership and id filters into SQL and finishes
// ordering and paging in memory so time strings compare chronologically.
func query(db *gorm.DB, q docstore.Query) ([]*docstore.Snapshot, error) {
	tx := db.Where("collection = ?", q.Collection)
	for _, f := range q.Filters {
		switch {
		case f.Path == docstore.FieldID && f.Op == docstore.OpEqual:
			tx = tx.Where("id = ?", f.Value)
		case f.Path == docstore.FieldID && f.Op == docstore.OpIn:
			tx = tx.Where("id IN ?", docstore.Strings(f.Value))
		case f.Path == docstore.FieldID:
		case f.Op == docstore.OpEqual && f.Value != nil:
			js, err := containment(f.Path, f.Value)
			if err != nil {
				return nil, err
			}
			tx = tx.Where("data @> ?::jsonb", js)
		case f.Op == docstore.OpArrayContains:
			js, err := containment(f.Path, []any{f.Value})
			if err != nil {
				return nil, err
			}
			tx = tx.Where("data @> ?::jsonb", js)
		}
	}

	var rows []Document
	if err := tx.Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	docs := make([]*docstore.Snapshot, 0, len(rows))
	for i := range rows {
		snap, err := toSnapshot(&rows[i])
		if err != nil {
			return nil, err
		}
		docs = append(docs, snap)
	}
	return q.Apply(docs), nil
}

func (s *Store) Get(ctx context.Context, ref docstore.Ref) (*docstore.Snapshot, error) {
	return get(s.db.WithContext(ctx), ref)
}

func (s *Store) GetAll(ctx context.Context, refs ...docstore.Ref) ([]*docstore.Snapshot, error) {
	out := make([]*docstore.Snapshot, len(refs))
	for i, ref := range refs {
		snap, err := get(s.db.WithContext(ctx), ref)
		if err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return nil, err
		}
		out[i] = snap
	}
	return out, nil
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]*docstore.Snapshot, error) {
	return query(s.db.WithContext(ctx), q)
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

// Batch commits writes atomically without reading anything first.
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
	if s.cancel != nil {
		s.cancel()
	}
	if s.pubsub != nil {
		_ = s.pubsub.Close()
	}
	s.watcher.Close()
	return nil
}

// RunTransaction runs fn inside a serializable transaction, retrying with
// exponential backoff while PostgreSQL reports a retryable conflict.
func (s *Store) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(math.Pow(2, float64(attempt-2))) * txBaseBackoff
			if backoff > txMaxBackoff {
				backoff = txMaxBackoff
			}
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		var writes []docstore.Write
		err := s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
			t := &transaction{db: gtx}
			if err := fn(ctx, t); err != nil {
				return err
			}
			writes = t.writes
			return commit(gtx, t.writes)
		}, &sql.TxOptions{Isolation: sql.LevelSerializable})

		if err == nil {
			if len(writes) > 0 {
				s.announce(ctx, docstore.Collections(writes))
			}
			return nil
		}
		if !shouldRetry(err) {
			return err
		}
		s.log.WithError(err).WithField("attempt", attempt).Debug("retrying transaction")
	}
	return docstore.ErrAborted
}

func shouldRetry(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		_, ok := retryablePgErrorCodes[pgErr.Code]
		return ok
	}
	return false
}

func commit(db *gorm.DB, writes []docstore.Write) error {
	type staged struct {
		row    *Document
		data   docstore.Data
		exists bool
	}
	stage := make(map[docstore.Ref]*staged)
	order := make([]docstore.Ref, 0, len(writes))

	for _, w := range writes {
		st, ok := stage[w.Ref]
		if !ok {
			row, err := getRow(forUpdate(db), w.Ref)
			if err != nil {
				return err
			}
			st = &staged{row: row}
			if row != nil {
				snap, err := toSnapshot(row)
				if err != nil {
					return err
				}
				st.data, st.exists = snap.Data, true
			}
			stage[w.Ref] = st
			order = append(order, w.Ref)
		}
		next, err := docstore.ApplyWrite(st.data, st.exists, w)
		if err != nil {
			return err
		}
		st.data, st.exists = next, next != nil
	}

	for _, ref := range order {
		st := stage[ref]
		switch {
		case !st.exists && st.row != nil:
			if err := db.Where("collection = ? AND id = ?", ref.Collection, ref.ID).Delete(&Document{}).Error; err != nil {
				return err
			}
		case !st.exists:
		case st.row == nil:
			raw, err := json.Marshal(st.data)
			if err != nil {
				return err
			}
			row := &Document{Collection: ref.Collection, ID: ref.ID, Data: datatypes.JSON(raw), Version: 1}
			if err := db.Create(row).Error; err != nil {
				return err
			}
		default:
			raw, err := json.Marshal(st.data)
			if err != nil {
				return err
			}
			err = db.Model(&Document{}).
				Where("collection = ? AND id = ?", ref.Collection, ref.ID).
				Updates(map[string]any{
					"data":       datatypes.JSON(raw),
					"version":    gorm.Expr("version + 1"),
					"updated_at": time.Now().UTC(),
				}).Error
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func forUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

type transaction struct {
	db     *gorm.DB
	writes []docstore.Write
}

func (t *transaction) Get(ref docstore.Ref) (*docstore.Snapshot, error) {
	if len(t.writes) > 0 {
		return nil, docstore.ErrReadAfterWrite
	}
	return get(forUpdate(t.db), ref)
}

func (t *transaction) Query(q docstore.Query) ([]*docstore.Snapshot, error) {
	if len(t.writes) > 0 {
		return nil, docstore.ErrReadAfterWrite
	}
	return query(forUpdate(t.db), q)
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
