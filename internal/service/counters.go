package service

import (
	"context"
	"sort"

	"swipeskills/internal/docstore"
	"swipeskills/internal/logging"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// getOptional reads ref inside a transaction, returning a snapshot with
// Exists false instead of an error when the document is missing
func getOptional(tx docstore.Tx, ref docstore.Ref) (*docstore.Snapshot, error) {
	snap, err := tx.Get(ref)
	if errors.Is(err, docstore.ErrNotFound) {
		return &docstore.Snapshot{Ref: ref}, nil
	}
	return snap, err
}

func increment(path string) docstore.Update {
	return docstore.Update{Path: path, Value: docstore.Increment(1)}
}

// decrement lowers the counter at path by n. Counters never go below zero:
// when the stored value is smaller than n the field is set to zero and the
// clamp is logged.
func decrement(ctx context.Context, snap *docstore.Snapshot, path string, n int64) docstore.Update {
	current := docstore.Int(snap.Field(path))
	if current >= n {
		return docstore.Update{Path: path, Value: docstore.Increment(-n)}
	}
	logging.FromContext(ctx).WithFields(logrus.Fields{
		"ref":       snap.Ref.String(),
		"field":     path,
		"current":   current,
		"decrement": n,
	}).Warn("counter would go negative, clamping at zero")
	return docstore.Update{Path: path, Value: int64(0)}
}

// adjustments collects counter decrements across documents inside one
// transaction so each document is read once and updated once
type adjustments struct {
	tx    docstore.Tx
	snaps map[docstore.Ref]*docstore.Snapshot
	dec   map[docstore.Ref]map[string]int64
	order []docstore.Ref
}

func newAdjustments(tx docstore.Tx) *adjustments {
	return &adjustments{
		tx:    tx,
		snaps: make(map[docstore.Ref]*docstore.Snapshot),
		dec:   make(map[docstore.Ref]map[string]int64),
	}
}

// lower schedules a decrement of path on ref, reading it on first use
func (a *adjustments) lower(ref docstore.Ref, path string, n int64) error {
	snap, ok := a.snaps[ref]
	if !ok {
		var err error
		if snap, err = getOptional(a.tx, ref); err != nil {
			return err
		}
	}
	return a.lowerSnap(snap, path, n)
}

// lowerSnap is lower for a document already read in the transaction
func (a *adjustments) lowerSnap(snap *docstore.Snapshot, path string, n int64) error {
	if _, ok := a.snaps[snap.Ref]; !ok {
		a.snaps[snap.Ref] = snap
		a.dec[snap.Ref] = make(map[string]int64)
		a.order = append(a.order, snap.Ref)
	}
	a.dec[snap.Ref][path] += n
	return nil
}

// apply writes the collected decrements to every existing document and
// returns the refs it updated
func (a *adjustments) apply(ctx context.Context) ([]docstore.Ref, error) {
	var updated []docstore.Ref
	for _, ref := range a.order {
		snap := a.snaps[ref]
		if !snap.Exists {
			continue
		}
		paths := make([]string, 0, len(a.dec[ref]))
		for p := range a.dec[ref] {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		updates := make([]docstore.Update, 0, len(paths))
		for _, p := range paths {
			updates = append(updates, decrement(ctx, snap, p, a.dec[ref][p]))
		}
		if err := a.tx.Update(ref, updates...); err != nil {
			return nil, err
		}
		updated = append(updated, ref)
	}
	return updated, nil
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
