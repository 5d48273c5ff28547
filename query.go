package entitygraph

import (
	"bytes"
	"context"
	"time"
)

type relationConstraint struct {
	peerStore string
	peerKey   Key
	name      string
	named     bool
}

// QueryBuilder composes filters over one store without materialising
// intermediate results: ids directly named, membership under a
// declared parent's key prefix, and existence of a relation from
// another entity. Build it with Db.Query and call IDs, Get, or
// GetSingle to run it.
type QueryBuilder struct {
	db      *Db
	store   string
	ids     []Key
	parent  Key
	hasParent bool
	related []relationConstraint
}

// Query starts a QueryBuilder over store.
func (db *Db) Query(store string) *QueryBuilder {
	return &QueryBuilder{db: db, store: store}
}

// WithID adds a single id to consider. Can be called multiple times.
func (q *QueryBuilder) WithID(id Key) *QueryBuilder {
	q.ids = append(q.ids, id)
	return q
}

// WithIDs adds every id in ids to consider.
func (q *QueryBuilder) WithIDs(ids []Key) *QueryBuilder {
	q.ids = append(q.ids, ids...)
	return q
}

// WithParent restricts results to entities whose key is prefixed by
// parentKey, i.e. declared children of the entity at parentKey.
func (q *QueryBuilder) WithParent(parentKey Key) *QueryBuilder {
	q.parent = parentKey
	q.hasParent = true
	return q
}

// WithRelationTo requires an unnamed relation from (peerStore, peerKey)
// to the queried store. Can be called multiple times.
func (q *QueryBuilder) WithRelationTo(peerStore string, peerKey Key) *QueryBuilder {
	q.related = append(q.related, relationConstraint{peerStore: peerStore, peerKey: peerKey})
	return q
}

// WithNamedRelationTo requires a relation named name from (peerStore,
// peerKey) to the queried store. Can be called multiple times.
func (q *QueryBuilder) WithNamedRelationTo(peerStore string, peerKey Key, name string) *QueryBuilder {
	q.related = append(q.related, relationConstraint{peerStore: peerStore, peerKey: peerKey, name: name, named: true})
	return q
}

// IDs resolves the query to the matching keys, without fetching entity
// data. With no ids, no relation constraints, and no parent, this is
// empty: a query needs at least one of those to mean anything. With
// only a parent set, it is every key under that prefix. With relation
// constraints, it is the keys those relations point at (intersected
// against WithID/WithIDs, if any were also given); ids alone, with no
// relation constraint to intersect against, also resolve to empty,
// matching the same narrow-by-default behaviour.
func (q *QueryBuilder) IDs(ctx context.Context) ([]Key, error) {
	start := Now()
	defer func() {
		q.db.metrics.Timing(MetricQueryDuration, time.Since(start), "store", q.store)
	}()
	var target []Key
	err := q.db.engine.View(func(tx *engineTx) error {
		switch {
		case len(q.ids) == 0 && len(q.related) == 0 && !q.hasParent:
			return nil
		case len(q.ids) == 0 && len(q.related) == 0 && q.hasParent:
			tree, ok := tx.TreeReadOnly(entitiesTree(q.store))
			if !ok {
				return nil
			}
			tree.ScanPrefix(q.parent, func(k, _ []byte) bool {
				target = append(target, append(Key{}, k...))
				return true
			})
			return nil
		case len(q.ids) == 0:
			rel, err := q.relatedIDs(tx)
			if err != nil {
				return err
			}
			target = rel
			return nil
		default:
			rel, err := q.relatedIDs(tx)
			if err != nil {
				return err
			}
			target = intersectByID(rel, q.ids)
			return nil
		}
	})
	if err != nil {
		return nil, err
	}
	if q.hasParent {
		target = filterByPrefix(target, q.parent)
	}
	q.db.metrics.Histogram(MetricQueryResults, float64(len(target)), "store", q.store)
	return target, nil
}

func (q *QueryBuilder) relatedIDs(tx *engineTx) ([]Key, error) {
	var target []Key
	for _, c := range q.related {
		rel, err := q.db.getRelations(tx, c.peerStore, c.peerKey)
		if err != nil {
			return nil, err
		}
		for _, r := range rel.Relations {
			if r.PeerStore != q.store {
				continue
			}
			if c.named {
				if r.Name != c.name {
					continue
				}
			} else if r.Name != "" {
				continue
			}
			target = append(target, Key(r.PeerKey))
		}
	}
	return target, nil
}

func intersectByID(candidates []Key, ids []Key) []Key {
	var out []Key
	for _, c := range candidates {
		for _, id := range ids {
			if bytes.Equal(c, id) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func filterByPrefix(keys []Key, prefix Key) []Key {
	var out []Key
	for _, k := range keys {
		if bytes.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}

// Get resolves the query and returns the matching (key, data) pairs.
func (q *QueryBuilder) Get(ctx context.Context) ([]EntityRecord, error) {
	ids, err := q.IDs(ctx)
	if err != nil {
		return nil, err
	}
	var out []EntityRecord
	err = q.db.engine.View(func(tx *engineTx) error {
		tree, ok := tx.TreeReadOnly(entitiesTree(q.store))
		if !ok {
			return nil
		}
		for _, id := range ids {
			data := tree.Get(id)
			if data == nil {
				continue
			}
			out = append(out, EntityRecord{Key: id, Data: append([]byte{}, data...)})
		}
		return nil
	})
	return out, err
}

// GetSingle resolves the query and returns the first matching record.
// Returns ErrNotFound if nothing matches.
func (q *QueryBuilder) GetSingle(ctx context.Context) (EntityRecord, error) {
	records, err := q.Get(ctx)
	if err != nil {
		return EntityRecord{}, err
	}
	if len(records) == 0 {
		return EntityRecord{}, ErrNotFound
	}
	return records[0], nil
}

// EntityRecord pairs a resolved key with its stored data.
type EntityRecord struct {
	Key  Key
	Data []byte
}
