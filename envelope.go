package entitygraph

import (
	"context"
	"encoding/hex"
	"encoding/json"

	"github.com/nkoval/entitygraph/export"
)

// ExportEntries assembles export.Entry records for every key in keys
// within store, including each entity's relations when it has any.
// Pass nil keys to export the entire store.
func (db *Db) ExportEntries(ctx context.Context, store string, keys []Key) ([]export.Entry, error) {
	var entries []export.Entry
	err := db.engine.View(func(tx *engineTx) error {
		tree, ok := tx.TreeReadOnly(entitiesTree(store))
		if !ok {
			return nil
		}
		collect := func(k, v []byte) error {
			rel, err := db.getRelations(tx, store, Key(k))
			if err != nil {
				return err
			}
			entry := export.Entry{
				Key:  hex.EncodeToString(k),
				Data: append(json.RawMessage{}, v...),
			}
			if !rel.IsEmpty() {
				relData, err := marshalJSON(rel)
				if err != nil {
					return err
				}
				entry.Relations = relData
			}
			entries = append(entries, entry)
			return nil
		}
		if keys == nil {
			var ferr error
			tree.ForEach(func(k, v []byte) bool {
				if err := collect(k, v); err != nil {
					ferr = err
					return false
				}
				return true
			})
			return ferr
		}
		for _, key := range keys {
			v := tree.Get(key)
			if v == nil {
				continue
			}
			if err := collect(key, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	db.metrics.Increment(MetricEnvelopeExported, "store", store)
	return entries, nil
}

// Export serialises store (or the given keys within it, if non-nil) as
// an envelope and writes it to sink under name.
func (db *Db) Export(ctx context.Context, sink export.Sink, name string, store string, keys []Key) error {
	entries, err := db.ExportEntries(ctx, store, keys)
	if err != nil {
		return err
	}
	return export.Export(ctx, sink, name, entries)
}

// ImportEntries writes every entry back into store, in one
// transaction: each entity followed by its own relations record,
// exactly as exported. No reciprocal records are written on peers in
// other stores; the other side of an edge is restored only when its
// own store's envelope is imported too.
func (db *Db) ImportEntries(ctx context.Context, store string, entries []export.Entry) error {
	return db.engine.Update(func(tx *engineTx) error {
		tree, err := tx.Tree(entitiesTree(store))
		if err != nil {
			return err
		}
		for _, entry := range entries {
			key, err := hex.DecodeString(entry.Key)
			if err != nil {
				return WithContext(ErrSerialisation, map[string]interface{}{"key": entry.Key, "error": err.Error()})
			}
			if err := tree.Put(key, entry.Data); err != nil {
				return err
			}
			if len(entry.Relations) == 0 {
				continue
			}
			var rel EntityRelations
			if err := unmarshalJSON(entry.Relations, &rel); err != nil {
				return err
			}
			if err := db.putRelations(tx, store, key, rel); err != nil {
				return err
			}
		}
		return nil
	})
}

// Import reads name from sink and writes its contents into store.
func (db *Db) Import(ctx context.Context, sink export.Sink, name string, store string) error {
	entries, err := export.Import(ctx, sink, name)
	if err != nil {
		return err
	}
	if err := db.ImportEntries(ctx, store, entries); err != nil {
		return err
	}
	db.metrics.Increment(MetricEnvelopeImported, "store", store)
	return nil
}
