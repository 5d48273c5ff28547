package entitygraph

import (
	"context"
	"encoding/binary"
)

// RegisterFamily declares store's family metadata. It must be called
// once per store (typically from an init-time schema registration step,
// whether hand-written or generated) before that store's entities can
// participate in declared-relation deletion or query composition.
func (db *Db) RegisterFamily(desc FamilyDescriptor) error {
	return db.registerFamily(desc)
}

// Family returns the descriptor registered for store.
func (db *Db) Family(store string) (FamilyDescriptor, bool, error) {
	return db.getFamily(store)
}

func entitiesTree(store string) string {
	return store
}

// Save writes value (already JSON-encoded) under key in store,
// overwriting any existing entity at that key.
func (db *Db) Save(ctx context.Context, store string, key Key, data []byte) error {
	db.metrics.Increment(MetricEntitySaves, "store", store)
	return db.engine.Update(func(tx *engineTx) error {
		tree, err := tx.Tree(entitiesTree(store))
		if err != nil {
			return err
		}
		return tree.Put(key, data)
	})
}

// Get reads the raw JSON stored under key in store. Returns
// ErrNotFound if no entity exists there.
func (db *Db) Get(ctx context.Context, store string, key Key) ([]byte, error) {
	var out []byte
	err := db.engine.View(func(tx *engineTx) error {
		tree, ok := tx.TreeReadOnly(entitiesTree(store))
		if !ok {
			return ErrNotFound
		}
		data := tree.Get(key)
		if data == nil {
			return ErrNotFound
		}
		out = append([]byte{}, data...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Exists reports whether an entity is stored under key in store.
func (db *Db) Exists(ctx context.Context, store string, key Key) (bool, error) {
	_, err := db.Get(ctx, store, key)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Remove deletes the entity at key in store directly, with no
// consideration of declared children, siblings, or relations, and
// leaves the entity's own relations record and its peers'
// back-references in place. Callers that need policy-aware deletion
// should use the Deletion Engine (Delete, or Plan/Apply) instead.
func (db *Db) Remove(ctx context.Context, store string, key Key) error {
	db.metrics.Increment(MetricEntityRemoves, "store", store)
	return db.engine.Update(func(tx *engineTx) error {
		tree, err := tx.Tree(entitiesTree(store))
		if err != nil {
			return err
		}
		return tree.Delete(key)
	})
}

// Count returns the number of entities stored in store.
func (db *Db) Count(ctx context.Context, store string) (int, error) {
	n := 0
	err := db.engine.View(func(tx *engineTx) error {
		tree, ok := tx.TreeReadOnly(entitiesTree(store))
		if !ok {
			return nil
		}
		tree.ForEach(func(_, _ []byte) bool {
			n++
			return true
		})
		return nil
	})
	return n, err
}

// ForEach calls fn for every (key, data) pair in store, in ascending key
// order, stopping early if fn returns false or a non-nil error.
func (db *Db) ForEach(ctx context.Context, store string, fn func(key Key, data []byte) (bool, error)) error {
	return db.engine.View(func(tx *engineTx) error {
		tree, ok := tx.TreeReadOnly(entitiesTree(store))
		if !ok {
			return nil
		}
		var ferr error
		tree.ForEach(func(k, v []byte) bool {
			cont, err := fn(append([]byte{}, k...), v)
			if err != nil {
				ferr = err
				return false
			}
			return cont
		})
		return ferr
	})
}

// GetEach is the batch variant of Get: it looks up every key in keys
// and returns the data found, preserving the order keys were given in.
// Keys with no matching entity are simply omitted, not reported as an
// error.
func (db *Db) GetEach(ctx context.Context, store string, keys []Key) ([][]byte, error) {
	out := make([][]byte, 0, len(keys))
	err := db.engine.View(func(tx *engineTx) error {
		tree, ok := tx.TreeReadOnly(entitiesTree(store))
		if !ok {
			return nil
		}
		for _, k := range keys {
			data := tree.Get(k)
			if data == nil {
				continue
			}
			out = append(out, append([]byte{}, data...))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SaveEach stores every item in items under its own key, in a single
// transaction: either all entities are written or none are.
func (db *Db) SaveEach(ctx context.Context, store string, items map[string][]byte) error {
	return db.engine.Update(func(tx *engineTx) error {
		tree, err := tx.Tree(entitiesTree(store))
		if err != nil {
			return err
		}
		for k, v := range items {
			if err := tree.Put(Key(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveEach deletes every key in keys from store in a single
// transaction. Unlike the Deletion Engine, this performs no relation or
// cascade bookkeeping; it is meant for bulk cleanup of entities already
// known to have no dependents (e.g. a freshly imported, pre-relation
// batch being rolled back on error).
func (db *Db) RemoveEach(ctx context.Context, store string, keys []Key) error {
	return db.engine.Update(func(tx *engineTx) error {
		tree, err := tx.Tree(entitiesTree(store))
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := tree.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// nextAutoIncrement returns the next uint32 id to assign at the top of
// store's key space: one past the greatest existing key's trailing
// 4 bytes, or 0 if the store is empty.
func (db *Db) nextAutoIncrement(tx *engineTx, store string) (uint32, error) {
	tree, err := tx.Tree(entitiesTree(store))
	if err != nil {
		return 0, err
	}
	lastKey, _, ok := tree.LastWithPrefix(nil)
	if !ok {
		return 0, nil
	}
	v, ok := decodeUint32Suffix(lastKey)
	if !ok {
		return 0, ErrAutoIncrementUnsupported
	}
	return v + 1, nil
}

// SaveNext assigns the next auto-incrementing uint32 id in store and
// saves data under it, returning the assigned key. Only meaningful for
// stores whose id type is a 4-byte suffix (Uint32ID, or a TupleID ending
// in one); stores keyed by string ids should use Save directly.
func (db *Db) SaveNext(ctx context.Context, store string, data []byte) (Key, error) {
	var key Key
	err := db.engine.Update(func(tx *engineTx) error {
		next, err := db.nextAutoIncrement(tx, store)
		if err != nil {
			return err
		}
		key = Uint32ID(next).EncodeKey()
		tree, err := tx.Tree(entitiesTree(store))
		if err != nil {
			return err
		}
		return tree.Put(key, data)
	})
	if err != nil {
		return nil, err
	}
	db.metrics.Increment(MetricEntitySaves, "store", store)
	return key, nil
}

// nextChildLocalID returns the next uint32 local id to assign under
// parentKey within childStore.
func (db *Db) nextChildLocalID(tx *engineTx, childStore string, parentKey Key) (uint32, error) {
	tree, err := tx.Tree(entitiesTree(childStore))
	if err != nil {
		return 0, err
	}
	lastKey, _, ok := tree.LastWithPrefix(parentKey)
	if !ok {
		return 0, nil
	}
	v, ok := decodeUint32Suffix(lastKey)
	if !ok {
		return 0, ErrAutoIncrementUnsupported
	}
	return v + 1, nil
}

// SaveNextChild assigns the next local id under parentKey within
// childStore (the compound key parentKey++localID) and saves data
// there, returning the assigned compound key.
func (db *Db) SaveNextChild(ctx context.Context, childStore string, parentKey Key, data []byte) (Key, error) {
	var key Key
	err := db.engine.Update(func(tx *engineTx) error {
		next, err := db.nextChildLocalID(tx, childStore, parentKey)
		if err != nil {
			return err
		}
		local := make([]byte, 4)
		binary.BigEndian.PutUint32(local, next)
		key = append(append(Key{}, parentKey...), local...)
		tree, err := tx.Tree(entitiesTree(childStore))
		if err != nil {
			return err
		}
		return tree.Put(key, data)
	})
	if err != nil {
		return nil, err
	}
	db.metrics.Increment(MetricEntitySaves, "store", childStore)
	return key, nil
}

// GetChildren calls fn for every entity in childStore whose key is
// prefixed by parentKey, i.e. every declared child of the entity at
// parentKey.
func (db *Db) GetChildren(ctx context.Context, childStore string, parentKey Key, fn func(key Key, data []byte) bool) error {
	return db.engine.View(func(tx *engineTx) error {
		tree, ok := tx.TreeReadOnly(entitiesTree(childStore))
		if !ok {
			return nil
		}
		tree.ScanPrefix(parentKey, func(k, v []byte) bool {
			return fn(append([]byte{}, k...), v)
		})
		return nil
	})
}

// CreateRelation records a named (or anonymous) edge from the entity at
// (store, key) to the entity at (peerStore, peerKey), with the given
// deletion behaviours applied from each side. Unlike declared
// children/siblings, free relations are not part of the family
// descriptor and can be created between any two existing entities at
// runtime.
func (db *Db) CreateRelation(ctx context.Context, store string, key Key, peerStore string, peerKey Key, name string, localBehaviour, peerBehaviour DeletionBehaviour) error {
	err := db.engine.Update(func(tx *engineTx) error {
		if err := db.addRelation(tx, store, key, Relation{
			PeerStore:      peerStore,
			PeerKey:        string(peerKey),
			Name:           name,
			LocalBehaviour: localBehaviour,
			PeerBehaviour:  peerBehaviour,
		}); err != nil {
			return err
		}
		return db.addRelation(tx, peerStore, peerKey, Relation{
			PeerStore:      store,
			PeerKey:        string(key),
			Name:           name,
			LocalBehaviour: peerBehaviour,
			PeerBehaviour:  localBehaviour,
		})
	})
	if err == nil {
		db.metrics.Increment(MetricRelationCreated, "store", store, "peer_store", peerStore)
	}
	return err
}

// GetRelated returns the (peerStore, peerKey) pairs of every relation
// from (store, key) matching name (or all relations, if name is
// empty), in the order they were created.
func (db *Db) GetRelated(ctx context.Context, store string, key Key, name string) ([]Relation, error) {
	var out []Relation
	err := db.engine.View(func(tx *engineTx) error {
		rel, err := db.getRelations(tx, store, key)
		if err != nil {
			return err
		}
		out = rel.withName(name)
		return nil
	})
	return out, err
}

// IsRelatedTo reports whether (store, key) has a relation named name
// (or any relation, if name is empty) to (peerStore, peerKey).
func (db *Db) IsRelatedTo(ctx context.Context, store string, key Key, peerStore string, peerKey Key, name string) (bool, error) {
	rels, err := db.GetRelated(ctx, store, key, name)
	if err != nil {
		return false, err
	}
	for _, r := range rels {
		if r.PeerStore == peerStore && r.PeerKey == string(peerKey) {
			return true, nil
		}
	}
	return false, nil
}

// RemoveRelation deletes the named edge (in both directions) between
// (store, key) and (peerStore, peerKey).
func (db *Db) RemoveRelation(ctx context.Context, store string, key Key, peerStore string, peerKey Key, name string) error {
	err := db.engine.Update(func(tx *engineTx) error {
		if err := db.removeRelation(tx, store, key, peerStore, string(peerKey), name); err != nil {
			return err
		}
		return db.removeRelation(tx, peerStore, peerKey, store, string(key), name)
	})
	if err == nil {
		db.metrics.Increment(MetricRelationRemoved, "store", store, "peer_store", peerStore)
	}
	return err
}

// GetRelatedWithName is an alias for GetRelated kept for symmetry with
// the rest of the named-relation read helpers; name is required here
// (use GetRelated with an empty name for the unfiltered form).
func (db *Db) GetRelatedWithName(ctx context.Context, store string, key Key, name string) ([]Relation, error) {
	return db.GetRelated(ctx, store, key, name)
}

// GetSingleRelatedWithName returns the first relation from (store, key)
// named name, or ErrNotFound if there is none.
func (db *Db) GetSingleRelatedWithName(ctx context.Context, store string, key Key, name string) (Relation, error) {
	rels, err := db.GetRelated(ctx, store, key, name)
	if err != nil {
		return Relation{}, err
	}
	if len(rels) == 0 {
		return Relation{}, ErrNotFound
	}
	return rels[0], nil
}

// IsRelatedToWithName reports whether (store, key) has a relation named
// name to (peerStore, peerKey).
func (db *Db) IsRelatedToWithName(ctx context.Context, store string, key Key, peerStore string, peerKey Key, name string) (bool, error) {
	return db.IsRelatedTo(ctx, store, key, peerStore, peerKey, name)
}

// IsRelatedToWithAnyName reports whether (store, key) has any relation,
// regardless of name, to (peerStore, peerKey).
func (db *Db) IsRelatedToWithAnyName(ctx context.Context, store string, key Key, peerStore string, peerKey Key) (bool, error) {
	return db.IsRelatedTo(ctx, store, key, peerStore, peerKey, "")
}

// SaveSibling saves data under peerStore at the same key as (store,
// key), after validating I4: store and peerStore must each declare the
// other as a sibling (the declared DeletionBehaviours may differ).
func (db *Db) SaveSibling(ctx context.Context, store string, key Key, peerStore string, data []byte) error {
	fam, ok, err := db.getFamily(store)
	if err != nil {
		return err
	}
	if !ok {
		return WithContext(ErrInvalidRelation, map[string]interface{}{"store": store, "peer_store": peerStore, "reason": "store has no registered family"})
	}
	if _, ok := fam.Sibling(peerStore); !ok {
		return WithContext(ErrInvalidRelation, map[string]interface{}{"store": store, "peer_store": peerStore, "reason": "store does not declare peer_store as sibling"})
	}
	peerFam, ok, err := db.getFamily(peerStore)
	if err != nil {
		return err
	}
	if !ok {
		return WithContext(ErrInvalidRelation, map[string]interface{}{"store": store, "peer_store": peerStore, "reason": "peer_store has no registered family"})
	}
	if _, ok := peerFam.Sibling(store); !ok {
		return WithContext(ErrInvalidRelation, map[string]interface{}{"store": store, "peer_store": peerStore, "reason": "peer_store does not declare store as sibling"})
	}
	return db.Save(ctx, peerStore, key, data)
}

// AdoptAsNextChild re-parents an existing entity at (childStore,
// childKey) to become the next child of (parentStore, parentKey): its
// new key is parentKey++nextLocalID, matching SaveNextChild's
// allocation. The move is symmetric: the value is copied under the new
// key, the child's own EntityRelations row is rewritten to the new key,
// every peer mentioned in that row has its back-reference rewritten to
// point at the new key (preserving I2), the child's own children are
// recursively re-parented under the same prefix, and only then is the
// old row removed.
func (db *Db) AdoptAsNextChild(ctx context.Context, parentStore string, parentKey Key, childStore string, childKey Key) (Key, error) {
	var newKey Key
	err := db.engine.Update(func(tx *engineTx) error {
		tree, err := tx.Tree(entitiesTree(childStore))
		if err != nil {
			return err
		}
		data := tree.Get(childKey)
		if data == nil {
			return ErrNotFound
		}

		next, err := db.nextChildLocalID(tx, childStore, parentKey)
		if err != nil {
			return err
		}
		local := make([]byte, 4)
		binary.BigEndian.PutUint32(local, next)
		newKey = append(append(Key{}, parentKey...), local...)

		return db.reparent(tx, childStore, childKey, newKey)
	})
	if err != nil {
		return nil, err
	}
	db.metrics.Increment(MetricEntitySaves, "store", childStore)
	return newKey, nil
}

// reparent moves the entity at (store, oldKey) to newKey within the
// same tx: copy the value, rewrite its own relations row and every
// mentioned peer's back-reference, recurse into its own declared
// children (which share its key as their prefix), then delete the old
// row.
func (db *Db) reparent(tx *engineTx, store string, oldKey, newKey Key) error {
	tree, err := tx.Tree(entitiesTree(store))
	if err != nil {
		return err
	}
	data := tree.Get(oldKey)
	if data == nil {
		return ErrNotFound
	}
	if err := tree.Put(newKey, data); err != nil {
		return err
	}

	rel, err := db.getRelations(tx, store, oldKey)
	if err != nil {
		return err
	}
	if !rel.IsEmpty() {
		for _, r := range rel.Relations {
			peerKey := Key(r.PeerKey)
			if err := db.rewriteBackReference(tx, r.PeerStore, peerKey, store, oldKey, newKey); err != nil {
				return err
			}
		}
		if err := db.putRelations(tx, store, newKey, rel); err != nil {
			return err
		}
		if err := db.putRelations(tx, store, oldKey, EntityRelations{}); err != nil {
			return err
		}
	}

	if fam, ok, err := db.familyInTx(tx, store); err != nil {
		return err
	} else if ok {
		for _, child := range fam.Children {
			if err := db.reparentChildren(tx, child.Store, oldKey, newKey); err != nil {
				return err
			}
		}
	}

	return tree.Delete(oldKey)
}

// reparentChildren recursively re-parents every entity in childStore
// whose key is prefixed by oldParentKey, rewriting that prefix to
// newParentKey while preserving each child's own local suffix.
func (db *Db) reparentChildren(tx *engineTx, childStore string, oldParentKey, newParentKey Key) error {
	tree, ok := tx.TreeReadOnly(entitiesTree(childStore))
	if !ok {
		return nil
	}
	var childKeys []Key
	tree.ScanPrefix(oldParentKey, func(k, _ []byte) bool {
		childKeys = append(childKeys, append(Key{}, k...))
		return true
	})
	for _, oldChildKey := range childKeys {
		suffix := append(Key{}, oldChildKey[len(oldParentKey):]...)
		newChildKey := append(append(Key{}, newParentKey...), suffix...)
		if err := db.reparent(tx, childStore, oldChildKey, newChildKey); err != nil {
			return err
		}
	}
	return nil
}

// rewriteBackReference finds peer (peerStore, peerKey)'s relation
// entries pointing at (ownerStore, oldKey) and repoints them at newKey,
// preserving I2 symmetry across the adoption.
func (db *Db) rewriteBackReference(tx *engineTx, peerStore string, peerKey Key, ownerStore string, oldKey, newKey Key) error {
	peerRel, err := db.getRelations(tx, peerStore, peerKey)
	if err != nil {
		return err
	}
	changed := false
	for i, back := range peerRel.Relations {
		if back.PeerStore == ownerStore && back.PeerKey == string(oldKey) {
			peerRel.Relations[i].PeerKey = string(newKey)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return db.putRelations(tx, peerStore, peerKey, peerRel)
}
