package entitygraph

import "fmt"

// Relation is a single outgoing edge from one entity to a peer entity
// in (possibly) another store, as written by CreateRelation. Name is
// empty when CreateRelation was given no name. Declared child/sibling
// relationships are not stored as Relation records.
type Relation struct {
	PeerStore      string            `json:"peer_store"`
	PeerKey        string            `json:"peer_key"` // raw Key bytes
	Name           string            `json:"name,omitempty"`
	LocalBehaviour DeletionBehaviour `json:"local_behaviour"`
	PeerBehaviour  DeletionBehaviour `json:"peer_behaviour"`
}

// EntityRelations is the full set of outgoing edges declared on one
// entity instance. It is stored as JSON under the entity's own key in
// the __relations__/<store> tree for that entity's store.
type EntityRelations struct {
	Relations []Relation `json:"relations,omitempty"`
}

// IsEmpty reports whether there are no outgoing relations at all, which
// is the condition the import/export envelope uses to decide whether to
// include a relations entry for an entity.
func (r EntityRelations) IsEmpty() bool {
	return len(r.Relations) == 0
}

// withName returns the subset of relations whose Name matches, or all
// relations if name is empty.
func (r EntityRelations) withName(name string) []Relation {
	if name == "" {
		return r.Relations
	}
	var out []Relation
	for _, rel := range r.Relations {
		if rel.Name == name {
			out = append(out, rel)
		}
	}
	return out
}

func relationsTreeName(store string) string {
	return fmt.Sprintf("__relations__/%s", store)
}

// getRelations loads the EntityRelations stored for key in store,
// returning a zero-value EntityRelations if none exist.
func (db *Db) getRelations(tx *engineTx, store string, key Key) (EntityRelations, error) {
	var rel EntityRelations
	tree, ok := tx.TreeReadOnly(relationsTreeName(store))
	if !ok {
		return rel, nil
	}
	data := tree.Get(key)
	if data == nil {
		return rel, nil
	}
	if err := unmarshalJSON(data, &rel); err != nil {
		return rel, err
	}
	return rel, nil
}

// putRelations writes rel under key in store's relations tree. Writing
// an empty EntityRelations removes the entry instead of storing an
// empty JSON object, keeping the tree's presence/absence meaningful for
// IsEmpty-based envelope export.
func (db *Db) putRelations(tx *engineTx, store string, key Key, rel EntityRelations) error {
	tree, err := tx.Tree(relationsTreeName(store))
	if err != nil {
		return err
	}
	if rel.IsEmpty() {
		return tree.Delete(key)
	}
	data, err := marshalJSON(rel)
	if err != nil {
		return err
	}
	return tree.Put(key, data)
}

// addRelation appends a new edge from (store, key) to (peerStore,
// peerKey), deduplicating on (peerStore, peerKey, name) so re-running a
// relation creation is idempotent.
func (db *Db) addRelation(tx *engineTx, store string, key Key, rel Relation) error {
	existing, err := db.getRelations(tx, store, key)
	if err != nil {
		return err
	}
	for i, r := range existing.Relations {
		if r.PeerStore == rel.PeerStore && r.PeerKey == rel.PeerKey && r.Name == rel.Name {
			existing.Relations[i] = rel
			return db.putRelations(tx, store, key, existing)
		}
	}
	existing.Relations = append(existing.Relations, rel)
	return db.putRelations(tx, store, key, existing)
}

// removeRelation removes the edge from (store, key) to (peerStore,
// peerKey) named name, if present.
func (db *Db) removeRelation(tx *engineTx, store string, key Key, peerStore, peerKey, name string) error {
	existing, err := db.getRelations(tx, store, key)
	if err != nil {
		return err
	}
	kept := existing.Relations[:0]
	for _, r := range existing.Relations {
		if r.PeerStore == peerStore && r.PeerKey == peerKey && r.Name == name {
			continue
		}
		kept = append(kept, r)
	}
	existing.Relations = kept
	return db.putRelations(tx, store, key, existing)
}
