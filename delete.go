package entitygraph

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
)

// EntityRef identifies one entity by its store and key.
type EntityRef struct {
	Store string
	Key   Key
}

// EdgeRef identifies one directed relation edge slated to be broken.
type EdgeRef struct {
	Store     string
	Key       Key
	PeerStore string
	PeerKey   Key
	Name      string
}

// DeletionPlan is the result of Plan: everything Apply will do if
// called with it, computed without mutating the store.
type DeletionPlan struct {
	root     EntityRef
	toDelete []EntityRef
	toBreak  []EdgeRef
	visited  map[string]bool
}

// Entities returns the full cascade closure the plan will delete,
// including the root entity itself.
func (p *DeletionPlan) Entities() []EntityRef {
	return p.toDelete
}

func refID(store string, key Key) string {
	return store + ":" + hex.EncodeToString(key)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Plan computes, without mutating anything, the full closure of
// entities that deleting (store, key) would cascade into. It walks
// declared children, then declared siblings, then free named relations,
// in that order, guarding against cycles with a visited (store, key)
// set. It aborts on the first protected reference it finds, following
// the Error > Cascade > BreakLink precedence, returning a
// *DeletionBlockedError that names exactly what stood in the way.
func (db *Db) Plan(ctx context.Context, store string, key Key) (*DeletionPlan, error) {
	plan := &DeletionPlan{
		root:    EntityRef{store, key},
		visited: make(map[string]bool),
	}
	err := db.engine.View(func(tx *engineTx) error {
		return db.planVisit(tx, plan, store, key)
	})
	if err != nil {
		return nil, err
	}
	db.metrics.Increment(MetricDeletionPlanned, "store", store)
	return plan, nil
}

// deletionDecision is what deleting one node implies for one target
// entity, reduced down from however many declared paths (child,
// sibling, relation) reach that target.
type deletionDecision struct {
	target    EntityRef
	behaviour DeletionBehaviour
	reason    string
}

func (db *Db) planVisit(tx *engineTx, plan *DeletionPlan, store string, key Key) error {
	id := refID(store, key)
	if plan.visited[id] {
		return nil
	}
	plan.visited[id] = true
	plan.toDelete = append(plan.toDelete, EntityRef{store, key})

	decisions := make(map[string]*deletionDecision)
	addDecision := func(target EntityRef, behaviour DeletionBehaviour, reason string) {
		tid := refID(target.Store, target.Key)
		if existing, ok := decisions[tid]; ok {
			// Same peer reachable through more than one declared path:
			// the strictest behaviour wins (Error > Cascade > BreakLink).
			if precedence(behaviour, existing.behaviour) != existing.behaviour {
				existing.behaviour = behaviour
				existing.reason = reason
			}
			return
		}
		decisions[tid] = &deletionDecision{target: target, behaviour: behaviour, reason: reason}
	}

	family, hasFamily, err := db.familyInTx(tx, store)
	if err != nil {
		return err
	}
	if hasFamily {
		for _, child := range family.Children {
			if err := db.collectChildDecisions(tx, store, key, child, addDecision); err != nil {
				return err
			}
		}
		for _, sib := range family.Siblings {
			db.collectSiblingDecision(tx, store, key, sib, addDecision)
		}
	}
	if err := db.collectRelationDecisions(tx, plan, store, key, addDecision); err != nil {
		return err
	}

	return db.resolveDecisions(tx, plan, decisions)
}

// collectChildDecisions adds a decision for every entity in decl.Store
// whose key is prefixed by parentKey. BreakLink is not meaningful for
// children, since a child's key is derived from its parent's key rather
// than a separate edge that could be broken; those children simply
// survive, orphaned, and contribute no decision.
func (db *Db) collectChildDecisions(tx *engineTx, parentStore string, parentKey Key, decl DeclaredRelation, add func(EntityRef, DeletionBehaviour, string)) error {
	if decl.Behaviour == BreakLink {
		return nil
	}
	tree, ok := tx.TreeReadOnly(entitiesTree(decl.Store))
	if !ok {
		return nil
	}
	reason := fmt.Sprintf("declared child of %s (policy: %s)", parentStore, decl.Behaviour)
	tree.ScanPrefix(parentKey, func(k, _ []byte) bool {
		add(EntityRef{decl.Store, append(Key{}, k...)}, decl.Behaviour, reason)
		return true
	})
	return nil
}

// collectSiblingDecision adds a decision for the entity sharing key in
// decl.Store, if one exists.
func (db *Db) collectSiblingDecision(tx *engineTx, store string, key Key, decl DeclaredRelation, add func(EntityRef, DeletionBehaviour, string)) {
	if !db.existsInTx(tx, decl.Store, key) {
		return
	}
	add(EntityRef{decl.Store, append(Key{}, key...)}, decl.Behaviour,
		fmt.Sprintf("declared sibling of %s (policy: %s)", store, decl.Behaviour))
}

// collectRelationDecisions walks (store, key)'s own free relations
// (outgoing edges) and, for each one, also re-reads the peer's own
// EntityRelations to check the matching back-reference independently
// (the "incoming edge" check): under I2 a correctly-symmetric edge
// carries the same value both ways, but re-reading the peer's own copy
// catches drift left by a previously interrupted, non-atomic composite
// operation rather than silently trusting a stale local copy.
//
// The outgoing decision is driven by local_behaviour: the policy this
// side declared for what happens to the peer when this side is
// deleted. BreakLink edges (outgoing or incoming) are queued directly
// onto plan.toBreak rather than folded into the decision map, since
// breaking a link is never in conflict with a stricter Cascade/Error
// decision on the same target — precedence already prefers whichever
// of those wins, and the break is independently safe to queue either way.
func (db *Db) collectRelationDecisions(tx *engineTx, plan *DeletionPlan, store string, key Key, add func(EntityRef, DeletionBehaviour, string)) error {
	rel, err := db.getRelations(tx, store, key)
	if err != nil {
		return err
	}
	for _, r := range rel.Relations {
		peerKey := Key(r.PeerKey)
		target := EntityRef{r.PeerStore, append(Key{}, peerKey...)}

		switch r.LocalBehaviour {
		case Error:
			add(target, Error, fmt.Sprintf("related to %s via %q (policy: error)", store, orDefault(r.Name, "<unnamed>")))
		case Cascade:
			add(target, Cascade, fmt.Sprintf("related to %s via %q (policy: cascade)", store, orDefault(r.Name, "<unnamed>")))
		case BreakLink:
			plan.toBreak = append(plan.toBreak, EdgeRef{
				Store: store, Key: key,
				PeerStore: r.PeerStore, PeerKey: peerKey,
				Name: r.Name,
			})
		}

		peerRel, err := db.getRelations(tx, r.PeerStore, peerKey)
		if err != nil {
			return err
		}
		for _, back := range peerRel.Relations {
			if back.PeerStore != store || string(back.PeerKey) != string(key) || back.Name != r.Name {
				continue
			}
			switch back.PeerBehaviour {
			case Error:
				add(target, Error, fmt.Sprintf("incoming relation from %s via %q (policy: error)", store, orDefault(r.Name, "<unnamed>")))
			case BreakLink:
				plan.toBreak = append(plan.toBreak, EdgeRef{
					Store: store, Key: key,
					PeerStore: r.PeerStore, PeerKey: peerKey,
					Name: r.Name,
				})
			case Cascade:
				// The peer cascading onto us only matters when the peer
				// itself is being deleted; our own deletion already
				// removes our side regardless.
			}
			break
		}
	}
	return nil
}

// resolveDecisions applies the reduced, precedence-resolved decision for
// each target: any Error aborts the whole plan, otherwise every Cascade
// target is recursed into. Decisions are walked in sorted key order so
// that which blocker is reported is deterministic when more than one
// target would have blocked.
func (db *Db) resolveDecisions(tx *engineTx, plan *DeletionPlan, decisions map[string]*deletionDecision) error {
	ids := make([]string, 0, len(decisions))
	for id := range decisions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		d := decisions[id]
		if d.behaviour != Error {
			continue
		}
		if db.existsInTx(tx, d.target.Store, d.target.Key) {
			return &DeletionBlockedError{
				Store:  d.target.Store,
				Key:    hex.EncodeToString(d.target.Key),
				Reason: d.reason,
			}
		}
	}
	for _, id := range ids {
		d := decisions[id]
		if d.behaviour != Cascade {
			continue
		}
		if err := db.planVisit(tx, plan, d.target.Store, d.target.Key); err != nil {
			return err
		}
	}
	return nil
}

func (db *Db) familyInTx(tx *engineTx, store string) (FamilyDescriptor, bool, error) {
	var desc FamilyDescriptor
	tree, ok := tx.TreeReadOnly(familyTree)
	if !ok {
		return desc, false, nil
	}
	data := tree.Get([]byte(store))
	if data == nil {
		return desc, false, nil
	}
	if err := unmarshalJSON(data, &desc); err != nil {
		return desc, false, err
	}
	return desc, true, nil
}

func (db *Db) existsInTx(tx *engineTx, store string, key Key) bool {
	tree, ok := tx.TreeReadOnly(entitiesTree(store))
	if !ok {
		return false
	}
	return tree.Get(key) != nil
}

// Apply executes plan: breaking every BreakLink edge Plan discovered
// (on both sides), then deleting every entity in the cascade closure
// along with whatever relations it held, including reciprocal entries
// held by peers that fall outside the closure. Apply trusts plan as
// computed; it does not re-validate that nothing protected has since
// appeared. A single call to Apply is atomic within this process;
// guarding against a second process mutating the same keys between
// Plan and Apply requires WithDistributedLock.
func (db *Db) Apply(ctx context.Context, plan *DeletionPlan) error {
	return db.engine.Update(func(tx *engineTx) error {
		for _, e := range plan.toBreak {
			if err := db.removeRelation(tx, e.Store, e.Key, e.PeerStore, string(e.PeerKey), e.Name); err != nil {
				return err
			}
			if err := db.removeRelation(tx, e.PeerStore, e.PeerKey, e.Store, string(e.Key), e.Name); err != nil {
				return err
			}
		}
		for _, ent := range plan.toDelete {
			rel, err := db.getRelations(tx, ent.Store, ent.Key)
			if err != nil {
				return err
			}
			for _, r := range rel.Relations {
				peerKey := Key(r.PeerKey)
				if plan.visited[refID(r.PeerStore, peerKey)] {
					continue // peer is being deleted too; its own record goes with it
				}
				if err := db.removeRelation(tx, r.PeerStore, peerKey, ent.Store, string(ent.Key), r.Name); err != nil {
					return err
				}
			}
			if err := db.putRelations(tx, ent.Store, ent.Key, EntityRelations{}); err != nil {
				return err
			}
			tree, err := tx.Tree(entitiesTree(ent.Store))
			if err != nil {
				return err
			}
			if err := tree.Delete(ent.Key); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete plans and applies a deletion in one call, the common case for
// callers that don't need to inspect the plan before committing.
func (db *Db) Delete(ctx context.Context, store string, key Key) error {
	return db.withCompositeLock(ctx, refID(store, key), func() error {
		plan, err := db.Plan(ctx, store, key)
		if err != nil {
			if IsBlocked(err) {
				db.metrics.Increment(MetricDeletionBlocked, "store", store)
			}
			return err
		}
		if err := db.Apply(ctx, plan); err != nil {
			return err
		}
		db.metrics.Increment(MetricDeletionApplied, "store", store)
		db.metrics.Histogram(MetricDeletionCascaded, float64(len(plan.toDelete)), "store", store)
		return nil
	})
}
