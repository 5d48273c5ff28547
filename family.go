package entitygraph

// DeletionBehaviour controls what happens to a referenced entity when
// the referencing side is deleted. When two behaviours conflict on the
// same edge (declared on both ends, or across multiple declared
// relations touching the same peer) Error takes precedence over
// Cascade, which takes precedence over BreakLink.
type DeletionBehaviour int

const (
	// BreakLink removes the reference but leaves the peer entity alone.
	BreakLink DeletionBehaviour = iota
	// Cascade deletes the peer entity too.
	Cascade
	// Error aborts the whole deletion if the peer entity still exists.
	Error
)

func (b DeletionBehaviour) String() string {
	switch b {
	case BreakLink:
		return "break_link"
	case Cascade:
		return "cascade"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// precedence returns the stricter of two behaviours under the
// Error > Cascade > BreakLink ordering.
func precedence(a, b DeletionBehaviour) DeletionBehaviour {
	if a > b {
		return a
	}
	return b
}

// DeclaredRelation names a store this family declares a structural
// (child or sibling) relationship to, along with the behaviour applied
// to that peer store's entities when this family's entity is deleted.
type DeclaredRelation struct {
	Store     string
	Behaviour DeletionBehaviour
}

// FamilyDescriptor is the per-type metadata describing one entity
// family: its storage name, schema version, and the children/siblings
// it declares. It is itself stored as JSON in the reserved __family__
// tree, keyed by store name, so the deletion engine and query layer can
// look up a family's structure without the caller's Go type.
type FamilyDescriptor struct {
	Name     string             `json:"name"`
	Version  int                `json:"version"`
	Children []DeclaredRelation `json:"children,omitempty"`
	Siblings []DeclaredRelation `json:"siblings,omitempty"`
}

// Child returns the declared child relation to store, if any.
func (f *FamilyDescriptor) Child(store string) (DeclaredRelation, bool) {
	for _, c := range f.Children {
		if c.Store == store {
			return c, true
		}
	}
	return DeclaredRelation{}, false
}

// Sibling returns the declared sibling relation to store, if any.
func (f *FamilyDescriptor) Sibling(store string) (DeclaredRelation, bool) {
	for _, s := range f.Siblings {
		if s.Store == store {
			return s, true
		}
	}
	return DeclaredRelation{}, false
}

const familyTree = "__family__"

// registerFamily writes desc into the __family__ tree. If a descriptor
// with the same name is already registered with different contents,
// registration fails with ErrRegistrationConflict rather than silently
// overwriting it, since a conflicting re-registration almost always
// means two different Go types have been given the same store name.
func (db *Db) registerFamily(desc FamilyDescriptor) error {
	return db.engine.Update(func(tx *engineTx) error {
		tree, err := tx.Tree(familyTree)
		if err != nil {
			return err
		}
		existing := tree.Get([]byte(desc.Name))
		if existing != nil {
			var prev FamilyDescriptor
			if err := unmarshalJSON(existing, &prev); err != nil {
				return err
			}
			if !familyEqual(prev, desc) {
				return WithContext(ErrRegistrationConflict, map[string]interface{}{
					"store": desc.Name,
				})
			}
			return nil
		}
		data, err := marshalJSON(desc)
		if err != nil {
			return err
		}
		return tree.Put([]byte(desc.Name), data)
	})
}

// getFamily loads the descriptor registered for store, or ok=false if
// no family with that name has ever been registered.
func (db *Db) getFamily(store string) (FamilyDescriptor, bool, error) {
	var desc FamilyDescriptor
	var found bool
	err := db.engine.View(func(tx *engineTx) error {
		tree, ok := tx.TreeReadOnly(familyTree)
		if !ok {
			return nil
		}
		data := tree.Get([]byte(store))
		if data == nil {
			return nil
		}
		found = true
		return unmarshalJSON(data, &desc)
	})
	return desc, found, err
}

func familyEqual(a, b FamilyDescriptor) bool {
	if a.Name != b.Name || a.Version != b.Version {
		return false
	}
	if len(a.Children) != len(b.Children) || len(a.Siblings) != len(b.Siblings) {
		return false
	}
	for i := range a.Children {
		if a.Children[i] != b.Children[i] {
			return false
		}
	}
	for i := range a.Siblings {
		if a.Siblings[i] != b.Siblings[i] {
			return false
		}
	}
	return true
}
