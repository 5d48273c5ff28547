package entitygraph

import "encoding/hex"

// Doctor runs read-only integrity sweeps over a Db, surfacing drift
// such as the dangling relation records left behind when an entity is
// deleted with the raw Remove instead of the Deletion Engine.
type Doctor struct {
	db *Db
}

// NewDoctor wraps db for integrity checking.
func NewDoctor(db *Db) *Doctor {
	return &Doctor{db: db}
}

// Violation describes one dangling relation found during a sweep: an
// entity in Store/Key holds a relation record pointing at PeerStore/
// PeerKey, but no entity exists there anymore.
type Violation struct {
	Store     string
	Key       string // hex-encoded
	PeerStore string
	PeerKey   string // hex-encoded
	Name      string
}

// CheckRelationIntegrity scans every relation record owned by store
// and reports every one whose peer no longer exists. It does not
// repair anything; callers decide whether to RemoveRelation the
// dangling side or treat it as a startup-time warning.
func (d *Doctor) CheckRelationIntegrity(store string) ([]Violation, error) {
	var violations []Violation
	err := d.db.engine.View(func(tx *engineTx) error {
		tree, ok := tx.TreeReadOnly(relationsTreeName(store))
		if !ok {
			return nil
		}
		var ferr error
		tree.ForEach(func(k, v []byte) bool {
			var rel EntityRelations
			if err := unmarshalJSON(v, &rel); err != nil {
				ferr = err
				return false
			}
			for _, r := range rel.Relations {
				if d.db.existsInTx(tx, r.PeerStore, Key(r.PeerKey)) {
					continue
				}
				violations = append(violations, Violation{
					Store:     store,
					Key:       hex.EncodeToString(k),
					PeerStore: r.PeerStore,
					PeerKey:   hex.EncodeToString([]byte(r.PeerKey)),
					Name:      r.Name,
				})
			}
			return true
		})
		return ferr
	})
	if err != nil {
		return nil, err
	}
	d.db.metrics.Increment(MetricDoctorScans, "store", store)
	if len(violations) > 0 {
		d.db.metrics.Gauge(MetricDoctorViolations, float64(len(violations)), "store", store)
		d.db.logger.Warn("relation integrity violations found", "store", store, "count", len(violations))
	}
	return violations, nil
}
