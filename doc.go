// Package entitygraph is an embedded entity/relation object store: an
// ordered key-value engine (go.etcd.io/bbolt) underneath a typed model
// of entities, their declared family relations (children and
// siblings), and free-standing named relations, with a two-phase
// Deletion Engine that plans a cascade before committing it.
//
// # Overview
//
// entitygraph provides:
//
//   - Per-type FamilyDescriptor registration: declared children and
//     siblings, each with an independent DeletionBehaviour
//   - CreateRelation/RemoveRelation for free-standing named edges
//     between any two entities, symmetric at rest
//   - A Deletion Engine (Plan then Apply) that walks the full cascade
//     closure before mutating anything, aborting cleanly if it meets
//     an Error-policy edge
//   - A QueryBuilder composing id, parent-prefix, and relation filters
//     without materialising intermediate results
//   - Import/export envelopes over pluggable sinks (filesystem, S3,
//     GCS, MinIO), optionally encrypted and circuit-breaker-wrapped
//   - Optional Redis-backed distributed locking for composite
//     operations shared across processes
//   - A read-only Doctor for detecting relation integrity drift
//   - Full observability (Prometheus metrics + structured zap logging)
//
// # Quick Start
//
//	db, err := entitygraph.Open("./app.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//	ctx := context.Background()
//
//	key, _ := db.SaveNext(ctx, "posts", []byte(`{"title":"hello"}`))
//	data, _ := db.Get(ctx, "posts", key)
//
// # Families and Deletion
//
// A type's family declares what happens to related data when an
// entity of that type is deleted:
//
//	db.RegisterFamily(entitygraph.FamilyDescriptor{
//	    Name: "posts",
//	    Children: []entitygraph.DeclaredRelation{
//	        {Store: "comments", Behaviour: entitygraph.Cascade},
//	    },
//	    Siblings: []entitygraph.DeclaredRelation{
//	        {Store: "post_stats", Behaviour: entitygraph.BreakLink},
//	    },
//	})
//
//	if err := db.Delete(ctx, "posts", postKey); err != nil {
//	    var blocked *entitygraph.DeletionBlockedError
//	    if errors.As(err, &blocked) {
//	        // an Error-policy child, sibling, or relation stood in the way
//	    }
//	}
//
// Plan and Apply are available separately when a caller needs to
// inspect the cascade closure before committing it:
//
//	plan, err := db.Plan(ctx, "posts", postKey)
//	// plan.Entities() lists everything Apply would delete
//	err = db.Apply(ctx, plan)
//
// # Relations
//
// Free-standing relations connect any two entities, independent of
// family declarations, with independent per-side deletion behaviours:
//
//	db.CreateRelation(ctx, "posts", postKey, "tags", tagKey, "tagged_with",
//	    entitygraph.BreakLink, entitygraph.Cascade)
//
//	tags, err := db.GetRelated(ctx, "posts", postKey, "tagged_with")
//
// # Querying
//
//	ids, err := db.Query("tags").
//	    WithRelationTo("posts", postKey).
//	    IDs(ctx)
//
//	children, err := db.Query("comments").WithParent(postKey).Get(ctx)
//
// # Import and Export
//
//	sink := export.NewFilesystemSink("./backups")
//	err := db.Export(ctx, sink, "posts-2024-01.json", "posts", nil)
//	err = db.Import(ctx, sink, "posts-2024-01.json", "posts")
//
// Sinks compose: wrap one in export.NewEncryptedSink for at-rest
// encryption, or export.NewBreakerSink to fail fast against a
// struggling network backend.
//
// # Distributed Locking
//
// A single process needs no coordination beyond bbolt's own
// transactions. Multiple processes sharing one database file should
// configure a distributed lock so Delete's plan-then-apply steps don't
// interleave across processes:
//
//	lock := entitygraph.NewDistributedLock(redisClient, "myapp")
//	db, err := entitygraph.Open("./app.db", entitygraph.WithDistributedLock(lock))
//
// # Integrity Sweeps
//
// The Deletion Engine's peer-side cleanup during Apply only touches
// the cascade closure it computed; a caller bypassing it with the raw
// Remove can leave a dangling relation record behind on some other
// entity. Doctor finds these without repairing them:
//
//	violations, err := entitygraph.NewDoctor(db).CheckRelationIntegrity("tags")
//
// # The simple Package
//
// Package simple layers a generic, reflection-driven Collection[T] on
// top of this Core API for callers who'd rather declare families via
// struct tags than hand-written RegisterFamily calls.
package entitygraph
