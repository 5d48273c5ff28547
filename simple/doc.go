// Package simple provides a high-level, batteries-included API on top
// of entitygraph's Core API.
//
// # Philosophy
//
// The Simple API trades fine-grained control for developer experience:
// it plays the role of the "equivalent manual boilerplate" a
// compile-time schema generator would otherwise emit (spec §9), using
// struct tags instead of a code generation step.
//
//   - Automatic configuration from environment variables
//   - Type-safe CRUD operations using generics
//   - Family (children/siblings) declared via struct tags, not
//     hand-written RegisterFamily calls
//   - Graceful degradation when Redis is unavailable (Atomic just
//     becomes unavailable; everything else still works)
//
// # Quick Start
//
//	type Post struct {
//	    ID    string `json:"id" eg:"id,name:posts,version:1"`
//	    Title string `json:"title"`
//	}
//
//	db := simple.MustConnect()
//	defer db.Close()
//
//	posts := simple.NewCollection[Post](db)
//	post, err := posts.Create(ctx, &Post{Title: "hello"})
//
// # Struct Tags
//
// One `eg:"..."` tag, comma-separated, configures a type's family:
//
//   - id - marks this field as the key field (defaults to a field
//     named ID if no field carries this tag)
//   - name:<store> - overrides the inferred (pluralized) store name
//   - version:<n> - the family's schema version, stored on its
//     FamilyDescriptor (Migrate does not read it)
//   - child:<store>:<behaviour> - declares store as a child, where
//     behaviour is cascade, error, or break_link
//   - sibling:<store>:<behaviour> - declares store as a sibling
//
// Example:
//
//	type Post struct {
//	    ID    string `json:"id" eg:"id,name:posts,version:1,child:comments:cascade,sibling:post_stats:break_link"`
//	    Title string `json:"title"`
//	}
//
// # Configuration
//
//   - ENTITYGRAPH_PATH: database file path (default: "./data/entitygraph.db")
//   - REDIS_ADDR: Redis address enabling Collection.Atomic (default: "localhost:6379")
//
// # Error Handling
//
//	db, err := simple.Connect()    // returns an error, for production use
//	db := simple.MustConnect()     // panics on error, for demos/prototypes
//
// # Escape Hatches
//
//	core := db.Core()
//	ids, err := core.Query("posts").WithParent(parentKey).IDs(ctx)
//
//	lock := db.Lock()
//	release, err := lock.Lock(ctx, "critical-section")
//
// # Collection Naming
//
//	NewCollection[Post](db)    // -> "posts"
//	NewCollection[Person](db)  // -> "people"
//	NewCollection[Post](db, "articles")  // -> "articles"
//
// # Immutability
//
// Create returns a new object with its id populated, leaving the input
// unchanged:
//
//	post := &Post{Title: "hello"}
//	created, err := posts.Create(ctx, post)
//	// post.ID == ""        (unchanged)
//	// created.ID == "..."  (populated)
//
// # Schema Versioning
//
// simple.Migrate registers a lazy transform applied on read whenever a
// stored record's "_v" field (0 if absent) equals the step's From
// version:
//
//	simple.Migrate("Post").From(0).To(1).Do(func(data map[string]interface{}) (map[string]interface{}, error) {
//	    data["title"] = data["name"]
//	    delete(data, "name")
//	    data["_v"] = 1
//	    return data, nil
//	})
//
// # When to Use Simple vs Core API
//
// Use Simple when building on a handful of well-known types and
// startup-time reflection is a non-issue. Use the Core API directly
// when you need explicit control over transactions, queries spanning
// multiple relation constraints, or you're building a library on top
// of entitygraph. Both can be used together: Simple is built on the
// Core API and always exposes it via Core().
package simple
