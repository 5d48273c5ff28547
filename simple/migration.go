package simple

import (
	"encoding/json"
	"fmt"
	"sync"
)

// MigrationFunc transforms a decoded JSON object from one schema
// version to the next.
type MigrationFunc func(data map[string]interface{}) (map[string]interface{}, error)

type migrationStep struct {
	from int
	to   int
	fn   MigrationFunc
}

var (
	migrationsMu sync.Mutex
	migrations   = map[string][]migrationStep{}
)

// MigrationBuilder accumulates one migration step via its fluent From/To/Do
// calls, then registers it for typeName on Do.
type MigrationBuilder struct {
	typeName string
	from, to int
}

// Migrate starts declaring a migration for typeName (the Go struct
// name, not the store name), applied lazily by Collection.Get and
// Collection.Each: a step runs when a stored record's "_v" field (0 if
// absent) equals its From version, and steps chain until none matches.
// The collection's declared version is not consulted.
//
// Example:
//
//	simple.Migrate("Post").From(0).To(1).Do(func(data map[string]interface{}) (map[string]interface{}, error) {
//	    data["title"] = data["name"]
//	    delete(data, "name")
//	    data["_v"] = 1
//	    return data, nil
//	})
func Migrate(typeName string) *MigrationBuilder {
	return &MigrationBuilder{typeName: typeName}
}

// From sets the version a stored record must be at for this step to apply.
func (b *MigrationBuilder) From(v int) *MigrationBuilder {
	b.from = v
	return b
}

// To sets the version this step advances a record to.
func (b *MigrationBuilder) To(v int) *MigrationBuilder {
	b.to = v
	return b
}

// Do registers fn as the transform for this step.
func (b *MigrationBuilder) Do(fn MigrationFunc) {
	migrationsMu.Lock()
	defer migrationsMu.Unlock()
	migrations[b.typeName] = append(migrations[b.typeName], migrationStep{from: b.from, to: b.to, fn: fn})
}

// applyMigrations walks registered steps for typeName starting at the
// record's current "_v" (0 if absent), advancing one step at a time
// until no further matching step exists.
func applyMigrations(typeName string, data []byte) ([]byte, error) {
	migrationsMu.Lock()
	steps := migrations[typeName]
	migrationsMu.Unlock()
	if len(steps) == 0 {
		return data, nil
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return data, nil // not a JSON object; let the caller's own unmarshal surface the error
	}

	current := 0
	if v, ok := obj["_v"].(float64); ok {
		current = int(v)
	}

	for progressed := true; progressed; {
		progressed = false
		for _, step := range steps {
			if step.from != current {
				continue
			}
			next, err := step.fn(obj)
			if err != nil {
				return nil, fmt.Errorf("migrate %s from v%d to v%d: %w", typeName, step.from, step.to, err)
			}
			obj = next
			current = step.to
			progressed = true
			break
		}
	}

	return json.Marshal(obj)
}
