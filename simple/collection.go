package simple

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/nkoval/entitygraph"
)

// Collection provides type-safe CRUD operations for one store, with
// its family (children, siblings) and key field declared by struct
// tags on T rather than by hand-written RegisterFamily calls.
//
// Example:
//
//	type Post struct {
//	    ID    string `json:"id" eg:"id,name:posts,version:1,child:comments:cascade"`
//	    Title string `json:"title"`
//	}
//
//	posts := simple.NewCollection[Post](db)
//	post, err := posts.Create(ctx, &Post{Title: "hello"})
type Collection[T any] struct {
	db         *DB
	store      string
	version    int
	idField    string
	goTypeName string
	family     entitygraph.FamilyDescriptor
}

// tagSchema is what parseSchema extracts from T's struct tags.
type tagSchema struct {
	store    string
	version  int
	idField  string
	children []entitygraph.DeclaredRelation
	siblings []entitygraph.DeclaredRelation
}

// NewCollection creates a type-safe collection for T, inferring its
// store name from the type name (Post -> "posts") unless overridden by
// an `eg:"...,name:<store>"` tag or an explicit name argument, and
// registering T's family with db's underlying entitygraph.Db.
func NewCollection[T any](db *DB, name ...string) *Collection[T] {
	var zero T
	schema := parseSchema(zero)

	store := schema.store
	if store == "" {
		store = pluralize(typeName(zero))
	}
	if len(name) > 0 && name[0] != "" {
		store = name[0]
	}

	c := &Collection[T]{
		db:         db,
		store:      store,
		version:    schema.version,
		idField:    schema.idField,
		goTypeName: typeName(zero),
		family: entitygraph.FamilyDescriptor{
			Name:     store,
			Version:  schema.version,
			Children: schema.children,
			Siblings: schema.siblings,
		},
	}

	if len(schema.children) > 0 || len(schema.siblings) > 0 || schema.version > 0 {
		// Registration is idempotent for an unchanged descriptor. Its
		// error, including ErrRegistrationConflict for a changed
		// descriptor, is discarded: NewCollection still returns the
		// collection and the previously registered family stays in place.
		_ = db.core.RegisterFamily(c.family)
	}

	return c
}

func parseSchema(v interface{}) tagSchema {
	schema := tagSchema{idField: "ID"}
	typ := reflect.TypeOf(v)
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return schema
	}

	for i := 0; i < typ.NumField(); i++ {
		tag := typ.Field(i).Tag.Get("eg")
		if tag == "" {
			continue
		}
		for _, part := range strings.Split(tag, ",") {
			part = strings.TrimSpace(part)
			switch {
			case part == "id":
				schema.idField = typ.Field(i).Name
			case strings.HasPrefix(part, "name:"):
				schema.store = strings.TrimPrefix(part, "name:")
			case strings.HasPrefix(part, "version:"):
				if v, err := strconv.Atoi(strings.TrimPrefix(part, "version:")); err == nil {
					schema.version = v
				}
			case strings.HasPrefix(part, "child:"):
				if rel, ok := parseDeclaredRelation(strings.TrimPrefix(part, "child:")); ok {
					schema.children = append(schema.children, rel)
				}
			case strings.HasPrefix(part, "sibling:"):
				if rel, ok := parseDeclaredRelation(strings.TrimPrefix(part, "sibling:")); ok {
					schema.siblings = append(schema.siblings, rel)
				}
			}
		}
	}
	return schema
}

func parseDeclaredRelation(spec string) (entitygraph.DeclaredRelation, bool) {
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 {
		return entitygraph.DeclaredRelation{}, false
	}
	behaviour, ok := parseBehaviour(parts[1])
	if !ok {
		return entitygraph.DeclaredRelation{}, false
	}
	return entitygraph.DeclaredRelation{Store: parts[0], Behaviour: behaviour}, true
}

func parseBehaviour(s string) (entitygraph.DeletionBehaviour, bool) {
	switch s {
	case "cascade":
		return entitygraph.Cascade, true
	case "error":
		return entitygraph.Error, true
	case "break_link":
		return entitygraph.BreakLink, true
	default:
		return 0, false
	}
}

// Create stores a new item, generating an id via entitygraph.NewID if
// the id field is empty, and returns a copy with the id populated. The
// input is not mutated.
func (c *Collection[T]) Create(ctx context.Context, item *T) (*T, error) {
	if item == nil {
		return nil, fmt.Errorf("item cannot be nil")
	}
	created := c.copyItem(item)

	id := c.getID(created)
	if id == "" {
		id = entitygraph.NewID()
		c.setID(created, id)
	}

	data, err := json.Marshal(created)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", c.store, err)
	}
	if err := c.db.core.Save(ctx, c.store, entitygraph.StringID(id).EncodeKey(), data); err != nil {
		return nil, fmt.Errorf("create %s: %w", c.store, err)
	}
	return created, nil
}

// Get retrieves an item by id.
func (c *Collection[T]) Get(ctx context.Context, id string) (*T, error) {
	if id == "" {
		return nil, fmt.Errorf("id cannot be empty")
	}
	data, err := c.db.core.Get(ctx, c.store, entitygraph.StringID(id).EncodeKey())
	if err != nil {
		if entitygraph.IsNotFound(err) {
			return nil, fmt.Errorf("%s not found: %s", c.store, id)
		}
		return nil, err
	}
	data, err = applyMigrations(c.goTypeName, data)
	if err != nil {
		return nil, err
	}
	var item T
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", c.store, err)
	}
	return &item, nil
}

// Update overwrites an existing item. The item must have its id field
// set.
func (c *Collection[T]) Update(ctx context.Context, item *T) error {
	if item == nil {
		return fmt.Errorf("item cannot be nil")
	}
	id := c.getID(item)
	if id == "" {
		return fmt.Errorf("item must have %s set", c.idField)
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", c.store, err)
	}
	return c.db.core.Save(ctx, c.store, entitygraph.StringID(id).EncodeKey(), data)
}

// Delete removes an item and everything the family descriptor says
// should cascade with it, via the Deletion Engine.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}
	return c.db.core.Delete(ctx, c.store, entitygraph.StringID(id).EncodeKey())
}

// Atomic performs a read-modify-write cycle under the distributed
// lock, so concurrent callers across processes can't interleave
// updates to the same item. Requires a DB constructed with Redis
// available.
func (c *Collection[T]) Atomic(ctx context.Context, id string, timeout time.Duration, fn func(*T) error) error {
	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}
	if c.db.lock == nil {
		return fmt.Errorf("distributed lock not available - redis required")
	}
	key := fmt.Sprintf("%s:%s", c.store, id)

	release, err := c.db.lock.LockWithRetry(ctx, key, timeout)
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer release()

	item, err := c.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(item); err != nil {
		return err
	}
	return c.Update(ctx, item)
}

// ChildrenOf returns every item in this collection whose key is
// prefixed by parentID, i.e. parentID's declared children here. Only
// meaningful when this collection's items are created via SaveNextChild
// under that parent's key, rather than with an independent id.
func (c *Collection[T]) ChildrenOf(ctx context.Context, parentID string) ([]*T, error) {
	var out []*T
	var ferr error
	err := c.db.core.GetChildren(ctx, c.store, entitygraph.StringID(parentID).EncodeKey(), func(_ entitygraph.Key, data []byte) bool {
		var item T
		if err := json.Unmarshal(data, &item); err != nil {
			ferr = fmt.Errorf("unmarshal %s: %w", c.store, err)
			return false
		}
		out = append(out, &item)
		return true
	})
	if ferr != nil {
		return nil, ferr
	}
	return out, err
}

// All returns every item in the collection. Loads everything into
// memory; use Each for large collections.
func (c *Collection[T]) All(ctx context.Context) ([]*T, error) {
	var items []*T
	err := c.Each(ctx, func(item *T) error {
		items = append(items, item)
		return nil
	})
	return items, err
}

// Each calls handler for every item, in ascending key order, stopping
// early if handler returns an error.
func (c *Collection[T]) Each(ctx context.Context, handler func(*T) error) error {
	return c.db.core.ForEach(ctx, c.store, func(_ entitygraph.Key, data []byte) (bool, error) {
		migrated, err := applyMigrations(c.goTypeName, data)
		if err != nil {
			return false, err
		}
		var item T
		if err := json.Unmarshal(migrated, &item); err != nil {
			return false, fmt.Errorf("unmarshal %s: %w", c.store, err)
		}
		if err := handler(&item); err != nil {
			return false, err
		}
		return true, nil
	})
}

// Count returns the number of items in the collection.
func (c *Collection[T]) Count(ctx context.Context) (int, error) {
	return c.db.core.Count(ctx, c.store)
}

func (c *Collection[T]) getID(item *T) string {
	val := reflect.ValueOf(item).Elem()
	field := val.FieldByName(c.idField)
	if !field.IsValid() {
		return ""
	}
	return field.String()
}

func (c *Collection[T]) setID(item *T, id string) {
	val := reflect.ValueOf(item).Elem()
	field := val.FieldByName(c.idField)
	if field.IsValid() && field.CanSet() {
		field.SetString(id)
	}
}

func (c *Collection[T]) copyItem(item *T) *T {
	data, err := json.Marshal(item)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal item: %v", err))
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("failed to unmarshal item: %v", err))
	}
	return &out
}

func typeName(v interface{}) string {
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

func pluralize(s string) string {
	lower := strings.ToLower(s)

	irregulars := map[string]string{
		"person": "people",
		"child":  "children",
		"goose":  "geese",
		"tooth":  "teeth",
		"foot":   "feet",
		"mouse":  "mice",
	}
	if plural, ok := irregulars[lower]; ok {
		return plural
	}

	if len(lower) > 1 && lower[len(lower)-1] == 'y' && !isVowel(rune(lower[len(lower)-2])) {
		return lower[:len(lower)-1] + "ies"
	}
	if strings.HasSuffix(lower, "s") || strings.HasSuffix(lower, "x") ||
		strings.HasSuffix(lower, "z") || strings.HasSuffix(lower, "ch") ||
		strings.HasSuffix(lower, "sh") {
		return lower + "es"
	}
	return lower + "s"
}

func isVowel(r rune) bool {
	return r == 'a' || r == 'e' || r == 'i' || r == 'o' || r == 'u'
}
