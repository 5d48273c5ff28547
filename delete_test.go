package entitygraph

import (
	"context"
	"testing"
)

func mustSave(t *testing.T, db *Db, store string, key Key, data string) {
	t.Helper()
	if err := db.Save(context.Background(), store, key, []byte(data)); err != nil {
		t.Fatalf("Save(%s, %x) error = %v", store, key, err)
	}
}

func TestDeleteCascadesDeclaredChildren(t *testing.T) {
	db := openTestDb(t)
	ctx := context.Background()

	if err := db.RegisterFamily(FamilyDescriptor{
		Name:     "posts",
		Children: []DeclaredRelation{{Store: "comments", Behaviour: Cascade}},
	}); err != nil {
		t.Fatalf("RegisterFamily() error = %v", err)
	}

	postKey := Uint32ID(1).EncodeKey()
	mustSave(t, db, "posts", postKey, `{}`)
	childKey, err := db.SaveNextChild(ctx, "comments", postKey, []byte(`{}`))
	if err != nil {
		t.Fatalf("SaveNextChild() error = %v", err)
	}

	if err := db.Delete(ctx, "posts", postKey); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if exists, _ := db.Exists(ctx, "posts", postKey); exists {
		t.Error("expected post to be deleted")
	}
	if exists, _ := db.Exists(ctx, "comments", childKey); exists {
		t.Error("expected cascaded child comment to be deleted")
	}
}

func TestDeleteBlockedByDeclaredChildError(t *testing.T) {
	db := openTestDb(t)
	ctx := context.Background()

	if err := db.RegisterFamily(FamilyDescriptor{
		Name:     "posts",
		Children: []DeclaredRelation{{Store: "comments", Behaviour: Error}},
	}); err != nil {
		t.Fatalf("RegisterFamily() error = %v", err)
	}

	postKey := Uint32ID(1).EncodeKey()
	mustSave(t, db, "posts", postKey, `{}`)
	if _, err := db.SaveNextChild(ctx, "comments", postKey, []byte(`{}`)); err != nil {
		t.Fatalf("SaveNextChild() error = %v", err)
	}

	err := db.Delete(ctx, "posts", postKey)
	if !IsBlocked(err) {
		t.Errorf("Delete() error = %v, want a blocked error", err)
	}
	if exists, _ := db.Exists(ctx, "posts", postKey); !exists {
		t.Error("expected post to survive a blocked delete")
	}
}

func TestDeleteBreaksDeclaredChildLink(t *testing.T) {
	db := openTestDb(t)
	ctx := context.Background()

	if err := db.RegisterFamily(FamilyDescriptor{
		Name:     "posts",
		Children: []DeclaredRelation{{Store: "comments", Behaviour: BreakLink}},
	}); err != nil {
		t.Fatalf("RegisterFamily() error = %v", err)
	}

	postKey := Uint32ID(1).EncodeKey()
	mustSave(t, db, "posts", postKey, `{}`)
	childKey, err := db.SaveNextChild(ctx, "comments", postKey, []byte(`{}`))
	if err != nil {
		t.Fatalf("SaveNextChild() error = %v", err)
	}

	if err := db.Delete(ctx, "posts", postKey); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if exists, _ := db.Exists(ctx, "comments", childKey); !exists {
		t.Error("expected orphaned child comment to survive a BreakLink delete")
	}
}

func TestDeleteCascadesDeclaredSibling(t *testing.T) {
	db := openTestDb(t)
	ctx := context.Background()

	if err := db.RegisterFamily(FamilyDescriptor{
		Name:     "posts",
		Siblings: []DeclaredRelation{{Store: "post_stats", Behaviour: Cascade}},
	}); err != nil {
		t.Fatalf("RegisterFamily() error = %v", err)
	}
	if err := db.RegisterFamily(FamilyDescriptor{
		Name:     "post_stats",
		Siblings: []DeclaredRelation{{Store: "posts", Behaviour: BreakLink}},
	}); err != nil {
		t.Fatalf("RegisterFamily() error = %v", err)
	}

	key := Uint32ID(1).EncodeKey()
	mustSave(t, db, "posts", key, `{}`)
	if err := db.SaveSibling(ctx, "posts", key, "post_stats", []byte(`{}`)); err != nil {
		t.Fatalf("SaveSibling() error = %v", err)
	}

	if err := db.Delete(ctx, "posts", key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if exists, _ := db.Exists(ctx, "post_stats", key); exists {
		t.Error("expected sibling post_stats row to be cascaded away")
	}
}

func TestDeleteBlockedByDeclaredSiblingError(t *testing.T) {
	db := openTestDb(t)
	ctx := context.Background()

	if err := db.RegisterFamily(FamilyDescriptor{
		Name:     "posts",
		Siblings: []DeclaredRelation{{Store: "post_stats", Behaviour: Error}},
	}); err != nil {
		t.Fatalf("RegisterFamily() error = %v", err)
	}
	if err := db.RegisterFamily(FamilyDescriptor{
		Name:     "post_stats",
		Siblings: []DeclaredRelation{{Store: "posts", Behaviour: BreakLink}},
	}); err != nil {
		t.Fatalf("RegisterFamily() error = %v", err)
	}

	key := Uint32ID(1).EncodeKey()
	mustSave(t, db, "posts", key, `{}`)
	if err := db.SaveSibling(ctx, "posts", key, "post_stats", []byte(`{}`)); err != nil {
		t.Fatalf("SaveSibling() error = %v", err)
	}

	err := db.Delete(ctx, "posts", key)
	if !IsBlocked(err) {
		t.Errorf("Delete() error = %v, want a blocked error", err)
	}
}

func TestDeleteFreeRelationCascade(t *testing.T) {
	db := openTestDb(t)
	ctx := context.Background()

	postKey := Uint32ID(1).EncodeKey()
	tagKey := Uint32ID(2).EncodeKey()
	mustSave(t, db, "posts", postKey, `{}`)
	mustSave(t, db, "tags", tagKey, `{}`)

	if err := db.CreateRelation(ctx, "posts", postKey, "tags", tagKey, "owns", Cascade, BreakLink); err != nil {
		t.Fatalf("CreateRelation() error = %v", err)
	}

	if err := db.Delete(ctx, "posts", postKey); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if exists, _ := db.Exists(ctx, "tags", tagKey); exists {
		t.Error("expected tag to be cascaded away with its owning post")
	}
}

func TestDeleteFreeRelationError(t *testing.T) {
	db := openTestDb(t)
	ctx := context.Background()

	postKey := Uint32ID(1).EncodeKey()
	tagKey := Uint32ID(2).EncodeKey()
	mustSave(t, db, "posts", postKey, `{}`)
	mustSave(t, db, "tags", tagKey, `{}`)

	if err := db.CreateRelation(ctx, "posts", postKey, "tags", tagKey, "owns", Error, BreakLink); err != nil {
		t.Fatalf("CreateRelation() error = %v", err)
	}

	err := db.Delete(ctx, "posts", postKey)
	if !IsBlocked(err) {
		t.Errorf("Delete() error = %v, want a blocked error", err)
	}
}

func TestDeleteFreeRelationBreakLinkRemovesReciprocal(t *testing.T) {
	db := openTestDb(t)
	ctx := context.Background()

	postKey := Uint32ID(1).EncodeKey()
	tagKey := Uint32ID(2).EncodeKey()
	mustSave(t, db, "posts", postKey, `{}`)
	mustSave(t, db, "tags", tagKey, `{}`)

	if err := db.CreateRelation(ctx, "posts", postKey, "tags", tagKey, "owns", BreakLink, BreakLink); err != nil {
		t.Fatalf("CreateRelation() error = %v", err)
	}

	if err := db.Delete(ctx, "posts", postKey); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if exists, _ := db.Exists(ctx, "tags", tagKey); !exists {
		t.Error("expected tag to survive a BreakLink delete")
	}
	rels, err := db.GetRelated(ctx, "tags", tagKey, "owns")
	if err != nil {
		t.Fatalf("GetRelated() error = %v", err)
	}
	if len(rels) != 0 {
		t.Errorf("expected tag's reciprocal relation to post to be cleaned up, got %+v", rels)
	}
}

func TestDeleteCycleSafe(t *testing.T) {
	db := openTestDb(t)
	ctx := context.Background()

	a := Uint32ID(1).EncodeKey()
	b := Uint32ID(2).EncodeKey()
	mustSave(t, db, "nodes", a, `{}`)
	mustSave(t, db, "nodes", b, `{}`)

	if err := db.CreateRelation(ctx, "nodes", a, "nodes", b, "next", Cascade, Cascade); err != nil {
		t.Fatalf("CreateRelation(a->b) error = %v", err)
	}

	plan, err := db.Plan(ctx, "nodes", a)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(plan.Entities()) != 2 {
		t.Errorf("Plan() visited %d entities, want exactly 2 (a and b, no infinite cycle)", len(plan.Entities()))
	}

	if err := db.Apply(ctx, plan); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if exists, _ := db.Exists(ctx, "nodes", a); exists {
		t.Error("expected a to be deleted")
	}
	if exists, _ := db.Exists(ctx, "nodes", b); exists {
		t.Error("expected b to be deleted via cascade")
	}
}

func TestPrecedenceAppliesStrictestPolicyOnConflict(t *testing.T) {
	db := openTestDb(t)
	ctx := context.Background()

	// "tags" is reachable from "posts" two ways at the same key: as a
	// declared Cascade sibling, and as the peer of a free relation
	// declared Error. The same peer reached via two conflicting
	// declared paths must resolve to the stricter policy (Error), even
	// though the sibling pass alone would have cascaded cleanly.
	if err := db.RegisterFamily(FamilyDescriptor{
		Name:     "posts",
		Siblings: []DeclaredRelation{{Store: "tags", Behaviour: Cascade}},
	}); err != nil {
		t.Fatalf("RegisterFamily() error = %v", err)
	}
	if err := db.RegisterFamily(FamilyDescriptor{
		Name:     "tags",
		Siblings: []DeclaredRelation{{Store: "posts", Behaviour: BreakLink}},
	}); err != nil {
		t.Fatalf("RegisterFamily() error = %v", err)
	}

	postKey := Uint32ID(1).EncodeKey()
	mustSave(t, db, "posts", postKey, `{}`)
	if err := db.SaveSibling(ctx, "posts", postKey, "tags", []byte(`{}`)); err != nil {
		t.Fatalf("SaveSibling() error = %v", err)
	}
	if err := db.CreateRelation(ctx, "posts", postKey, "tags", postKey, "owns", Error, BreakLink); err != nil {
		t.Fatalf("CreateRelation() error = %v", err)
	}

	err := db.Delete(ctx, "posts", postKey)
	if !IsBlocked(err) {
		t.Errorf("Delete() error = %v, want blocked by the stricter Error policy winning the conflict", err)
	}
	if exists, _ := db.Exists(ctx, "posts", postKey); !exists {
		t.Error("expected post to survive a blocked delete")
	}
}
