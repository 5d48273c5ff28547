package entitygraph

import (
	"context"
	"testing"
)

func TestSaveGetRemove(t *testing.T) {
	db := openTestDb(t)
	ctx := context.Background()
	key := Uint32ID(1).EncodeKey()

	if err := db.Save(ctx, "posts", key, []byte(`{"title":"hello"}`)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	data, err := db.Get(ctx, "posts", key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(data) != `{"title":"hello"}` {
		t.Errorf("Get() = %s, want %s", data, `{"title":"hello"}`)
	}

	exists, err := db.Exists(ctx, "posts", key)
	if err != nil || !exists {
		t.Errorf("Exists() = %v, %v, want true, nil", exists, err)
	}

	if err := db.Remove(ctx, "posts", key); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := db.Get(ctx, "posts", key); !IsNotFound(err) {
		t.Errorf("Get() after Remove() error = %v, want ErrNotFound", err)
	}
}

func TestGetNotFound(t *testing.T) {
	db := openTestDb(t)
	_, err := db.Get(context.Background(), "posts", Uint32ID(1).EncodeKey())
	if !IsNotFound(err) {
		t.Errorf("Get() on empty store error = %v, want ErrNotFound", err)
	}
}

func TestSaveNextAssignsIncreasingIDs(t *testing.T) {
	db := openTestDb(t)
	ctx := context.Background()

	k1, err := db.SaveNext(ctx, "posts", []byte("a"))
	if err != nil {
		t.Fatalf("SaveNext() error = %v", err)
	}
	k2, err := db.SaveNext(ctx, "posts", []byte("b"))
	if err != nil {
		t.Fatalf("SaveNext() error = %v", err)
	}

	v1, _ := decodeUint32Suffix(k1)
	v2, _ := decodeUint32Suffix(k2)
	if v1 != 0 || v2 != 1 {
		t.Errorf("SaveNext() ids = %d, %d, want 0, 1", v1, v2)
	}

	n, err := db.Count(ctx, "posts")
	if err != nil || n != 2 {
		t.Errorf("Count() = %d, %v, want 2, nil", n, err)
	}
}

func TestSaveNextChildScopedToParent(t *testing.T) {
	db := openTestDb(t)
	ctx := context.Background()

	parentA := Uint32ID(1).EncodeKey()
	parentB := Uint32ID(2).EncodeKey()

	childA1, err := db.SaveNextChild(ctx, "comments", parentA, []byte("a1"))
	if err != nil {
		t.Fatalf("SaveNextChild() error = %v", err)
	}
	childA2, err := db.SaveNextChild(ctx, "comments", parentA, []byte("a2"))
	if err != nil {
		t.Fatalf("SaveNextChild() error = %v", err)
	}
	childB1, err := db.SaveNextChild(ctx, "comments", parentB, []byte("b1"))
	if err != nil {
		t.Fatalf("SaveNextChild() error = %v", err)
	}

	localA1, _ := decodeUint32Suffix(childA1)
	localA2, _ := decodeUint32Suffix(childA2)
	localB1, _ := decodeUint32Suffix(childB1)
	if localA1 != 0 || localA2 != 1 {
		t.Errorf("local ids under parentA = %d, %d, want 0, 1", localA1, localA2)
	}
	if localB1 != 0 {
		t.Errorf("local id under parentB = %d, want 0 (independent sequence)", localB1)
	}

	var seen []string
	err = db.GetChildren(ctx, "comments", parentA, func(key Key, data []byte) bool {
		seen = append(seen, string(data))
		return true
	})
	if err != nil {
		t.Fatalf("GetChildren() error = %v", err)
	}
	if len(seen) != 2 {
		t.Errorf("GetChildren(parentA) returned %d entries, want 2", len(seen))
	}
}

func TestCreateRelationIsSymmetric(t *testing.T) {
	db := openTestDb(t)
	ctx := context.Background()

	postKey := Uint32ID(1).EncodeKey()
	tagKey := Uint32ID(2).EncodeKey()

	err := db.CreateRelation(ctx, "posts", postKey, "tags", tagKey, "tagged_with", BreakLink, BreakLink)
	if err != nil {
		t.Fatalf("CreateRelation() error = %v", err)
	}

	related, err := db.IsRelatedTo(ctx, "posts", postKey, "tags", tagKey, "tagged_with")
	if err != nil || !related {
		t.Errorf("IsRelatedTo(post->tag) = %v, %v, want true, nil", related, err)
	}
	relatedBack, err := db.IsRelatedTo(ctx, "tags", tagKey, "posts", postKey, "tagged_with")
	if err != nil || !relatedBack {
		t.Errorf("IsRelatedTo(tag->post) = %v, %v, want true, nil", relatedBack, err)
	}

	if err := db.RemoveRelation(ctx, "posts", postKey, "tags", tagKey, "tagged_with"); err != nil {
		t.Fatalf("RemoveRelation() error = %v", err)
	}
	related, _ = db.IsRelatedTo(ctx, "posts", postKey, "tags", tagKey, "tagged_with")
	if related {
		t.Error("expected relation to be gone from both sides after RemoveRelation")
	}
	relatedBack, _ = db.IsRelatedTo(ctx, "tags", tagKey, "posts", postKey, "tagged_with")
	if relatedBack {
		t.Error("expected reciprocal relation to be gone after RemoveRelation")
	}
}

func TestGetEachPreservesOrderAndSkipsMissing(t *testing.T) {
	db := openTestDb(t)
	ctx := context.Background()

	k1 := Uint32ID(1).EncodeKey()
	k2 := Uint32ID(2).EncodeKey()
	k3 := Uint32ID(3).EncodeKey()
	mustSave(t, db, "posts", k1, "one")
	mustSave(t, db, "posts", k3, "three")

	got, err := db.GetEach(ctx, "posts", []Key{k3, k2, k1})
	if err != nil {
		t.Fatalf("GetEach() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetEach() returned %d entries, want 2 (k2 missing)", len(got))
	}
	if string(got[0]) != "three" || string(got[1]) != "one" {
		t.Errorf("GetEach() = %q, want input order [three, one]", got)
	}
}

func TestForEachVisitsEveryEntryInKeyOrder(t *testing.T) {
	db := openTestDb(t)
	ctx := context.Background()

	mustSave(t, db, "posts", Uint32ID(2).EncodeKey(), "b")
	mustSave(t, db, "posts", Uint32ID(1).EncodeKey(), "a")

	var seen []string
	err := db.ForEach(ctx, "posts", func(_ Key, data []byte) (bool, error) {
		seen = append(seen, string(data))
		return true, nil
	})
	if err != nil {
		t.Fatalf("ForEach() error = %v", err)
	}
	if len(seen) != 2 || seen[0] != "a" || seen[1] != "b" {
		t.Errorf("ForEach() visited = %v, want [a b] in ascending key order", seen)
	}
}

func TestSaveSiblingValidatesMutualDeclaration(t *testing.T) {
	db := openTestDb(t)
	ctx := context.Background()

	if err := db.RegisterFamily(FamilyDescriptor{
		Name:     "entity_1",
		Siblings: []DeclaredRelation{{Store: "entity_3", Behaviour: Cascade}},
	}); err != nil {
		t.Fatalf("RegisterFamily() error = %v", err)
	}

	key := Uint32ID(0).EncodeKey()
	mustSave(t, db, "entity_1", key, `{}`)

	// entity_3 has not declared entity_1 as a sibling, so I4 is violated.
	err := db.SaveSibling(ctx, "entity_1", key, "entity_3", []byte(`{}`))
	if !IsInvalidRelation(err) {
		t.Fatalf("SaveSibling() error = %v, want ErrInvalidRelation", err)
	}

	if err := db.RegisterFamily(FamilyDescriptor{
		Name:     "entity_3",
		Siblings: []DeclaredRelation{{Store: "entity_1", Behaviour: Error}},
	}); err != nil {
		t.Fatalf("RegisterFamily() error = %v", err)
	}

	if err := db.SaveSibling(ctx, "entity_1", key, "entity_3", []byte(`{}`)); err != nil {
		t.Fatalf("SaveSibling() error = %v, want success once both sides declare each other", err)
	}
	exists, err := db.Exists(ctx, "entity_3", key)
	if err != nil || !exists {
		t.Errorf("Exists(entity_3, key) = %v, %v, want true, nil", exists, err)
	}
}

func TestNamedRelationReadHelpers(t *testing.T) {
	db := openTestDb(t)
	ctx := context.Background()

	postKey := Uint32ID(1).EncodeKey()
	tagKey := Uint32ID(2).EncodeKey()
	if err := db.CreateRelation(ctx, "posts", postKey, "tags", tagKey, "owns", BreakLink, BreakLink); err != nil {
		t.Fatalf("CreateRelation() error = %v", err)
	}

	rels, err := db.GetRelatedWithName(ctx, "posts", postKey, "owns")
	if err != nil || len(rels) != 1 {
		t.Fatalf("GetRelatedWithName() = %+v, %v, want 1 relation", rels, err)
	}

	single, err := db.GetSingleRelatedWithName(ctx, "posts", postKey, "owns")
	if err != nil || single.PeerStore != "tags" {
		t.Fatalf("GetSingleRelatedWithName() = %+v, %v", single, err)
	}

	if _, err := db.GetSingleRelatedWithName(ctx, "posts", postKey, "nope"); !IsNotFound(err) {
		t.Errorf("GetSingleRelatedWithName() on missing name error = %v, want ErrNotFound", err)
	}

	related, err := db.IsRelatedToWithName(ctx, "posts", postKey, "tags", tagKey, "owns")
	if err != nil || !related {
		t.Errorf("IsRelatedToWithName() = %v, %v, want true, nil", related, err)
	}
	if related, _ := db.IsRelatedToWithName(ctx, "posts", postKey, "tags", tagKey, "wrong_name"); related {
		t.Error("IsRelatedToWithName() with mismatched name = true, want false")
	}

	relatedAny, err := db.IsRelatedToWithAnyName(ctx, "posts", postKey, "tags", tagKey)
	if err != nil || !relatedAny {
		t.Errorf("IsRelatedToWithAnyName() = %v, %v, want true, nil", relatedAny, err)
	}
}

func TestAdoptAsNextChildRewritesKeyAndBackReferences(t *testing.T) {
	db := openTestDb(t)
	ctx := context.Background()

	if err := db.RegisterFamily(FamilyDescriptor{
		Name:     "child_entity_1",
		Children: []DeclaredRelation{{Store: "grandchild", Behaviour: Cascade}},
	}); err != nil {
		t.Fatalf("RegisterFamily() error = %v", err)
	}

	oldParentKey := Uint32ID(3).EncodeKey()
	newParentKey := Uint32ID(1).EncodeKey()
	mustSave(t, db, "entity_2", newParentKey, `{"parent":true}`)

	childKey, err := db.SaveNextChild(ctx, "child_entity_1", oldParentKey, []byte(`{"child":true}`))
	if err != nil {
		t.Fatalf("SaveNextChild() error = %v", err)
	}

	peerKey := Uint32ID(9).EncodeKey()
	mustSave(t, db, "entity_3", peerKey, `{}`)
	if err := db.CreateRelation(ctx, "child_entity_1", childKey, "entity_3", peerKey, "ref", BreakLink, BreakLink); err != nil {
		t.Fatalf("CreateRelation() error = %v", err)
	}

	grandchildKey, err := db.SaveNextChild(ctx, "grandchild", childKey, []byte(`{"gc":true}`))
	if err != nil {
		t.Fatalf("SaveNextChild(grandchild) error = %v", err)
	}

	newChildKey, err := db.AdoptAsNextChild(ctx, "entity_2", newParentKey, "child_entity_1", childKey)
	if err != nil {
		t.Fatalf("AdoptAsNextChild() error = %v", err)
	}

	if exists, _ := db.Exists(ctx, "child_entity_1", childKey); exists {
		t.Error("expected old child row to be gone after adoption")
	}
	data, err := db.Get(ctx, "child_entity_1", newChildKey)
	if err != nil || string(data) != `{"child":true}` {
		t.Errorf("Get(newChildKey) = %s, %v, want the child's original value", data, err)
	}

	related, err := db.IsRelatedToWithAnyName(ctx, "child_entity_1", newChildKey, "entity_3", peerKey)
	if err != nil || !related {
		t.Errorf("child's relation to entity_3 after adoption = %v, %v, want true, nil", related, err)
	}
	relatedBack, err := db.IsRelatedToWithAnyName(ctx, "entity_3", peerKey, "child_entity_1", newChildKey)
	if err != nil || !relatedBack {
		t.Errorf("entity_3's back-reference after adoption = %v, %v, want true, nil (I2 preserved)", relatedBack, err)
	}

	var grandchildren []Key
	if err := db.GetChildren(ctx, "grandchild", newChildKey, func(k Key, _ []byte) bool {
		grandchildren = append(grandchildren, append(Key{}, k...))
		return true
	}); err != nil {
		t.Fatalf("GetChildren() error = %v", err)
	}
	if len(grandchildren) != 1 {
		t.Fatalf("grandchildren re-parented under new key = %d, want 1", len(grandchildren))
	}
	if exists, _ := db.Exists(ctx, "grandchild", grandchildKey); exists {
		t.Error("expected old grandchild row to be gone after recursive re-parenting")
	}
}

func TestCreateRelationIsIdempotent(t *testing.T) {
	db := openTestDb(t)
	ctx := context.Background()
	a := Uint32ID(1).EncodeKey()
	b := Uint32ID(2).EncodeKey()

	for i := 0; i < 3; i++ {
		if err := db.CreateRelation(ctx, "posts", a, "tags", b, "tagged_with", BreakLink, Cascade); err != nil {
			t.Fatalf("CreateRelation() iteration %d error = %v", i, err)
		}
	}

	rels, err := db.GetRelated(ctx, "posts", a, "")
	if err != nil {
		t.Fatalf("GetRelated() error = %v", err)
	}
	if len(rels) != 1 {
		t.Errorf("GetRelated() returned %d relations, want 1 (idempotent re-creation)", len(rels))
	}
}
