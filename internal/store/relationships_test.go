package store

import (
	"errors"
	"testing"
	"time"
)

func TestCreateRelationship(t *testing.T) {
	db := testDB(t)

	a := createTestNode(t, db, "a", "person")
	b := createTestNode(t, db, "b", "person")

	rel := &Relationship{SourceID: a.ID, TargetID: b.ID, RelType: "knows", Strength: 0.8}
	if err := db.CreateRelationship(rel); err != nil {
		t.Fatalf("CreateRelationship: %v", err)
	}
	if rel.ID == 0 {
		t.Error("expected non-zero ID")
	}
	if rel.SourceReliability != 1 {
		t.Errorf("source_reliability = %f, want default 1", rel.SourceReliability)
	}
}

func TestCreateRelationshipSelfReference(t *testing.T) {
	db := testDB(t)

	a := createTestNode(t, db, "a", "person")
	rel := &Relationship{SourceID: a.ID, TargetID: a.ID, RelType: "knows", Strength: 0.5}
	if err := db.CreateRelationship(rel); !errors.Is(err, ErrSelfReference) {
		t.Errorf("err = %v, want ErrSelfReference", err)
	}
}

func TestCreateRelationshipDuplicate(t *testing.T) {
	db := testDB(t)

	a := createTestNode(t, db, "a", "person")
	b := createTestNode(t, db, "b", "person")

	first := &Relationship{SourceID: a.ID, TargetID: b.ID, RelType: "knows", Strength: 0.5}
	if err := db.CreateRelationship(first); err != nil {
		t.Fatalf("first CreateRelationship: %v", err)
	}

	dup := &Relationship{SourceID: a.ID, TargetID: b.ID, RelType: "knows", Strength: 0.9}
	if err := db.CreateRelationship(dup); !errors.Is(err, ErrDuplicateEdge) {
		t.Errorf("err = %v, want ErrDuplicateEdge", err)
	}

	// Same pair, different type is a distinct edge.
	other := &Relationship{SourceID: a.ID, TargetID: b.ID, RelType: "mentors", Strength: 0.9}
	if err := db.CreateRelationship(other); err != nil {
		t.Errorf("different rel_type: %v", err)
	}
}

func TestCreateRelationshipMissingEndpoint(t *testing.T) {
	db := testDB(t)

	a := createTestNode(t, db, "a", "person")
	rel := &Relationship{SourceID: a.ID, TargetID: 999, RelType: "knows", Strength: 0.5}
	if err := db.CreateRelationship(rel); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpsertInferredRelationship(t *testing.T) {
	db := testDB(t)

	a := createTestNode(t, db, "a", "person")
	b := createTestNode(t, db, "b", "person")

	rel := &Relationship{
		SourceID: a.ID, TargetID: b.ID, RelType: "related_to",
		Strength: 0.6, SourceReliability: 1, ConfidenceScore: 0.4, SharedAttributesCount: 2,
	}
	written, err := db.UpsertInferredRelationship(rel)
	if err != nil {
		t.Fatalf("UpsertInferredRelationship: %v", err)
	}
	if !written {
		t.Fatal("expected insert to report written")
	}

	// Refresh overwrites materialized values.
	rel2 := &Relationship{
		SourceID: a.ID, TargetID: b.ID, RelType: "related_to",
		Strength: 0.9, SourceReliability: 1, ConfidenceScore: 0.7, SharedAttributesCount: 3,
	}
	written, err = db.UpsertInferredRelationship(rel2)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !written || rel2.ID != rel.ID {
		t.Errorf("written=%v id=%d, want refresh of edge %d", written, rel2.ID, rel.ID)
	}

	found, _ := db.GetRelationship(rel.ID)
	if found.Strength != 0.9 || found.SharedAttributesCount != 3 || !found.AutoInferred {
		t.Errorf("found = %+v, want refreshed inferred edge", found)
	}
}

func TestUpsertInferredLeavesExplicitUntouched(t *testing.T) {
	db := testDB(t)

	a := createTestNode(t, db, "a", "person")
	b := createTestNode(t, db, "b", "person")

	explicit := &Relationship{SourceID: a.ID, TargetID: b.ID, RelType: "related_to", Strength: 0.8}
	if err := db.CreateRelationship(explicit); err != nil {
		t.Fatalf("CreateRelationship: %v", err)
	}

	inferred := &Relationship{
		SourceID: a.ID, TargetID: b.ID, RelType: "related_to",
		Strength: 0.1, SourceReliability: 1, ConfidenceScore: 0.05, SharedAttributesCount: 1,
	}
	written, err := db.UpsertInferredRelationship(inferred)
	if err != nil {
		t.Fatalf("UpsertInferredRelationship: %v", err)
	}
	if written {
		t.Error("explicit edge must not be overwritten by inference")
	}

	found, _ := db.GetRelationship(explicit.ID)
	if found.Strength != 0.8 || found.AutoInferred {
		t.Errorf("explicit edge mutated: %+v", found)
	}
}

func TestDeleteDecayedInferredRelationships(t *testing.T) {
	db := testDB(t)

	a := createTestNode(t, db, "a", "person")
	b := createTestNode(t, db, "b", "person")
	c := createTestNode(t, db, "c", "person")

	decayed := &Relationship{SourceID: a.ID, TargetID: b.ID, RelType: "related_to", Strength: 0.2, SourceReliability: 1}
	if _, err := db.UpsertInferredRelationship(decayed); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	explicit := &Relationship{SourceID: a.ID, TargetID: c.ID, RelType: "knows", Strength: 0.2}
	if err := db.CreateRelationship(explicit); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Backdate both scores below threshold.
	old := time.Now().Add(-30 * 24 * time.Hour).UnixMilli()
	db.Exec("UPDATE relationships SET confidence_score = 0.01, confidence_last_updated = ?", old)

	n, err := db.DeleteDecayedInferredRelationships(0.1, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("DeleteDecayedInferredRelationships: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}

	// Explicit edge survives regardless of score.
	if _, err := db.GetRelationship(explicit.ID); err != nil {
		t.Errorf("explicit edge removed: %v", err)
	}
	if _, err := db.GetRelationship(decayed.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("decayed inferred edge should be gone, err = %v", err)
	}
}

func TestListRelationshipsBothDirections(t *testing.T) {
	db := testDB(t)

	a := createTestNode(t, db, "a", "person")
	b := createTestNode(t, db, "b", "person")
	c := createTestNode(t, db, "c", "person")

	db.CreateRelationship(&Relationship{SourceID: a.ID, TargetID: b.ID, RelType: "knows", Strength: 0.5})
	db.CreateRelationship(&Relationship{SourceID: c.ID, TargetID: a.ID, RelType: "knows", Strength: 0.5})

	rels, err := db.ListRelationships(a.ID)
	if err != nil {
		t.Fatalf("ListRelationships: %v", err)
	}
	if len(rels) != 2 {
		t.Errorf("len = %d, want 2 (both directions)", len(rels))
	}
}

func TestSetRelationshipConfidence(t *testing.T) {
	db := testDB(t)

	a := createTestNode(t, db, "a", "person")
	b := createTestNode(t, db, "b", "person")
	rel := &Relationship{SourceID: a.ID, TargetID: b.ID, RelType: "knows", Strength: 0.5}
	db.CreateRelationship(rel)

	if err := db.SetRelationshipConfidence(rel.ID, 0.42); err != nil {
		t.Fatalf("SetRelationshipConfidence: %v", err)
	}
	found, _ := db.GetRelationship(rel.ID)
	if found.ConfidenceScore != 0.42 || found.ConfidenceLastUpdated == nil {
		t.Errorf("found = %+v, want materialized 0.42", found)
	}
}
