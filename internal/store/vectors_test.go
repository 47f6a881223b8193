package store

import (
	"errors"
	"math"
	"testing"
)

func TestSaveAndGetVector(t *testing.T) {
	db := testDB(t)
	node := createTestNode(t, db, "a", "person")

	vec := []float64{0.1, -0.5, 0.99, math.Pi}
	if err := db.SaveVector(node.ID, vec); err != nil {
		t.Fatalf("SaveVector: %v", err)
	}

	got, err := db.GetVector(node.ID)
	if err != nil {
		t.Fatalf("GetVector: %v", err)
	}
	if got == nil {
		t.Fatal("expected vector, got nil")
	}
	if got.Dimensions != 4 || len(got.Embedding) != 4 {
		t.Fatalf("dimensions = %d/%d, want 4", got.Dimensions, len(got.Embedding))
	}
	for i := range vec {
		if got.Embedding[i] != vec[i] {
			t.Errorf("embedding[%d] = %v, want %v (exact round-trip)", i, got.Embedding[i], vec[i])
		}
	}
}

func TestSaveVectorReplaces(t *testing.T) {
	db := testDB(t)
	node := createTestNode(t, db, "a", "person")

	db.SaveVector(node.ID, []float64{1, 0})
	if err := db.SaveVector(node.ID, []float64{0, 1}); err != nil {
		t.Fatalf("replace SaveVector: %v", err)
	}

	got, _ := db.GetVector(node.ID)
	if got.Embedding[0] != 0 || got.Embedding[1] != 1 {
		t.Errorf("embedding = %v, want [0 1]", got.Embedding)
	}

	count, _ := db.CountVectors()
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestSaveVectorMissingNode(t *testing.T) {
	db := testDB(t)

	if err := db.SaveVector(999, []float64{1}); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	node := createTestNode(t, db, "a", "person")
	if err := db.SaveVector(node.ID, nil); !errors.Is(err, ErrValidation) {
		t.Errorf("empty embedding: err = %v, want ErrValidation", err)
	}
}

func TestGetVectorAbsent(t *testing.T) {
	db := testDB(t)
	node := createTestNode(t, db, "a", "person")

	got, err := db.GetVector(node.ID)
	if err != nil {
		t.Fatalf("GetVector: %v", err)
	}
	if got != nil {
		t.Errorf("got = %+v, want nil for absent vector", got)
	}
}

func TestAllVectorsOrdered(t *testing.T) {
	db := testDB(t)

	b := createTestNode(t, db, "b", "person")
	a := createTestNode(t, db, "a", "person")
	db.SaveVector(b.ID, []float64{1})
	db.SaveVector(a.ID, []float64{2})

	records, err := db.AllVectors()
	if err != nil {
		t.Fatalf("AllVectors: %v", err)
	}
	if len(records) != 2 || records[0].NodeID > records[1].NodeID {
		t.Errorf("records = %+v, want ascending node id", records)
	}
}
