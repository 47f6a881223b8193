package store

import (
	"errors"
	"testing"
	"time"
)

func createTestNode(t *testing.T, db *DB, name, nodeType string) *Node {
	t.Helper()
	node := &Node{Name: name, NodeType: nodeType}
	if err := db.CreateNode(node); err != nil {
		t.Fatalf("CreateNode(%s): %v", name, err)
	}
	return node
}

func TestCreateNode(t *testing.T) {
	db := testDB(t)

	node := &Node{
		Name:     "Ada Lovelace",
		NodeType: "person",
		Metadata: `{"origin":"import"}`,
	}
	if err := db.CreateNode(node); err != nil {
		t.Fatalf("CreateNode: %v", err)
	}

	if node.ID == 0 {
		t.Error("expected non-zero ID")
	}
	if node.ConfidenceScore != 0 {
		t.Errorf("confidence_score = %f, want 0 before materialization", node.ConfidenceScore)
	}
}

func TestCreateNodeValidation(t *testing.T) {
	db := testDB(t)

	if err := db.CreateNode(&Node{Name: "", NodeType: "person"}); !errors.Is(err, ErrValidation) {
		t.Errorf("empty name: err = %v, want ErrValidation", err)
	}
	if err := db.CreateNode(&Node{Name: "x", NodeType: "  "}); !errors.Is(err, ErrValidation) {
		t.Errorf("blank type: err = %v, want ErrValidation", err)
	}
}

func TestGetNode(t *testing.T) {
	db := testDB(t)

	_, err := db.GetNode(999)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("missing node: err = %v, want ErrNotFound", err)
	}

	created := createTestNode(t, db, "Ada", "person")
	found, err := db.GetNode(created.ID)
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if found.Name != "Ada" || found.NodeType != "person" {
		t.Errorf("got (%q, %q), want (Ada, person)", found.Name, found.NodeType)
	}
	if found.ConfidenceLastUpdated != nil {
		t.Error("expected nil confidence_last_updated before materialization")
	}
}

func TestUpdateNode(t *testing.T) {
	db := testDB(t)

	node := createTestNode(t, db, "Ada", "person")
	node.Name = "Ada Lovelace"
	node.Metadata = `{"verified":true}`
	if err := db.UpdateNode(node); err != nil {
		t.Fatalf("UpdateNode: %v", err)
	}

	found, _ := db.GetNode(node.ID)
	if found.Name != "Ada Lovelace" {
		t.Errorf("name = %q, want %q", found.Name, "Ada Lovelace")
	}
	if found.Metadata != `{"verified":true}` {
		t.Errorf("metadata = %q", found.Metadata)
	}
}

func TestDeleteNode(t *testing.T) {
	db := testDB(t)

	node := createTestNode(t, db, "Ada", "person")
	if err := db.DeleteNode(node.ID); err != nil {
		t.Fatalf("DeleteNode: %v", err)
	}
	if _, err := db.GetNode(node.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("after delete: err = %v, want ErrNotFound", err)
	}
}

func TestDeleteNodeRefusedWhileReferenced(t *testing.T) {
	db := testDB(t)

	a := createTestNode(t, db, "a", "person")
	b := createTestNode(t, db, "b", "person")
	rel := &Relationship{SourceID: a.ID, TargetID: b.ID, RelType: "knows", Strength: 0.5}
	if err := db.CreateRelationship(rel); err != nil {
		t.Fatalf("CreateRelationship: %v", err)
	}

	if err := db.DeleteNode(a.ID); !errors.Is(err, ErrValidation) {
		t.Errorf("delete referenced node: err = %v, want ErrValidation", err)
	}
}

func TestDeleteNodeCascadesAttributes(t *testing.T) {
	db := testDB(t)

	node := createTestNode(t, db, "Ada", "person")
	attr := &Attribute{NodeID: node.ID, AttrType: "color", Key: "favorite", Value: "red", Weight: 1, SourceReliability: 1}
	if err := db.AddAttribute(attr); err != nil {
		t.Fatalf("AddAttribute: %v", err)
	}

	if err := db.DeleteNode(node.ID); err != nil {
		t.Fatalf("DeleteNode: %v", err)
	}

	var count int
	db.QueryRow("SELECT COUNT(*) FROM attributes WHERE node_id = ?", node.ID).Scan(&count)
	if count != 0 {
		t.Errorf("attributes remaining after node delete = %d, want 0", count)
	}
}

func TestFindNodesByType(t *testing.T) {
	db := testDB(t)

	createTestNode(t, db, "Ada", "person")
	createTestNode(t, db, "Babbage", "person")
	createTestNode(t, db, "Engine", "machine")

	people, err := db.FindNodesByType("person")
	if err != nil {
		t.Fatalf("FindNodesByType: %v", err)
	}
	if len(people) != 2 {
		t.Errorf("len = %d, want 2", len(people))
	}
}

func TestSetNodeConfidence(t *testing.T) {
	db := testDB(t)

	node := createTestNode(t, db, "Ada", "person")
	if err := db.SetNodeConfidence(node.ID, 0.75); err != nil {
		t.Fatalf("SetNodeConfidence: %v", err)
	}

	found, _ := db.GetNode(node.ID)
	if found.ConfidenceScore != 0.75 {
		t.Errorf("confidence = %f, want 0.75", found.ConfidenceScore)
	}
	if found.ConfidenceLastUpdated == nil {
		t.Error("expected confidence_last_updated to be set")
	}

	if err := db.SetNodeConfidence(node.ID, 1.5); !errors.Is(err, ErrValidation) {
		t.Errorf("out-of-range score: err = %v, want ErrValidation", err)
	}
}

func TestStaleNodeIDs(t *testing.T) {
	db := testDB(t)

	a := createTestNode(t, db, "a", "person")
	b := createTestNode(t, db, "b", "person")

	// a never scored, b scored just now
	if err := db.SetNodeConfidence(b.ID, 0.5); err != nil {
		t.Fatalf("SetNodeConfidence: %v", err)
	}

	stale, err := db.StaleNodeIDs(time.Hour, 10)
	if err != nil {
		t.Fatalf("StaleNodeIDs: %v", err)
	}
	if len(stale) != 1 || stale[0] != a.ID {
		t.Errorf("stale = %v, want [%d]", stale, a.ID)
	}
}

func TestNodeChangePublished(t *testing.T) {
	db := testDB(t)

	var changes []Change
	db.Subscribe(func(c Change) { changes = append(changes, c) })

	node := createTestNode(t, db, "Ada", "person")
	if len(changes) != 1 || changes[0].Kind != NodeChanged || changes[0].NodeID != node.ID {
		t.Fatalf("changes = %+v, want one NodeChanged for node %d", changes, node.ID)
	}

	// Materialization must not publish: no event recursion.
	db.SetNodeConfidence(node.ID, 0.5)
	if len(changes) != 1 {
		t.Errorf("SetNodeConfidence published an event: %+v", changes)
	}
}
