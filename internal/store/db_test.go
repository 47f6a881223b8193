package store

import (
	"testing"
)

// testDB is a helper that creates an in-memory DB for testing.
func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenMemory(t *testing.T) {
	db := testDB(t)

	if db.Path != ":memory:" {
		t.Errorf("Path = %q, want :memory:", db.Path)
	}
}

func TestSchemaVersion(t *testing.T) {
	db := testDB(t)

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 6 {
		t.Errorf("SchemaVersion = %d, want 6", v)
	}
}

func TestTablesExist(t *testing.T) {
	db := testDB(t)

	tables := []string{"schema_versions", "nodes", "attributes", "relationships", "inference_queue", "node_vectors", "engine_config"}
	for _, table := range tables {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestNodesConstraints(t *testing.T) {
	db := testDB(t)

	// Valid insert
	_, err := db.Exec(`
		INSERT INTO nodes (name, node_type, confidence_score, created_at, updated_at)
		VALUES ('alpha', 'person', 0.5, 1000, 1000)
	`)
	if err != nil {
		t.Fatalf("valid insert failed: %v", err)
	}

	// Out-of-range confidence
	_, err = db.Exec(`
		INSERT INTO nodes (name, node_type, confidence_score, created_at, updated_at)
		VALUES ('beta', 'person', 1.5, 1000, 1000)
	`)
	if err == nil {
		t.Error("expected error for confidence_score > 1, got nil")
	}
}

func TestRelationshipsConstraints(t *testing.T) {
	db := testDB(t)

	_, err := db.Exec(`
		INSERT INTO nodes (name, node_type, confidence_score, created_at, updated_at)
		VALUES ('alpha', 'person', 0, 1000, 1000)
	`)
	if err != nil {
		t.Fatalf("insert node: %v", err)
	}

	// Self-reference is rejected at the schema level too
	_, err = db.Exec(`
		INSERT INTO relationships (source_id, target_id, rel_type, strength, confidence_score, created_at, updated_at)
		VALUES (1, 1, 'knows', 0.5, 0, 1000, 1000)
	`)
	if err == nil {
		t.Error("expected error for self-referencing edge, got nil")
	}
}

func TestQueueConstraints(t *testing.T) {
	db := testDB(t)

	_, err := db.Exec(`
		INSERT INTO nodes (name, node_type, confidence_score, created_at, updated_at)
		VALUES ('alpha', 'person', 0, 1000, 1000)
	`)
	if err != nil {
		t.Fatalf("insert node: %v", err)
	}

	// Priority out of range
	_, err = db.Exec(`
		INSERT INTO inference_queue (node_id, priority, batch_id, status, retry_count, max_retries, queued_at, updated_at)
		VALUES (1, 11, 'b1', 'pending', 0, 3, 1000, 1000)
	`)
	if err == nil {
		t.Error("expected error for priority > 10, got nil")
	}

	// Invalid status
	_, err = db.Exec(`
		INSERT INTO inference_queue (node_id, priority, batch_id, status, retry_count, max_retries, queued_at, updated_at)
		VALUES (1, 5, 'b1', 'invalid', 0, 3, 1000, 1000)
	`)
	if err == nil {
		t.Error("expected error for invalid status, got nil")
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	db := testDB(t)

	// Running migrate again should be a no-op
	if err := db.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 6 {
		t.Errorf("SchemaVersion after re-migrate = %d, want 6", v)
	}
}

func TestForeignKeysEnabled(t *testing.T) {
	db := testDB(t)

	var fk int
	err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk)
	if err != nil {
		t.Fatalf("PRAGMA foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}
