package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "nodes: typed entities with materialized confidence",
		SQL: `
CREATE TABLE nodes (
    id                      INTEGER PRIMARY KEY,
    name                    TEXT NOT NULL,
    node_type               TEXT NOT NULL,
    metadata                TEXT,

    -- Materialized confidence
    confidence_score        REAL NOT NULL DEFAULT 0 CHECK (confidence_score BETWEEN 0 AND 1),
    confidence_last_updated INTEGER,

    created_at              INTEGER NOT NULL,
    updated_at              INTEGER NOT NULL
);

CREATE INDEX idx_nodes_type         ON nodes(node_type);
CREATE INDEX idx_nodes_conf_updated ON nodes(confidence_last_updated);
`,
	},
	{
		Version:     2,
		Description: "attributes: weighted facts attached to nodes",
		SQL: `
CREATE TABLE attributes (
    id                 INTEGER PRIMARY KEY,
    node_id            INTEGER NOT NULL,
    attr_type          TEXT NOT NULL,
    attr_key           TEXT NOT NULL,
    attr_value         TEXT NOT NULL,
    weight             REAL NOT NULL CHECK (weight BETWEEN 0 AND 1),
    confidence         REAL NOT NULL DEFAULT 0 CHECK (confidence BETWEEN 0 AND 1),
    source_reliability REAL NOT NULL CHECK (source_reliability BETWEEN 0 AND 1),
    last_verified      INTEGER NOT NULL,
    created_at         INTEGER NOT NULL,

    FOREIGN KEY (node_id) REFERENCES nodes(id) ON DELETE CASCADE
);

CREATE INDEX idx_attrs_node   ON attributes(node_id);
-- Inverted index over (type, value): relationship inference looks up only
-- the buckets a changed node participates in.
CREATE INDEX idx_attrs_bucket ON attributes(attr_type, attr_value);
`,
	},
	{
		Version:     3,
		Description: "relationships: directed confidence-scored edges",
		SQL: `
CREATE TABLE relationships (
    id                      INTEGER PRIMARY KEY,
    source_id               INTEGER NOT NULL,
    target_id               INTEGER NOT NULL,
    rel_type                TEXT NOT NULL,
    strength                REAL NOT NULL CHECK (strength BETWEEN 0 AND 1),
    source_reliability      REAL NOT NULL DEFAULT 1 CHECK (source_reliability BETWEEN 0 AND 1),
    confidence_score        REAL NOT NULL DEFAULT 0 CHECK (confidence_score BETWEEN 0 AND 1),
    confidence_last_updated INTEGER,
    auto_inferred           INTEGER NOT NULL DEFAULT 0,
    shared_attributes_count INTEGER NOT NULL DEFAULT 0,
    created_at              INTEGER NOT NULL,
    updated_at              INTEGER NOT NULL,

    FOREIGN KEY (source_id) REFERENCES nodes(id),
    FOREIGN KEY (target_id) REFERENCES nodes(id),
    CHECK (source_id != target_id)
);

CREATE UNIQUE INDEX idx_rels_triple ON relationships(source_id, target_id, rel_type);
CREATE INDEX idx_rels_source        ON relationships(source_id);
CREATE INDEX idx_rels_target        ON relationships(target_id);
CREATE INDEX idx_rels_conf_updated  ON relationships(confidence_last_updated);
`,
	},
	{
		Version:     4,
		Description: "inference_queue: durable re-inference work queue",
		SQL: `
CREATE TABLE inference_queue (
    id          INTEGER PRIMARY KEY,
    node_id     INTEGER NOT NULL,
    priority    INTEGER NOT NULL CHECK (priority BETWEEN 1 AND 10),
    batch_id    TEXT NOT NULL,
    status      TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'processing', 'completed', 'failed', 'cancelled')),
    retry_count INTEGER NOT NULL DEFAULT 0,
    max_retries INTEGER NOT NULL DEFAULT 3,
    queued_at   INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL,

    FOREIGN KEY (node_id) REFERENCES nodes(id) ON DELETE CASCADE
);

-- At most one live entry per node; re-enqueueing raises priority instead.
CREATE UNIQUE INDEX idx_queue_active  ON inference_queue(node_id) WHERE status IN ('pending', 'processing');
CREATE INDEX idx_queue_pending        ON inference_queue(status, priority DESC, queued_at);
`,
	},
	{
		Version:     5,
		Description: "node_vectors: embedding vectors for similarity search",
		SQL: `
CREATE TABLE node_vectors (
    node_id    INTEGER PRIMARY KEY,
    embedding  BLOB NOT NULL,
    dimensions INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (node_id) REFERENCES nodes(id) ON DELETE CASCADE
);
`,
	},
	{
		Version:     6,
		Description: "engine_config: operator-tunable parameters",
		SQL: `
CREATE TABLE engine_config (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
