package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Node represents a typed entity in the knowledge graph.
type Node struct {
	ID                    int64
	Name                  string
	NodeType              string
	Metadata              string // free-form JSON
	ConfidenceScore       float64
	ConfidenceLastUpdated *int64 // unix millis, nil until first materialization
	CreatedAt             int64
	UpdatedAt             int64
}

// CreateNode validates and inserts a new node.
func (db *DB) CreateNode(node *Node) error {
	if strings.TrimSpace(node.Name) == "" {
		return validationf("node name is required")
	}
	if strings.TrimSpace(node.NodeType) == "" {
		return validationf("node type is required")
	}

	now := time.Now().UnixMilli()
	err := db.withTx(func(tx *sql.Tx) error {
		result, err := tx.Exec(`
			INSERT INTO nodes (name, node_type, metadata, confidence_score, created_at, updated_at)
			VALUES (?, ?, NULLIF(?, ''), 0, ?, ?)
		`, node.Name, node.NodeType, node.Metadata, now, now)
		if err != nil {
			return fmt.Errorf("create node: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("node insert id: %w", err)
		}
		node.ID = id
		return nil
	})
	if err != nil {
		return err
	}

	node.ConfidenceScore = 0
	node.CreatedAt = now
	node.UpdatedAt = now
	db.publish(Change{Kind: NodeChanged, NodeID: node.ID})
	return nil
}

// GetNode returns a node by id, or ErrNotFound.
func (db *DB) GetNode(id int64) (*Node, error) {
	var n Node
	var metadata sql.NullString
	var confUpdated sql.NullInt64
	err := db.QueryRow(`
		SELECT id, name, node_type, metadata, confidence_score, confidence_last_updated, created_at, updated_at
		FROM nodes WHERE id = ?
	`, id).Scan(&n.ID, &n.Name, &n.NodeType, &metadata, &n.ConfidenceScore, &confUpdated, &n.CreatedAt, &n.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, notFoundf("node %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get node: %w", err)
	}
	n.Metadata = metadata.String
	if confUpdated.Valid {
		n.ConfidenceLastUpdated = &confUpdated.Int64
	}
	return &n, nil
}

// UpdateNode updates a node's name, type, and metadata.
func (db *DB) UpdateNode(node *Node) error {
	if node.ID == 0 {
		return validationf("node id is required")
	}
	if strings.TrimSpace(node.Name) == "" {
		return validationf("node name is required")
	}
	if strings.TrimSpace(node.NodeType) == "" {
		return validationf("node type is required")
	}

	now := time.Now().UnixMilli()
	err := db.withTx(func(tx *sql.Tx) error {
		result, err := tx.Exec(`
			UPDATE nodes SET name = ?, node_type = ?, metadata = NULLIF(?, ''), updated_at = ?
			WHERE id = ?
		`, node.Name, node.NodeType, node.Metadata, now, node.ID)
		if err != nil {
			return fmt.Errorf("update node: %w", err)
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return notFoundf("node %d", node.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	node.UpdatedAt = now
	db.publish(Change{Kind: NodeChanged, NodeID: node.ID})
	return nil
}

// DeleteNode removes a node. It refuses while relationships still reference
// the node; attributes and queue entries cascade via foreign keys.
func (db *DB) DeleteNode(id int64) error {
	return db.withTx(func(tx *sql.Tx) error {
		var refs int
		err := tx.QueryRow(`
			SELECT COUNT(*) FROM relationships WHERE source_id = ? OR target_id = ?
		`, id, id).Scan(&refs)
		if err != nil {
			return fmt.Errorf("count node references: %w", err)
		}
		if refs > 0 {
			return validationf("node %d is referenced by %d relationships", id, refs)
		}

		result, err := tx.Exec("DELETE FROM nodes WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("delete node: %w", err)
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return notFoundf("node %d", id)
		}
		return nil
	})
}

// FindNodesByType returns all nodes with the given type tag.
func (db *DB) FindNodesByType(nodeType string) ([]Node, error) {
	rows, err := db.Query(`
		SELECT id, name, node_type, metadata, confidence_score, confidence_last_updated, created_at, updated_at
		FROM nodes WHERE node_type = ? ORDER BY id
	`, nodeType)
	if err != nil {
		return nil, fmt.Errorf("find nodes by type: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// GetNodesByIDs returns nodes for the given list of ids, ascending.
func (db *DB) GetNodesByIDs(ids []int64) ([]Node, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT id, name, node_type, metadata, confidence_score, confidence_last_updated, created_at, updated_at
		FROM nodes WHERE id IN (%s) ORDER BY id
	`, strings.Join(placeholders, ","))

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("get nodes by ids: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// StaleNodeIDs returns up to limit node ids whose materialized confidence is
// older than maxAge, oldest first. Nodes never scored sort first.
func (db *DB) StaleNodeIDs(maxAge time.Duration, limit int) ([]int64, error) {
	if limit <= 0 {
		return nil, validationf("limit must be positive")
	}
	cutoff := time.Now().Add(-maxAge).UnixMilli()

	rows, err := db.Query(`
		SELECT id FROM nodes
		WHERE confidence_last_updated IS NULL OR confidence_last_updated < ?
		ORDER BY confidence_last_updated ASC NULLS FIRST, id ASC
		LIMIT ?
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("stale node ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetNodeConfidence persists a materialized confidence score with a fresh
// timestamp. Materialization is not a logical change, so no event is published.
func (db *DB) SetNodeConfidence(id int64, score float64) error {
	if !inUnitRange(score) {
		return validationf("confidence score %f out of range", score)
	}
	now := time.Now().UnixMilli()
	result, err := db.Exec(`
		UPDATE nodes SET confidence_score = ?, confidence_last_updated = ? WHERE id = ?
	`, score, now, id)
	if err != nil {
		return fmt.Errorf("set node confidence: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return notFoundf("node %d", id)
	}
	return nil
}

// CountNodes returns the total node count.
func (db *DB) CountNodes() (int, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM nodes").Scan(&count)
	return count, err
}

func scanNodes(rows *sql.Rows) ([]Node, error) {
	var nodes []Node
	for rows.Next() {
		var n Node
		var metadata sql.NullString
		var confUpdated sql.NullInt64
		if err := rows.Scan(&n.ID, &n.Name, &n.NodeType, &metadata,
			&n.ConfidenceScore, &confUpdated, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		n.Metadata = metadata.String
		if confUpdated.Valid {
			n.ConfidenceLastUpdated = &confUpdated.Int64
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}
