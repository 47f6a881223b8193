package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Attribute is a weighted, confidence-scored fact attached to a node.
type Attribute struct {
	ID                int64
	NodeID            int64
	AttrType          string
	Key               string
	Value             string
	Weight            float64
	Confidence        float64
	SourceReliability float64
	LastVerified      int64 // unix millis
	CreatedAt         int64
}

func validateAttribute(a *Attribute) error {
	if a.NodeID == 0 {
		return validationf("attribute node id is required")
	}
	if strings.TrimSpace(a.AttrType) == "" {
		return validationf("attribute type is required")
	}
	if strings.TrimSpace(a.Key) == "" {
		return validationf("attribute key is required")
	}
	if strings.TrimSpace(a.Value) == "" {
		return validationf("attribute value is required")
	}
	if !inUnitRange(a.Weight) {
		return validationf("attribute weight %f out of range", a.Weight)
	}
	if !inUnitRange(a.SourceReliability) {
		return validationf("attribute source reliability %f out of range", a.SourceReliability)
	}
	return nil
}

// AddAttribute validates and inserts an attribute for an existing node.
// LastVerified defaults to now when unset.
func (db *DB) AddAttribute(attr *Attribute) error {
	if err := validateAttribute(attr); err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	if attr.LastVerified == 0 {
		attr.LastVerified = now
	}

	err := db.withTx(func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRow("SELECT COUNT(*) FROM nodes WHERE id = ?", attr.NodeID).Scan(&exists); err != nil {
			return fmt.Errorf("check node: %w", err)
		}
		if exists == 0 {
			return notFoundf("node %d", attr.NodeID)
		}

		result, err := tx.Exec(`
			INSERT INTO attributes (node_id, attr_type, attr_key, attr_value, weight, confidence, source_reliability, last_verified, created_at)
			VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)
		`, attr.NodeID, attr.AttrType, attr.Key, attr.Value, attr.Weight, attr.SourceReliability, attr.LastVerified, now)
		if err != nil {
			return fmt.Errorf("add attribute: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("attribute insert id: %w", err)
		}
		attr.ID = id
		return nil
	})
	if err != nil {
		return err
	}

	attr.CreatedAt = now
	db.publish(Change{
		Kind:      AttributeChanged,
		NodeID:    attr.NodeID,
		AttrType:  attr.AttrType,
		AttrValue: attr.Value,
	})
	return nil
}

// UpdateAttribute re-verifies an attribute: value, weight, reliability, and
// last_verified are replaced.
func (db *DB) UpdateAttribute(attr *Attribute) error {
	if attr.ID == 0 {
		return validationf("attribute id is required")
	}
	if err := validateAttribute(attr); err != nil {
		return err
	}
	if attr.LastVerified == 0 {
		attr.LastVerified = time.Now().UnixMilli()
	}

	// The owning node comes from the stored row, not the caller's struct, so
	// the published event always points at the right node.
	var nodeID int64
	err := db.withTx(func(tx *sql.Tx) error {
		err := tx.QueryRow("SELECT node_id FROM attributes WHERE id = ?", attr.ID).Scan(&nodeID)
		if err == sql.ErrNoRows {
			return notFoundf("attribute %d", attr.ID)
		}
		if err != nil {
			return fmt.Errorf("get attribute owner: %w", err)
		}

		_, err = tx.Exec(`
			UPDATE attributes SET attr_type = ?, attr_key = ?, attr_value = ?, weight = ?, source_reliability = ?, last_verified = ?
			WHERE id = ?
		`, attr.AttrType, attr.Key, attr.Value, attr.Weight, attr.SourceReliability, attr.LastVerified, attr.ID)
		if err != nil {
			return fmt.Errorf("update attribute: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	attr.NodeID = nodeID
	db.publish(Change{
		Kind:      AttributeChanged,
		NodeID:    nodeID,
		AttrType:  attr.AttrType,
		AttrValue: attr.Value,
	})
	return nil
}

// DeleteAttribute removes an attribute. The owning node's confidence must be
// recomputed by the caller; the published change event drives that.
func (db *DB) DeleteAttribute(id int64) error {
	var nodeID int64
	var attrType, attrValue string

	err := db.withTx(func(tx *sql.Tx) error {
		err := tx.QueryRow(`
			SELECT node_id, attr_type, attr_value FROM attributes WHERE id = ?
		`, id).Scan(&nodeID, &attrType, &attrValue)
		if err == sql.ErrNoRows {
			return notFoundf("attribute %d", id)
		}
		if err != nil {
			return fmt.Errorf("get attribute: %w", err)
		}

		if _, err := tx.Exec("DELETE FROM attributes WHERE id = ?", id); err != nil {
			return fmt.Errorf("delete attribute: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	db.publish(Change{
		Kind:      AttributeChanged,
		NodeID:    nodeID,
		AttrType:  attrType,
		AttrValue: attrValue,
		Deleted:   true,
	})
	return nil
}

// GetAttributes returns all attributes of a node.
func (db *DB) GetAttributes(nodeID int64) ([]Attribute, error) {
	rows, err := db.Query(`
		SELECT id, node_id, attr_type, attr_key, attr_value, weight, confidence, source_reliability, last_verified, created_at
		FROM attributes WHERE node_id = ? ORDER BY id
	`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("get attributes: %w", err)
	}
	defer rows.Close()
	return scanAttributes(rows)
}

// GetAttribute returns a single attribute by id, or ErrNotFound.
func (db *DB) GetAttribute(id int64) (*Attribute, error) {
	var a Attribute
	err := db.QueryRow(`
		SELECT id, node_id, attr_type, attr_key, attr_value, weight, confidence, source_reliability, last_verified, created_at
		FROM attributes WHERE id = ?
	`, id).Scan(&a.ID, &a.NodeID, &a.AttrType, &a.Key, &a.Value,
		&a.Weight, &a.Confidence, &a.SourceReliability, &a.LastVerified, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, notFoundf("attribute %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get attribute: %w", err)
	}
	return &a, nil
}

// SetAttributeConfidence persists a materialized per-attribute score.
func (db *DB) SetAttributeConfidence(id int64, score float64) error {
	if !inUnitRange(score) {
		return validationf("confidence %f out of range", score)
	}
	_, err := db.Exec("UPDATE attributes SET confidence = ? WHERE id = ?", score, id)
	if err != nil {
		return fmt.Errorf("set attribute confidence: %w", err)
	}
	return nil
}

// FindNodesByAttribute returns the ids of nodes holding the exact
// (type, value) pair, ascending.
func (db *DB) FindNodesByAttribute(attrType, attrValue string) ([]int64, error) {
	rows, err := db.Query(`
		SELECT DISTINCT node_id FROM attributes
		WHERE attr_type = ? AND attr_value = ?
		ORDER BY node_id
	`, attrType, attrValue)
	if err != nil {
		return nil, fmt.Errorf("find nodes by attribute: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// SharedAttributeCandidates returns the ids of other nodes that share at
// least one (attr_type, attr_value) bucket with the given node, ascending.
// The bucket index makes this proportional to the buckets the node touches,
// not to the total node count.
func (db *DB) SharedAttributeCandidates(nodeID int64, limit int) ([]int64, error) {
	if limit <= 0 {
		return nil, validationf("limit must be positive")
	}
	rows, err := db.Query(`
		SELECT DISTINCT b.node_id
		FROM attributes a
		JOIN attributes b ON a.attr_type = b.attr_type AND a.attr_value = b.attr_value
		WHERE a.node_id = ? AND b.node_id != ?
		ORDER BY b.node_id
		LIMIT ?
	`, nodeID, nodeID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("shared attribute candidates: %w", err)
	}
	defer rows.Close()

	ids, err := scanIDs(rows)
	if err != nil {
		return nil, err
	}
	if len(ids) > limit {
		return ids[:limit], fmt.Errorf("%w: more than %d candidate nodes", ErrResourceExceeded, limit)
	}
	return ids, nil
}

func scanAttributes(rows *sql.Rows) ([]Attribute, error) {
	var attrs []Attribute
	for rows.Next() {
		var a Attribute
		if err := rows.Scan(&a.ID, &a.NodeID, &a.AttrType, &a.Key, &a.Value,
			&a.Weight, &a.Confidence, &a.SourceReliability, &a.LastVerified, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attribute: %w", err)
		}
		attrs = append(attrs, a)
	}
	return attrs, rows.Err()
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
