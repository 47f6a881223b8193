package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Relationship is a typed, confidence-scored directed edge between two
// distinct nodes, either explicitly authored or auto-inferred.
type Relationship struct {
	ID                    int64
	SourceID              int64
	TargetID              int64
	RelType               string
	Strength              float64
	SourceReliability     float64
	ConfidenceScore       float64
	ConfidenceLastUpdated *int64
	AutoInferred          bool
	SharedAttributesCount int
	CreatedAt             int64
	UpdatedAt             int64
}

func validateRelationship(r *Relationship) error {
	if r.SourceID == 0 || r.TargetID == 0 {
		return validationf("relationship source and target ids are required")
	}
	if r.SourceID == r.TargetID {
		return fmt.Errorf("%w: node %d", ErrSelfReference, r.SourceID)
	}
	if strings.TrimSpace(r.RelType) == "" {
		return validationf("relationship type is required")
	}
	if !inUnitRange(r.Strength) {
		return validationf("relationship strength %f out of range", r.Strength)
	}
	if !inUnitRange(r.SourceReliability) {
		return validationf("relationship source reliability %f out of range", r.SourceReliability)
	}
	return nil
}

// CreateRelationship validates and inserts an edge. Self-references and
// duplicate (source, target, type) triples are rejected.
func (db *DB) CreateRelationship(rel *Relationship) error {
	if err := validateRelationship(rel); err != nil {
		return err
	}
	if rel.SourceReliability == 0 {
		rel.SourceReliability = 1
	}

	now := time.Now().UnixMilli()
	err := db.withTx(func(tx *sql.Tx) error {
		// Both endpoints must exist. Checked in ascending id order.
		first, second := orderedPair(rel.SourceID, rel.TargetID)
		for _, id := range []int64{first, second} {
			var exists int
			if err := tx.QueryRow("SELECT COUNT(*) FROM nodes WHERE id = ?", id).Scan(&exists); err != nil {
				return fmt.Errorf("check node: %w", err)
			}
			if exists == 0 {
				return notFoundf("node %d", id)
			}
		}

		var dup int
		err := tx.QueryRow(`
			SELECT COUNT(*) FROM relationships WHERE source_id = ? AND target_id = ? AND rel_type = ?
		`, rel.SourceID, rel.TargetID, rel.RelType).Scan(&dup)
		if err != nil {
			return fmt.Errorf("check duplicate: %w", err)
		}
		if dup > 0 {
			return fmt.Errorf("%w: (%d, %d, %s)", ErrDuplicateEdge, rel.SourceID, rel.TargetID, rel.RelType)
		}

		auto := 0
		if rel.AutoInferred {
			auto = 1
		}
		result, err := tx.Exec(`
			INSERT INTO relationships (source_id, target_id, rel_type, strength, source_reliability,
				confidence_score, auto_inferred, shared_attributes_count, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?)
		`, rel.SourceID, rel.TargetID, rel.RelType, rel.Strength, rel.SourceReliability,
			auto, rel.SharedAttributesCount, now, now)
		if err != nil {
			return fmt.Errorf("create relationship: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("relationship insert id: %w", err)
		}
		rel.ID = id
		return nil
	})
	if err != nil {
		return err
	}

	rel.CreatedAt = now
	rel.UpdatedAt = now
	db.publish(Change{Kind: RelationshipChanged, NodeID: rel.SourceID, RelationshipID: rel.ID})
	return nil
}

// UpsertInferredRelationship creates or refreshes an auto-inferred edge,
// overwriting previously materialized strength, shared count, and confidence.
// An explicitly authored edge for the same triple is left untouched and
// reported via the bool return (explicit authorship takes precedence).
func (db *DB) UpsertInferredRelationship(rel *Relationship) (written bool, err error) {
	rel.AutoInferred = true
	if err := validateRelationship(rel); err != nil {
		return false, err
	}

	now := time.Now().UnixMilli()
	err = db.withTx(func(tx *sql.Tx) error {
		var existingID int64
		var existingAuto int
		err := tx.QueryRow(`
			SELECT id, auto_inferred FROM relationships
			WHERE source_id = ? AND target_id = ? AND rel_type = ?
		`, rel.SourceID, rel.TargetID, rel.RelType).Scan(&existingID, &existingAuto)

		switch {
		case err == sql.ErrNoRows:
			result, err := tx.Exec(`
				INSERT INTO relationships (source_id, target_id, rel_type, strength, source_reliability,
					confidence_score, auto_inferred, shared_attributes_count, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, ?)
			`, rel.SourceID, rel.TargetID, rel.RelType, rel.Strength, rel.SourceReliability,
				rel.ConfidenceScore, rel.SharedAttributesCount, now, now)
			if err != nil {
				return fmt.Errorf("insert inferred relationship: %w", err)
			}
			id, err := result.LastInsertId()
			if err != nil {
				return fmt.Errorf("inferred relationship insert id: %w", err)
			}
			rel.ID = id
			written = true
			return nil

		case err != nil:
			return fmt.Errorf("check existing relationship: %w", err)

		case existingAuto == 0:
			// Explicitly authored edge of the same triple: never overwritten
			// by inference.
			rel.ID = existingID
			written = false
			return nil

		default:
			_, err := tx.Exec(`
				UPDATE relationships SET strength = ?, source_reliability = ?, confidence_score = ?,
					confidence_last_updated = ?, shared_attributes_count = ?, updated_at = ?
				WHERE id = ?
			`, rel.Strength, rel.SourceReliability, rel.ConfidenceScore, now,
				rel.SharedAttributesCount, now, existingID)
			if err != nil {
				return fmt.Errorf("refresh inferred relationship: %w", err)
			}
			rel.ID = existingID
			written = true
			return nil
		}
	})
	if err != nil {
		return false, err
	}

	if written {
		db.publish(Change{Kind: RelationshipChanged, NodeID: rel.SourceID, RelationshipID: rel.ID})
	}
	return written, nil
}

// GetRelationship returns an edge by id, or ErrNotFound.
func (db *DB) GetRelationship(id int64) (*Relationship, error) {
	var r Relationship
	var auto int
	var confUpdated sql.NullInt64
	err := db.QueryRow(`
		SELECT id, source_id, target_id, rel_type, strength, source_reliability,
			confidence_score, confidence_last_updated, auto_inferred, shared_attributes_count, created_at, updated_at
		FROM relationships WHERE id = ?
	`, id).Scan(&r.ID, &r.SourceID, &r.TargetID, &r.RelType, &r.Strength, &r.SourceReliability,
		&r.ConfidenceScore, &confUpdated, &auto, &r.SharedAttributesCount, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, notFoundf("relationship %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get relationship: %w", err)
	}
	r.AutoInferred = auto != 0
	if confUpdated.Valid {
		r.ConfidenceLastUpdated = &confUpdated.Int64
	}
	return &r, nil
}

// DeleteRelationship removes an edge by id.
func (db *DB) DeleteRelationship(id int64) error {
	result, err := db.Exec("DELETE FROM relationships WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete relationship: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return notFoundf("relationship %d", id)
	}
	return nil
}

// ListRelationships returns all edges touching a node, in either direction.
func (db *DB) ListRelationships(nodeID int64) ([]Relationship, error) {
	rows, err := db.Query(`
		SELECT id, source_id, target_id, rel_type, strength, source_reliability,
			confidence_score, confidence_last_updated, auto_inferred, shared_attributes_count, created_at, updated_at
		FROM relationships WHERE source_id = ? OR target_id = ?
		ORDER BY id
	`, nodeID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	defer rows.Close()
	return scanRelationships(rows)
}

// StaleRelationshipIDs returns up to limit edge ids whose materialized
// confidence is older than maxAge, oldest first.
func (db *DB) StaleRelationshipIDs(maxAge time.Duration, limit int) ([]int64, error) {
	if limit <= 0 {
		return nil, validationf("limit must be positive")
	}
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	rows, err := db.Query(`
		SELECT id FROM relationships
		WHERE confidence_last_updated IS NULL OR confidence_last_updated < ?
		ORDER BY confidence_last_updated ASC NULLS FIRST, id ASC
		LIMIT ?
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("stale relationship ids: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// SetRelationshipConfidence persists a materialized score plus timestamp.
func (db *DB) SetRelationshipConfidence(id int64, score float64) error {
	if !inUnitRange(score) {
		return validationf("confidence score %f out of range", score)
	}
	now := time.Now().UnixMilli()
	result, err := db.Exec(`
		UPDATE relationships SET confidence_score = ?, confidence_last_updated = ? WHERE id = ?
	`, score, now, id)
	if err != nil {
		return fmt.Errorf("set relationship confidence: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return notFoundf("relationship %d", id)
	}
	return nil
}

// DeleteDecayedInferredRelationships removes auto-inferred edges whose
// confidence has stayed below threshold past the retention window. Explicit
// edges are never cleaned up automatically.
func (db *DB) DeleteDecayedInferredRelationships(threshold float64, retention time.Duration) (int, error) {
	if !inUnitRange(threshold) {
		return 0, validationf("threshold %f out of range", threshold)
	}
	cutoff := time.Now().Add(-retention).UnixMilli()
	result, err := db.Exec(`
		DELETE FROM relationships
		WHERE auto_inferred = 1
		  AND confidence_score < ?
		  AND confidence_last_updated IS NOT NULL
		  AND confidence_last_updated < ?
	`, threshold, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete decayed relationships: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// CountRelationships returns total and auto-inferred edge counts.
func (db *DB) CountRelationships() (total, inferred int, err error) {
	err = db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(auto_inferred), 0) FROM relationships
	`).Scan(&total, &inferred)
	return total, inferred, err
}

func scanRelationships(rows *sql.Rows) ([]Relationship, error) {
	var rels []Relationship
	for rows.Next() {
		var r Relationship
		var auto int
		var confUpdated sql.NullInt64
		if err := rows.Scan(&r.ID, &r.SourceID, &r.TargetID, &r.RelType, &r.Strength, &r.SourceReliability,
			&r.ConfidenceScore, &confUpdated, &auto, &r.SharedAttributesCount, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		r.AutoInferred = auto != 0
		if confUpdated.Valid {
			r.ConfidenceLastUpdated = &confUpdated.Int64
		}
		rels = append(rels, r)
	}
	return rels, rows.Err()
}
