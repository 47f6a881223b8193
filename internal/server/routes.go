package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/lattice/internal/scheduler"
	"github.com/lazypower/lattice/internal/store"
)

func urlID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

type nodeRequest struct {
	Name     string `json:"name"`
	NodeType string `json:"node_type"`
	Metadata string `json:"metadata"`
}

func nodeResponse(n *store.Node) map[string]any {
	resp := map[string]any{
		"id":               n.ID,
		"name":             n.Name,
		"node_type":        n.NodeType,
		"metadata":         n.Metadata,
		"confidence_score": n.ConfidenceScore,
		"created_at":       n.CreatedAt,
		"updated_at":       n.UpdatedAt,
	}
	if n.ConfidenceLastUpdated != nil {
		resp["confidence_last_updated"] = *n.ConfidenceLastUpdated
	}
	return resp
}

func (s *Server) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	var req nodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}

	node := &store.Node{Name: req.Name, NodeType: req.NodeType, Metadata: req.Metadata}
	if err := s.engine.CreateNode(node); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, nodeResponse(node))
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "nodeID")
	if err != nil {
		http.Error(w, `{"error":"invalid node id"}`, http.StatusBadRequest)
		return
	}

	node, err := s.engine.GetNode(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nodeResponse(node))
}

func (s *Server) handleUpdateNode(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "nodeID")
	if err != nil {
		http.Error(w, `{"error":"invalid node id"}`, http.StatusBadRequest)
		return
	}

	var req nodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}

	node := &store.Node{ID: id, Name: req.Name, NodeType: req.NodeType, Metadata: req.Metadata}
	if err := s.engine.UpdateNode(node); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nodeResponse(node))
}

func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "nodeID")
	if err != nil {
		http.Error(w, `{"error":"invalid node id"}`, http.StatusBadRequest)
		return
	}

	if err := s.engine.DeleteNode(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleNodeConfidence(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "nodeID")
	if err != nil {
		http.Error(w, `{"error":"invalid node id"}`, http.StatusBadRequest)
		return
	}

	score, err := s.engine.GetNodeConfidence(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"node_id": id, "confidence_score": score})
}

type attributeRequest struct {
	AttrType          string  `json:"attr_type"`
	Key               string  `json:"key"`
	Value             string  `json:"value"`
	Weight            float64 `json:"weight"`
	SourceReliability float64 `json:"source_reliability"`
	LastVerified      int64   `json:"last_verified"`
}

func (s *Server) handleAddAttribute(w http.ResponseWriter, r *http.Request) {
	nodeID, err := urlID(r, "nodeID")
	if err != nil {
		http.Error(w, `{"error":"invalid node id"}`, http.StatusBadRequest)
		return
	}

	var req attributeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}

	attr := &store.Attribute{
		NodeID:            nodeID,
		AttrType:          req.AttrType,
		Key:               req.Key,
		Value:             req.Value,
		Weight:            req.Weight,
		SourceReliability: req.SourceReliability,
		LastVerified:      req.LastVerified,
	}
	if err := s.engine.AddAttribute(attr); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, attr)
}

func (s *Server) handleGetAttributes(w http.ResponseWriter, r *http.Request) {
	nodeID, err := urlID(r, "nodeID")
	if err != nil {
		http.Error(w, `{"error":"invalid node id"}`, http.StatusBadRequest)
		return
	}

	attrs, err := s.engine.GetAttributes(nodeID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"node_id": nodeID, "attributes": attrs})
}

func (s *Server) handleUpdateAttribute(w http.ResponseWriter, r *http.Request) {
	attrID, err := urlID(r, "attrID")
	if err != nil {
		http.Error(w, `{"error":"invalid attribute id"}`, http.StatusBadRequest)
		return
	}

	existing, err := s.engine.DB.GetAttribute(attrID)
	if err != nil {
		writeError(w, err)
		return
	}

	var req attributeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}

	attr := &store.Attribute{
		ID:                attrID,
		NodeID:            existing.NodeID,
		AttrType:          req.AttrType,
		Key:               req.Key,
		Value:             req.Value,
		Weight:            req.Weight,
		SourceReliability: req.SourceReliability,
		LastVerified:      req.LastVerified,
	}
	if err := s.engine.UpdateAttribute(attr); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attr)
}

func (s *Server) handleDeleteAttribute(w http.ResponseWriter, r *http.Request) {
	attrID, err := urlID(r, "attrID")
	if err != nil {
		http.Error(w, `{"error":"invalid attribute id"}`, http.StatusBadRequest)
		return
	}

	if err := s.engine.DeleteAttribute(attrID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type relationshipRequest struct {
	SourceID          int64   `json:"source_id"`
	TargetID          int64   `json:"target_id"`
	RelType           string  `json:"rel_type"`
	Strength          float64 `json:"strength"`
	SourceReliability float64 `json:"source_reliability"`
}

func (s *Server) handleCreateRelationship(w http.ResponseWriter, r *http.Request) {
	var req relationshipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}

	rel := &store.Relationship{
		SourceID:          req.SourceID,
		TargetID:          req.TargetID,
		RelType:           req.RelType,
		Strength:          req.Strength,
		SourceReliability: req.SourceReliability,
	}
	if err := s.engine.CreateRelationship(rel); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rel)
}

func (s *Server) handleDeleteRelationship(w http.ResponseWriter, r *http.Request) {
	relID, err := urlID(r, "relID")
	if err != nil {
		http.Error(w, `{"error":"invalid relationship id"}`, http.StatusBadRequest)
		return
	}

	if err := s.engine.DeleteRelationship(relID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListRelationships(w http.ResponseWriter, r *http.Request) {
	nodeID, err := urlID(r, "nodeID")
	if err != nil {
		http.Error(w, `{"error":"invalid node id"}`, http.StatusBadRequest)
		return
	}

	rels, err := s.engine.ListRelationships(nodeID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"node_id": nodeID, "relationships": rels})
}

func (s *Server) handleRelationshipConfidence(w http.ResponseWriter, r *http.Request) {
	relID, err := urlID(r, "relID")
	if err != nil {
		http.Error(w, `{"error":"invalid relationship id"}`, http.StatusBadRequest)
		return
	}

	score, err := s.engine.GetRelationshipConfidence(relID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"relationship_id": relID, "confidence_score": score})
}

func (s *Server) handleUpsertEmbedding(w http.ResponseWriter, r *http.Request) {
	nodeID, err := urlID(r, "nodeID")
	if err != nil {
		http.Error(w, `{"error":"invalid node id"}`, http.StatusBadRequest)
		return
	}

	var req struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}

	if err := s.engine.UpsertEmbedding(nodeID, req.Embedding); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"node_id": nodeID, "dimensions": len(req.Embedding)})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Embedding     []float64 `json:"embedding"`
		K             int       `json:"k"`
		MinSimilarity float64   `json:"min_similarity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if req.K <= 0 {
		req.K = 10
	}

	matches, err := s.engine.SimilaritySearch(req.Embedding, req.K, req.MinSimilarity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

func (s *Server) handleRunMaintenance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MaxBatchSize      int `json:"max_batch_size"`
		MaxRuntimeSeconds int `json:"max_runtime_seconds"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
			return
		}
	}
	if req.MaxBatchSize <= 0 {
		req.MaxBatchSize = 100
	}
	if req.MaxRuntimeSeconds <= 0 {
		req.MaxRuntimeSeconds = 60
	}

	summary, err := s.engine.RunMaintenance(r.Context(), req.MaxBatchSize,
		time.Duration(req.MaxRuntimeSeconds)*time.Second)
	if err != nil {
		if errors.Is(err, scheduler.ErrRunInProgress) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleApplyConfig(w http.ResponseWriter, r *http.Request) {
	var overrides map[string]string
	if err := json.NewDecoder(r.Body).Decode(&overrides); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}

	if err := s.engine.ApplyConfig(overrides); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}
