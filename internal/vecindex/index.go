// Package vecindex provides approximate k-nearest-neighbor search over node
// embeddings using an IVF-style partitioned index: vectors cluster around
// centroids and a query probes only a fraction of the partitions.
package vecindex

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/lazypower/lattice/internal/store"
)

// kmeans iteration count. Centroid assignment converges quickly on the small
// partition counts this index uses; full convergence is not worth the cost.
const lloydIterations = 5

// Index is an in-memory IVF-style partition index over node embeddings.
// All methods are safe for concurrent use.
type Index struct {
	mu         sync.RWMutex
	dimensions int
	centroids  [][]float64
	lists      [][]entry // parallel to centroids
	count      int
	drifted    bool
}

type entry struct {
	nodeID int64
	vector []float64
}

// Match is one similarity search hit.
type Match struct {
	NodeID     int64
	Similarity float64
}

// New returns an empty index for vectors of the given dimension.
func New(dimensions int) *Index {
	return &Index{dimensions: dimensions}
}

// Dimensions returns the fixed embedding dimension the index accepts.
func (ix *Index) Dimensions() int {
	return ix.dimensions
}

// Count returns the number of indexed vectors.
func (ix *Index) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.count
}

// PartitionCount returns the current number of partitions, zero before the
// first build.
func (ix *Index) PartitionCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.centroids)
}

// Drifted reports whether the recommended partition count has moved past the
// drift threshold since the last build.
func (ix *Index) Drifted() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.drifted
}

// Build (re)clusters all records into nlist partitions. Existing contents
// are replaced.
func (ix *Index) Build(records []store.VectorRecord, nlist int) error {
	if nlist < 1 {
		return fmt.Errorf("partition count must be positive, got %d", nlist)
	}

	entries := make([]entry, 0, len(records))
	for _, r := range records {
		if len(r.Embedding) != ix.dimensions {
			return fmt.Errorf("node %d: dimension mismatch: got %d, want %d", r.NodeID, len(r.Embedding), ix.dimensions)
		}
		entries = append(entries, entry{nodeID: r.NodeID, vector: r.Embedding})
	}

	if nlist > len(entries) && len(entries) > 0 {
		nlist = len(entries)
	}

	centroids, lists := cluster(entries, nlist, ix.dimensions)

	ix.mu.Lock()
	ix.centroids = centroids
	ix.lists = lists
	ix.count = len(entries)
	ix.drifted = false
	ix.mu.Unlock()
	return nil
}

// Upsert adds or replaces one vector, assigning it to the nearest existing
// centroid. Partition boundaries are not recomputed; that is the rebuild's
// job.
func (ix *Index) Upsert(nodeID int64, vector []float64) error {
	if len(vector) != ix.dimensions {
		return fmt.Errorf("dimension mismatch: got %d, want %d", len(vector), ix.dimensions)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if len(ix.centroids) == 0 {
		// First vector seeds a single partition.
		ix.centroids = [][]float64{append([]float64(nil), vector...)}
		ix.lists = [][]entry{nil}
	}

	removed := ix.removeLocked(nodeID)
	best := nearestCentroid(ix.centroids, vector)
	ix.lists[best] = append(ix.lists[best], entry{nodeID: nodeID, vector: append([]float64(nil), vector...)})
	if !removed {
		ix.count++
	}
	return nil
}

// Remove drops a node's vector from the index if present.
func (ix *Index) Remove(nodeID int64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.removeLocked(nodeID) {
		ix.count--
	}
}

func (ix *Index) removeLocked(nodeID int64) bool {
	for li, list := range ix.lists {
		for i, e := range list {
			if e.nodeID == nodeID {
				ix.lists[li] = append(list[:i], list[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Search returns up to k nodes by descending cosine similarity to the query,
// ties broken by ascending node id. minSimilarity is an inclusive lower
// bound. Only the nearest probeFraction of partitions are scanned.
func (ix *Index) Search(query []float64, k int, minSimilarity, probeFraction float64) ([]Match, error) {
	if len(query) != ix.dimensions {
		return nil, fmt.Errorf("dimension mismatch: got %d, want %d", len(query), ix.dimensions)
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.count == 0 {
		return nil, nil
	}

	probes := int(math.Ceil(probeFraction * float64(len(ix.centroids))))
	if probes < 1 {
		probes = 1
	}
	if probes > len(ix.centroids) {
		probes = len(ix.centroids)
	}

	var matches []Match
	for _, li := range nearestCentroids(ix.centroids, query, probes) {
		for _, e := range ix.lists[li] {
			sim := CosineSimilarity(query, e.vector)
			if sim >= minSimilarity {
				matches = append(matches, Match{NodeID: e.nodeID, Similarity: sim})
			}
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].NodeID < matches[j].NodeID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// CosineSimilarity computes the cosine of the angle between two equal-length
// vectors, accumulating in float64. Zero vectors yield 0.
func CosineSimilarity(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// cluster runs a few Lloyd iterations of kmeans over the entries. Centroids
// are seeded deterministically by striding the input.
func cluster(entries []entry, nlist, dimensions int) ([][]float64, [][]entry) {
	if len(entries) == 0 {
		centroids := make([][]float64, nlist)
		for i := range centroids {
			centroids[i] = make([]float64, dimensions)
		}
		return centroids, make([][]entry, nlist)
	}

	centroids := make([][]float64, nlist)
	stride := len(entries) / nlist
	if stride < 1 {
		stride = 1
	}
	for i := range centroids {
		centroids[i] = append([]float64(nil), entries[(i*stride)%len(entries)].vector...)
	}

	var lists [][]entry
	for iter := 0; iter < lloydIterations; iter++ {
		lists = make([][]entry, nlist)
		for _, e := range entries {
			best := nearestCentroid(centroids, e.vector)
			lists[best] = append(lists[best], e)
		}

		for i, list := range lists {
			if len(list) == 0 {
				continue
			}
			mean := make([]float64, dimensions)
			for _, e := range list {
				for d, v := range e.vector {
					mean[d] += v
				}
			}
			for d := range mean {
				mean[d] /= float64(len(list))
			}
			centroids[i] = mean
		}
	}
	return centroids, lists
}

func nearestCentroid(centroids [][]float64, vector []float64) int {
	best, bestSim := 0, math.Inf(-1)
	for i, c := range centroids {
		if sim := CosineSimilarity(c, vector); sim > bestSim {
			best, bestSim = i, sim
		}
	}
	return best
}

func nearestCentroids(centroids [][]float64, vector []float64, n int) []int {
	type ranked struct {
		idx int
		sim float64
	}
	rankings := make([]ranked, len(centroids))
	for i, c := range centroids {
		rankings[i] = ranked{idx: i, sim: CosineSimilarity(c, vector)}
	}
	sort.Slice(rankings, func(i, j int) bool { return rankings[i].sim > rankings[j].sim })

	out := make([]int, 0, n)
	for i := 0; i < n && i < len(rankings); i++ {
		out = append(out, rankings[i].idx)
	}
	return out
}
