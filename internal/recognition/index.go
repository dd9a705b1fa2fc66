package recognition

import (
	"math"
	"math/rand"
	"sync"

	"github.com/coder/hnsw"
	"github.com/kozaktomas/facegate/internal/embedding"
)

// HNSW parameters for 128-dim face descriptors.
const (
	// hnswMaxNeighbors (M) is the maximum number of neighbors per node.
	hnswMaxNeighbors = 16

	// hnswEfSearch is the search candidate pool size.
	// Higher values improve recall but slow down search.
	hnswEfSearch = 100

	// hnswCandidates is how many approximate neighbours are re-ranked by exact distance.
	hnswCandidates = 3
)

// Index answers "how far is the closest enrolled face" for the open-set distance gate.
// It is built once from the embeddings a snapshot was trained on and never mutated.
type Index struct {
	graph  *hnsw.Graph[int]
	labels []int
	mu     sync.RWMutex
}

// NewIndex builds an index over embeddings; labels[i] is the identity of embeddings[i].
func NewIndex(embeddings []embedding.Embedding, labels []int) *Index {
	g := hnsw.NewGraph[int]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors)
	g.EfSearch = hnswEfSearch
	g.Distance = hnsw.EuclideanDistance
	g.Rng = rand.New(rand.NewSource(1)) //nolint:gosec // level generation only

	nodes := make([]hnsw.Node[int], 0, len(embeddings))
	for i := range embeddings {
		nodes = append(nodes, hnsw.MakeNode(i, embeddings[i].Slice()))
	}
	if len(nodes) > 0 {
		g.Add(nodes...)
	}

	labelsCopy := make([]int, len(labels))
	copy(labelsCopy, labels)

	return &Index{graph: g, labels: labelsCopy}
}

// Nearest returns the label of and Euclidean distance to the closest indexed embedding.
// ok is false for an empty index.
func (ix *Index) Nearest(query embedding.Embedding) (label int, distance float64, ok bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.graph == nil || ix.graph.Len() == 0 {
		return 0, 0, false
	}

	neighbors := ix.graph.Search(query.Slice(), hnswCandidates)
	distance = math.Inf(1)
	for _, n := range neighbors {
		if len(n.Value) != embedding.Dim {
			continue
		}
		d := embedding.EuclideanDistance(query, embedding.Embedding(n.Value))
		if d < distance {
			distance = d
			label = ix.labels[n.Key]
			ok = true
		}
	}
	return label, distance, ok
}

// Len returns the number of indexed embeddings.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.labels)
}
