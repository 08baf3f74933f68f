package vector

import (
	"sort"
	"sync"

	"github.com/skuldgraph/skuld/pkg/storage"
)

// Linear is the exact kNN backend: a map of stored vectors scanned in
// full on every query.
//
// Search is O(n×d), which is fine for moderate collections and gives
// exact results with no tuning. Use the HNSW backend when the
// collection outgrows a full scan.
//
// Example:
//
//	idx := vector.NewLinear()
//	idx.Insert(1, []float32{0, 0})
//	idx.Insert(2, []float32{1, 0})
//	hits := idx.KNN([]float32{0, 0}, 1) // [{1, 0}]
type Linear struct {
	mu      sync.RWMutex
	vectors map[storage.NodeID][]float32
}

// NewLinear creates an empty exact index.
func NewLinear() *Linear {
	return &Linear{vectors: make(map[storage.NodeID][]float32)}
}

// Insert stores a copy of embedding under id, replacing any prior
// vector.
func (l *Linear) Insert(id storage.NodeID, embedding []float32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.vectors[id] = append([]float32(nil), embedding...)
}

// KNN scans every stored vector, skipping those whose length differs
// from the query, and returns the k closest by L2 distance. The sort
// is stable so equal-distance entries keep scan order.
func (l *Linear) KNN(query []float32, k int) []Result {
	if k <= 0 {
		return []Result{}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	results := make([]Result, 0, len(l.vectors))
	for id, vec := range l.vectors {
		if len(vec) != len(query) {
			continue
		}
		results = append(results, Result{ID: id, Distance: L2Distance(query, vec)})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})

	if len(results) > k {
		results = results[:k]
	}
	return results
}

// Contains reports whether id has a stored vector.
func (l *Linear) Contains(id storage.NodeID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.vectors[id]
	return ok
}

// Len returns the number of stored vectors.
func (l *Linear) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.vectors)
}

// Get returns a copy of the stored vector for id, if any.
func (l *Linear) Get(id storage.NodeID) ([]float32, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	vec, ok := l.vectors[id]
	if !ok {
		return nil, false
	}
	return append([]float32(nil), vec...), true
}

var _ Index = (*Linear)(nil)
