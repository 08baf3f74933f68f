package vector

import "github.com/skuldgraph/skuld/pkg/storage"

// Result is a single kNN hit: a node id and its L2 distance from the
// query vector.
type Result struct {
	ID       storage.NodeID
	Distance float32
}

// Index is the vector search capability shared by the exact and
// approximate backends.
//
// Implementations MUST be thread-safe: the async indexer inserts from
// a background goroutine while readers run kNN queries concurrently.
//
// Semantics:
//   - Insert replaces any prior vector for id and never fails
//   - KNN returns at most k results sorted by ascending L2 distance;
//     an empty index or k <= 0 yields an empty slice
//   - Stored vectors whose length differs from the query are not
//     returned
type Index interface {
	Insert(id storage.NodeID, embedding []float32)
	KNN(query []float32, k int) []Result
	Contains(id storage.NodeID) bool
	Len() int
}
