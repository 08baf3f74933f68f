package skuld

import (
	"sort"

	"github.com/skuldgraph/skuld/pkg/storage"
	"github.com/skuldgraph/skuld/pkg/vector"
)

// HybridParams weights the two components of a hybrid score.
type HybridParams struct {
	// Alpha weights the vector-similarity term.
	Alpha float32
	// Beta weights the graph-proximity term.
	Beta float32
}

// DefaultHybridParams gives both signals equal weight.
func DefaultHybridParams() HybridParams {
	return HybridParams{Alpha: 0.5, Beta: 0.5}
}

// HybridResult is one ranked hit of a hybrid query.
type HybridResult struct {
	// ID is the matched node.
	ID storage.NodeID
	// Score is the fused score; higher is better.
	Score float32
	// VectorDistance is the raw L2 distance from the query vector.
	VectorDistance float32
	// GraphDistance is the hop count from the start node.
	GraphDistance int
	// Path is the first BFS path that reached the node, start
	// inclusive.
	Path []storage.NodeID
}

// HybridScore fuses an L2 distance and a hop count:
//
//	score = alpha·(1 − min(1, vecDist)) + beta·1/(1 + graphDist)
//
// Clamping the L2 term at 1 keeps unnormalized and cosine-pre-scaled
// vectors on the same bounded scale; the graph term decreases
// monotonically in hops and stays in (0, 1]. The score is bounded by
// alpha + beta.
func HybridScore(vecDist float32, graphDist int, params HybridParams) float32 {
	vecSim := 1 - vecDist
	if vecDist > 1 {
		vecSim = 0
	}
	graphSim := 1 / (1 + float32(graphDist))
	return params.Alpha*vecSim + params.Beta*graphSim
}

// HybridQuery explores the graph from start up to maxHops, scores each
// visited node that carries a dimension-matching embedding against
// query, and returns at most k results by descending fused score.
//
// Nodes without an embedding, or whose embedding length differs from
// the query's, are dropped from the candidate set. Each result carries
// the fused score, the raw vector distance, the hop count, and the
// shortest-hop path found by the traversal.
func (db *DB) HybridQuery(query []float32, start storage.NodeID, maxHops, k int, params HybridParams) []HybridResult {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if !db.nodes.Contains(start) && !db.adjacency.Contains(start) {
		return []HybridResult{}
	}

	visits := db.adjacency.BFSPaths(start, maxHops)

	results := make([]HybridResult, 0, len(visits))
	for id, visit := range visits {
		node, ok := db.nodes.Get(id)
		if !ok || len(node.Embedding) == 0 || len(node.Embedding) != len(query) {
			continue
		}

		vecDist := vector.L2Distance(query, node.Embedding)
		results = append(results, HybridResult{
			ID:             id,
			Score:          HybridScore(vecDist, visit.Depth, params),
			VectorDistance: vecDist,
			GraphDistance:  visit.Depth,
			Path:           visit.Path,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if k < 0 {
		k = 0
	}
	if len(results) > k {
		results = results[:k]
	}
	return results
}
