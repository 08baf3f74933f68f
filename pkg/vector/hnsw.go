package vector

import (
	"container/heap"
	"math"
	"math/rand"
	"sync"

	"github.com/skuldgraph/skuld/pkg/storage"
)

// HNSW construction and search parameters.
const (
	// hnswM bounds connections per element per layer.
	hnswM = 16
	// hnswEfConstruction is the candidate-set size while building.
	hnswEfConstruction = 200
	// hnswMaxLayer caps the layer assigned to any element.
	hnswMaxLayer = 16
	// hnswMinEfSearch floors the search beam so recall stays bounded
	// for small k.
	hnswMinEfSearch = 50
	// hnswFetchFactor over-fetches candidates so a node whose stale
	// copies crowd its neighborhood still surfaces its live copy.
	hnswFetchFactor = 5
)

// hnswElement is one physical entry in the proximity graph. Elements
// are never removed; superseded ones stay in the graph as stale
// entries and are filtered at query time.
type hnswElement struct {
	internal  uint64
	vec       []float32
	level     int
	neighbors [][]uint64
}

// HNSW is the approximate kNN backend: a hierarchical
// navigable-small-world graph with shadow-update reconciliation.
//
// The underlying graph cannot delete, so Insert mints a fresh internal
// id for every call, publishes it as the current one for the node, and
// leaves the prior physical entry in place. KNN over-fetches, resolves
// each candidate through the internal→node map, and keeps only
// candidates whose internal id is still current — so once Insert(id,
// v2) returns, any KNN that returns id reports the distance to v2.
type HNSW struct {
	mu       sync.RWMutex
	elements map[uint64]*hnswElement
	entry    uint64
	maxLevel int

	nodeToInternal map[storage.NodeID]uint64
	internalToNode map[uint64]storage.NodeID
	nextInternal   uint64

	levelMult float64
}

// NewHNSW creates an empty approximate index.
func NewHNSW() *HNSW {
	return &HNSW{
		elements:       make(map[uint64]*hnswElement),
		nodeToInternal: make(map[storage.NodeID]uint64),
		internalToNode: make(map[uint64]storage.NodeID),
		nextInternal:   1,
		levelMult:      1.0 / math.Log(float64(hnswM)),
	}
}

// Insert adds embedding under a fresh internal id and publishes it as
// the current entry for id. Insert never fails; any prior entry for id
// becomes stale.
func (h *HNSW) Insert(id storage.NodeID, embedding []float32) {
	h.mu.Lock()
	defer h.mu.Unlock()

	internal := h.nextInternal
	h.nextInternal++

	level := h.randomLevel()
	element := &hnswElement{
		internal:  internal,
		vec:       append([]float32(nil), embedding...),
		level:     level,
		neighbors: make([][]uint64, level+1),
	}
	for i := range element.neighbors {
		element.neighbors[i] = make([]uint64, 0, hnswM)
	}
	h.elements[internal] = element

	if h.entry == 0 {
		h.entry = internal
		h.maxLevel = level
	} else {
		h.link(element)
	}

	h.nodeToInternal[id] = internal
	h.internalToNode[internal] = id
}

// link wires a new element into the graph following the standard HNSW
// construction: greedy descent above the element's level, then
// beam-limited candidate search and mutual neighbor selection on each
// level down to zero.
func (h *HNSW) link(element *hnswElement) {
	ep := h.entry
	epLevel := h.elements[ep].level

	for l := epLevel; l > element.level; l-- {
		ep = h.greedyClosest(element.vec, ep, l)
	}

	for l := min(element.level, epLevel); l >= 0; l-- {
		candidates := h.searchLayer(element.vec, ep, hnswEfConstruction, l)
		element.neighbors[l] = h.selectNeighbors(element.vec, candidates, hnswM)

		for _, neighborID := range element.neighbors[l] {
			neighbor := h.elements[neighborID]
			if len(neighbor.neighbors) <= l {
				continue
			}
			if len(neighbor.neighbors[l]) < hnswM {
				neighbor.neighbors[l] = append(neighbor.neighbors[l], element.internal)
			} else {
				extended := append(neighbor.neighbors[l], element.internal)
				neighbor.neighbors[l] = h.selectNeighbors(neighbor.vec, extended, hnswM)
			}
		}

		if len(candidates) > 0 {
			ep = candidates[0]
		}
	}

	if element.level > h.maxLevel {
		h.entry = element.internal
		h.maxLevel = element.level
	}
}

// KNN searches the graph for the k nearest live vectors. It fetches
// 5·k candidates with beam max(50, k), widened to 5·k when that is
// larger so the beam can hold every fetched candidate, drops stale and duplicate
// entries, skips vectors whose length differs from the query, and
// stops once k valid results are collected.
func (h *HNSW) KNN(query []float32, k int) []Result {
	if k <= 0 {
		return []Result{}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.elements) == 0 {
		return []Result{}
	}

	ef := hnswMinEfSearch
	if k > ef {
		ef = k
	}
	fetchK := k * hnswFetchFactor
	if fetchK > ef {
		ef = fetchK
	}

	ep := h.entry
	for l := h.maxLevel; l > 0; l-- {
		ep = h.greedyClosest(query, ep, l)
	}
	candidates := h.searchLayer(query, ep, ef, 0)
	if len(candidates) > fetchK {
		candidates = candidates[:fetchK]
	}

	results := make([]Result, 0, k)
	seen := make(map[storage.NodeID]struct{}, k)
	for _, internal := range candidates {
		nodeID, ok := h.internalToNode[internal]
		if !ok {
			continue
		}
		if current, ok := h.nodeToInternal[nodeID]; !ok || current != internal {
			continue
		}
		if _, dup := seen[nodeID]; dup {
			continue
		}
		vec := h.elements[internal].vec
		if len(vec) != len(query) {
			continue
		}
		seen[nodeID] = struct{}{}
		results = append(results, Result{ID: nodeID, Distance: L2Distance(query, vec)})
		if len(results) >= k {
			break
		}
	}

	return results
}

// Contains reports whether id has a current entry.
func (h *HNSW) Contains(id storage.NodeID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.nodeToInternal[id]
	return ok
}

// Len returns the number of live (current) entries, not the physical
// element count.
func (h *HNSW) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodeToInternal)
}

// greedyClosest walks one layer greedily toward query, returning the
// local minimum.
func (h *HNSW) greedyClosest(query []float32, entryID uint64, level int) uint64 {
	current := entryID
	currentDist := h.distance(query, current)

	for {
		improved := false
		element := h.elements[current]
		if len(element.neighbors) > level {
			for _, neighborID := range element.neighbors[level] {
				if d := h.distance(query, neighborID); d < currentDist {
					current = neighborID
					currentDist = d
					improved = true
				}
			}
		}
		if !improved {
			return current
		}
	}
}

// searchLayer runs the beam search on one layer, returning up to ef
// candidate internal ids sorted by ascending distance.
func (h *HNSW) searchLayer(query []float32, entryID uint64, ef, level int) []uint64 {
	visited := map[uint64]struct{}{entryID: {}}

	candidates := &distHeap{}
	heap.Init(candidates)
	results := &distHeap{}
	heap.Init(results)

	entryDist := h.distance(query, entryID)
	heap.Push(candidates, distItem{id: entryID, dist: entryDist, isMax: false})
	heap.Push(results, distItem{id: entryID, dist: entryDist, isMax: true})

	for candidates.Len() > 0 {
		closest := heap.Pop(candidates).(distItem)

		if results.Len() >= ef && closest.dist > (*results)[0].dist {
			break
		}

		element := h.elements[closest.id]
		if len(element.neighbors) <= level {
			continue
		}
		for _, neighborID := range element.neighbors[level] {
			if _, seen := visited[neighborID]; seen {
				continue
			}
			visited[neighborID] = struct{}{}

			dist := h.distance(query, neighborID)
			if results.Len() < ef || dist < (*results)[0].dist {
				heap.Push(candidates, distItem{id: neighborID, dist: dist, isMax: false})
				heap.Push(results, distItem{id: neighborID, dist: dist, isMax: true})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	ordered := make([]uint64, results.Len())
	for i := results.Len() - 1; i >= 0; i-- {
		ordered[i] = heap.Pop(results).(distItem).id
	}
	return ordered
}

// selectNeighbors keeps the m closest candidates to query.
func (h *HNSW) selectNeighbors(query []float32, candidates []uint64, m int) []uint64 {
	if len(candidates) <= m {
		return append([]uint64(nil), candidates...)
	}

	scored := &distHeap{}
	heap.Init(scored)
	for _, id := range candidates {
		heap.Push(scored, distItem{id: id, dist: h.distance(query, id), isMax: false})
	}

	selected := make([]uint64, m)
	for i := 0; i < m; i++ {
		selected[i] = heap.Pop(scored).(distItem).id
	}
	return selected
}

func (h *HNSW) distance(query []float32, internal uint64) float64 {
	return float64(L2Distance(query, h.elements[internal].vec))
}

// randomLevel draws an exponentially-distributed layer, capped at
// hnswMaxLayer.
func (h *HNSW) randomLevel() int {
	r := rand.Float64()
	if r == 0 {
		return hnswMaxLayer
	}
	level := int(-math.Log(r) * h.levelMult)
	if level > hnswMaxLayer {
		level = hnswMaxLayer
	}
	return level
}

// distItem and distHeap implement both the min-heap of pending
// candidates and the max-heap of retained results, selected by isMax.
type distItem struct {
	id    uint64
	dist  float64
	isMax bool
}

type distHeap []distItem

func (d distHeap) Len() int { return len(d) }
func (d distHeap) Less(i, j int) bool {
	if d[i].isMax {
		return d[i].dist > d[j].dist
	}
	return d[i].dist < d[j].dist
}
func (d distHeap) Swap(i, j int) { d[i], d[j] = d[j], d[i] }

func (d *distHeap) Push(x any) {
	*d = append(*d, x.(distItem))
}

func (d *distHeap) Pop() any {
	old := *d
	n := len(old)
	item := old[n-1]
	*d = old[:n-1]
	return item
}

var _ Index = (*HNSW)(nil)
