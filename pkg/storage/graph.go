package storage

import "sync"

// NodeTable is the authoritative mapping from node id to the latest
// node record. Appending a node with an existing id replaces the prior
// entry wholesale (last-write-wins).
//
// Thread Safety:
//
//	All methods are safe for concurrent use. Returned nodes are the
//	stored instances; callers that hand them out across an API
//	boundary should clone first.
type NodeTable struct {
	mu    sync.RWMutex
	nodes map[NodeID]*Node
}

// NewNodeTable creates an empty node table.
func NewNodeTable() *NodeTable {
	return &NodeTable{nodes: make(map[NodeID]*Node)}
}

// Put stores node as the latest record for its id, replacing any prior
// entry.
func (t *NodeTable) Put(node *Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes[node.ID] = node
}

// Get returns the current record for id, or false if unknown.
func (t *NodeTable) Get(id NodeID) (*Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	node, ok := t.nodes[id]
	return node, ok
}

// Contains reports whether id has a record.
func (t *NodeTable) Contains(id NodeID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.nodes[id]
	return ok
}

// List returns all current records in unspecified order.
func (t *NodeTable) List() []*Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Node, 0, len(t.nodes))
	for _, node := range t.nodes {
		out = append(out, node)
	}
	return out
}

// AppendOutgoing appends edge to the stored record's edge sequence if
// the from-node exists. The durable form of the edge is the standalone
// edge record in the WAL; this keeps only the in-memory copy current.
func (t *NodeTable) AppendOutgoing(edge Edge) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if node, ok := t.nodes[edge.From]; ok {
		node.Edges = append(node.Edges, edge)
	}
}

// SetEmbedding rewrites the stored record's embedding if the node
// exists.
func (t *NodeTable) SetEmbedding(id NodeID, vec []float32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if node, ok := t.nodes[id]; ok {
		node.Embedding = append([]float32(nil), vec...)
	}
}

// Len returns the number of stored records.
func (t *NodeTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// AdjacencyIndex is the directed multi-edge index. Each node maps to
// its outgoing targets in append order; adding an edge also
// materializes an (initially empty) entry for the target so traversal
// can reach sink nodes.
type AdjacencyIndex struct {
	mu        sync.RWMutex
	adjacency map[NodeID][]NodeID
}

// NewAdjacencyIndex creates an empty adjacency index.
func NewAdjacencyIndex() *AdjacencyIndex {
	return &AdjacencyIndex{adjacency: make(map[NodeID][]NodeID)}
}

// Seed installs a replayed adjacency map, taking ownership of it.
func (a *AdjacencyIndex) Seed(adjacency map[NodeID][]NodeID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.adjacency = adjacency
}

// AddEdge appends to to from's outgoing list. Duplicate edges are
// allowed and preserved.
func (a *AdjacencyIndex) AddEdge(from, to NodeID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.adjacency[from] = append(a.adjacency[from], to)
	if _, ok := a.adjacency[to]; !ok {
		a.adjacency[to] = []NodeID{}
	}
}

// Neighbors returns a copy of id's outgoing list, or false if id is
// unknown to the index.
func (a *AdjacencyIndex) Neighbors(id NodeID) ([]NodeID, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	targets, ok := a.adjacency[id]
	if !ok {
		return nil, false
	}
	return append([]NodeID(nil), targets...), true
}

// Contains reports whether id appears in the index.
func (a *AdjacencyIndex) Contains(id NodeID) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.adjacency[id]
	return ok
}

// EdgeCount returns the total number of directed edges.
func (a *AdjacencyIndex) EdgeCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	total := 0
	for _, targets := range a.adjacency {
		total += len(targets)
	}
	return total
}

// BFSFrom walks breadth-first from start, returning node ids in
// discovery order. The start node is returned first, at depth zero,
// even when maxHops is 0. Neighbors of nodes at depth maxHops are not
// explored. Callers are responsible for verifying that start exists
// somewhere in the database; an id absent from this index still yields
// the single-element result.
func (a *AdjacencyIndex) BFSFrom(start NodeID, maxHops int) []NodeID {
	a.mu.RLock()
	defer a.mu.RUnlock()

	type queued struct {
		id    NodeID
		depth int
	}

	visited := map[NodeID]struct{}{start: {}}
	result := []NodeID{start}
	queue := []queued{{id: start, depth: 0}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.depth >= maxHops {
			continue
		}

		for _, neighbor := range a.adjacency[current.id] {
			if _, seen := visited[neighbor]; seen {
				continue
			}
			visited[neighbor] = struct{}{}
			result = append(result, neighbor)
			queue = append(queue, queued{id: neighbor, depth: current.depth + 1})
		}
	}

	return result
}

// Visit records the hop distance and first-wins shortest-hop path for
// one node discovered by BFSPaths.
type Visit struct {
	// Depth is the hop count from the start node.
	Depth int
	// Path is the node id sequence from start to this node, inclusive.
	Path []NodeID
}

// BFSPaths walks breadth-first from start like BFSFrom but additionally
// records, for every visited node, its hop distance and the first BFS
// path that reached it. The start node has depth 0 and path [start].
func (a *AdjacencyIndex) BFSPaths(start NodeID, maxHops int) map[NodeID]Visit {
	a.mu.RLock()
	defer a.mu.RUnlock()

	type queued struct {
		id    NodeID
		depth int
		path  []NodeID
	}

	visited := map[NodeID]Visit{start: {Depth: 0, Path: []NodeID{start}}}
	queue := []queued{{id: start, depth: 0, path: []NodeID{start}}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.depth >= maxHops {
			continue
		}

		for _, neighbor := range a.adjacency[current.id] {
			if _, seen := visited[neighbor]; seen {
				continue
			}
			path := make([]NodeID, len(current.path)+1)
			copy(path, current.path)
			path[len(current.path)] = neighbor
			visited[neighbor] = Visit{Depth: current.depth + 1, Path: path}
			queue = append(queue, queued{id: neighbor, depth: current.depth + 1, path: path})
		}
	}

	return visited
}
