// Package skuld provides the main API for embedded SkuldDB usage.
//
// SkuldDB is an embedded, single-process graph-plus-vector database
// for autonomous-agent workloads. A labeled directed graph and a
// vector index live side by side in memory; durability comes from an
// append-only log replayed at open time; queries can traverse, search
// by similarity, or fuse both signals into one ranking.
//
// Key Features:
//   - Append-only WAL durability with crash-tolerant replay
//   - Last-write-wins node storage with multi-edge adjacency
//   - Pluggable vector index: exact linear scan or HNSW with
//     shadow-update reconciliation
//   - Hybrid queries blending kNN distance with BFS graph distance
//   - Agent decision journal with per-agent scoped queries
//
// Example Usage:
//
//	opts := skuld.DefaultOptions("./data")
//	db, err := skuld.Open(opts)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	node := storage.NewNode(1, "service-auth")
//	node.Embedding = []float32{0.12, 0.34, 0.56}
//	if err := db.AppendNode(node); err != nil {
//		log.Fatal(err)
//	}
//	if err := db.AddEdge(1, 2, "CALLS"); err != nil {
//		log.Fatal(err)
//	}
//
//	results := db.HybridQuery([]float32{0.1, 0.3, 0.5}, 1, 3, 5,
//		skuld.DefaultHybridParams())
//	for _, r := range results {
//		fmt.Printf("%d score=%.3f hops=%d\n", r.ID, r.Score, r.GraphDistance)
//	}
package skuld

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/skuldgraph/skuld/pkg/storage"
	"github.com/skuldgraph/skuld/pkg/vector"
)

// IndexType selects the vector index backend.
type IndexType string

const (
	// IndexLinear selects the exact brute-force backend.
	IndexLinear IndexType = "linear"
	// IndexApproximate selects the HNSW backend.
	IndexApproximate IndexType = "approximate"
)

// ParseIndexType validates a backend name.
func ParseIndexType(s string) (IndexType, error) {
	switch IndexType(s) {
	case IndexLinear:
		return IndexLinear, nil
	case IndexApproximate:
		return IndexApproximate, nil
	default:
		return "", fmt.Errorf("%w: unknown index type %q", storage.ErrInvalidOperation, s)
	}
}

// Options configures an engine at open time.
type Options struct {
	// Path is the data directory; it is created if absent. Required.
	Path string
	// IndexType selects the vector backend. Default: IndexApproximate.
	IndexType IndexType
	// SyncWrites flushes the WAL after every append. Default: true.
	SyncWrites bool
	// AsyncIndexing stages vector updates for a background worker
	// instead of applying them inline. Default: false.
	AsyncIndexing bool
}

// DefaultOptions returns the defaults for a data directory: HNSW
// index, synchronous flushes, inline indexing.
func DefaultOptions(path string) Options {
	return Options{
		Path:       path,
		IndexType:  IndexApproximate,
		SyncWrites: true,
	}
}

// DB is the engine facade. It owns the WAL, the node table, the
// adjacency index, the vector index, the decision journal, and the
// optional async indexer, and serializes writes across them.
//
// Lifecycle: Open → operations → Close. All writes after Close return
// ErrClosed.
//
// Thread Safety:
//
//	All methods are safe for concurrent use. Writes take an exclusive
//	lock; reads share. The vector index is independently thread-safe
//	so the async indexer can insert without holding the engine lock.
type DB struct {
	opts Options

	mu        sync.RWMutex
	wal       *storage.WAL
	nodes     *storage.NodeTable
	adjacency *storage.AdjacencyIndex
	index     vector.Index
	journal   *DecisionJournal
	indexer   *asyncIndexer

	closed atomic.Bool
}

// Open opens or creates a database at opts.Path, replaying any
// existing log into fresh in-memory indexes. Replay errors are fatal:
// no usable handle is returned.
func Open(opts Options) (*DB, error) {
	if opts.IndexType == "" {
		opts.IndexType = IndexApproximate
	}
	if _, err := ParseIndexType(string(opts.IndexType)); err != nil {
		return nil, err
	}

	wal, state, err := storage.OpenWAL(opts.Path, opts.SyncWrites)
	if err != nil {
		return nil, err
	}

	var index vector.Index
	switch opts.IndexType {
	case IndexLinear:
		index = vector.NewLinear()
	default:
		index = vector.NewHNSW()
	}

	// Authoritative embeddings first, then any node whose latest
	// record carries a vector the embedding fold missed.
	for id, vec := range state.Vectors {
		index.Insert(id, vec)
	}
	for id, node := range state.Nodes {
		if len(node.Embedding) > 0 && !index.Contains(id) {
			index.Insert(id, node.Embedding)
		}
	}

	nodes := storage.NewNodeTable()
	for _, node := range state.Nodes {
		nodes.Put(node)
	}

	adjacency := storage.NewAdjacencyIndex()
	adjacency.Seed(state.Adjacency)

	journal := NewDecisionJournal()
	journal.Seed(state.Decisions)

	db := &DB{
		opts:      opts,
		wal:       wal,
		nodes:     nodes,
		adjacency: adjacency,
		index:     index,
		journal:   journal,
	}

	if opts.AsyncIndexing {
		db.indexer = newAsyncIndexer(index)
	}

	return db, nil
}

// AppendNode durably appends a node record and applies it to the
// in-memory indexes. A record with an existing id replaces the prior
// one wholesale. In-memory state is touched only after the log append
// succeeds.
func (db *DB) AppendNode(node *storage.Node) error {
	if db.closed.Load() {
		return storage.ErrClosed
	}

	stored := node.Clone()

	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.wal.AppendNode(stored); err != nil {
		return err
	}

	for _, edge := range stored.Edges {
		db.adjacency.AddEdge(edge.From, edge.To)
	}

	if len(stored.Embedding) > 0 {
		if db.indexer != nil {
			db.indexer.Enqueue(stored.ID, append([]float32(nil), stored.Embedding...))
		} else {
			db.index.Insert(stored.ID, stored.Embedding)
		}
	}

	db.nodes.Put(stored)
	return nil
}

// AddEdge durably appends a standalone edge record and updates the
// adjacency index. If the from-node exists, the edge is also appended
// to its in-memory edge sequence; the durable form stays the
// standalone record.
func (db *DB) AddEdge(from, to storage.NodeID, edgeType string) error {
	if db.closed.Load() {
		return storage.ErrClosed
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.wal.AppendEdge(from, to, edgeType); err != nil {
		return err
	}

	db.adjacency.AddEdge(from, to)
	db.nodes.AppendOutgoing(storage.Edge{From: from, To: to, EdgeType: edgeType})
	return nil
}

// SetEmbedding durably rewrites a node's vector without re-emitting
// its other fields, and updates the vector index (inline or via the
// async staging buffer).
func (db *DB) SetEmbedding(id storage.NodeID, embedding []float32) error {
	if db.closed.Load() {
		return storage.ErrClosed
	}

	vec := append([]float32(nil), embedding...)

	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.wal.AppendEmbedding(id, vec); err != nil {
		return err
	}

	if len(vec) > 0 {
		if db.indexer != nil {
			db.indexer.Enqueue(id, append([]float32(nil), vec...))
		} else {
			db.index.Insert(id, vec)
		}
	}

	db.nodes.SetEmbedding(id, vec)
	return nil
}

// RecordDecision durably appends an agent decision to the journal.
func (db *DB) RecordDecision(record *storage.DecisionRecord) error {
	if db.closed.Load() {
		return storage.ErrClosed
	}
	if math.IsNaN(float64(record.Score)) {
		return fmt.Errorf("%w: decision score is NaN", storage.ErrInvalidOperation)
	}

	stored := record.Clone()

	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.wal.AppendDecision(stored); err != nil {
		return err
	}

	db.journal.Append(stored)
	return nil
}

// GetNode returns a copy of the latest record for id.
func (db *DB) GetNode(id storage.NodeID) (*storage.Node, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	node, ok := db.nodes.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", storage.ErrNodeNotFound, id)
	}
	return node.Clone(), nil
}

// ListNodes returns copies of all current node records in unspecified
// order.
func (db *DB) ListNodes() []*storage.Node {
	db.mu.RLock()
	defer db.mu.RUnlock()

	stored := db.nodes.List()
	out := make([]*storage.Node, len(stored))
	for i, node := range stored {
		out[i] = node.Clone()
	}
	return out
}

// Neighbors returns id's outgoing targets in append order.
func (db *DB) Neighbors(id storage.NodeID) ([]storage.NodeID, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	targets, ok := db.adjacency.Neighbors(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", storage.ErrNodeNotFound, id)
	}
	return targets, nil
}

// BFSHops returns the ids reachable within maxHops edges of start, in
// discovery order, start first. An id unknown to both the node table
// and the adjacency index yields an empty result.
func (db *DB) BFSHops(start storage.NodeID, maxHops int) []storage.NodeID {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if !db.nodes.Contains(start) && !db.adjacency.Contains(start) {
		return []storage.NodeID{}
	}
	return db.adjacency.BFSFrom(start, maxHops)
}

// KNNSearch returns the k nearest stored vectors to query by ascending
// L2 distance. The vector index carries its own synchronization, so
// searches do not hold the engine lock.
func (db *DB) KNNSearch(query []float32, k int) []vector.Result {
	return db.index.KNN(query, k)
}

// GetEmbedding returns a copy of the embedding carried by id's current
// node record, or false when the node is unknown or has none.
func (db *DB) GetEmbedding(id storage.NodeID) ([]float32, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	node, ok := db.nodes.Get(id)
	if !ok || len(node.Embedding) == 0 {
		return nil, false
	}
	return append([]float32(nil), node.Embedding...), true
}

// ListAllDecisions returns every decision in insertion order.
func (db *DB) ListAllDecisions() []*storage.DecisionRecord {
	return db.journal.ListAll()
}

// ListDecisionsForAgent returns agentID's decisions in insertion
// order.
func (db *DB) ListDecisionsForAgent(agentID uint64) []*storage.DecisionRecord {
	return db.journal.ListForAgent(agentID)
}

// GetDecision returns the decision with the given id.
func (db *DB) GetDecision(id uint64) (*storage.DecisionRecord, bool) {
	return db.journal.GetByID(id)
}

// NodeCount returns the number of distinct nodes.
func (db *DB) NodeCount() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.nodes.Len()
}

// EdgeCount returns the number of directed edges, duplicates included.
func (db *DB) EdgeCount() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.adjacency.EdgeCount()
}

// VectorCount returns the number of live entries in the vector index.
func (db *DB) VectorCount() int {
	return db.index.Len()
}

// DecisionCount returns the number of journal entries.
func (db *DB) DecisionCount() int {
	return db.journal.Count()
}

// Path returns the data directory.
func (db *DB) Path() string {
	return db.opts.Path
}

// Options returns the options the engine was opened with.
func (db *DB) Options() Options {
	return db.opts
}

// Close stops the async indexer (draining staged updates), flushes the
// WAL, and releases the file handle. Close is idempotent.
func (db *DB) Close() error {
	if db.closed.Swap(true) {
		return nil
	}
	if db.indexer != nil {
		db.indexer.Close()
	}
	return db.wal.Close()
}
