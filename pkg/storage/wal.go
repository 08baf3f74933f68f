package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
)

// WALFileName is the single log file kept inside the data directory.
const WALFileName = "wal.log"

// WAL record kind discriminators. Every line in the log is a JSON
// object carrying exactly one of these in its "kind" field.
const (
	kindNode      = "node"
	kindEdge      = "edge"
	kindEmbedding = "embedding"
	kindDecision  = "decision"
)

// walEnvelope is the first-pass decode target used to dispatch on kind.
type walEnvelope struct {
	Kind string `json:"kind"`
}

// nodeRecord carries a full node declaration nested under "data".
type nodeRecord struct {
	Kind string `json:"kind"`
	Data *Node  `json:"data"`
}

// edgeRecord carries a standalone edge triple at the top level.
type edgeRecord struct {
	Kind     string `json:"kind"`
	From     NodeID `json:"from"`
	To       NodeID `json:"to"`
	EdgeType string `json:"edge_type"`
}

// embeddingRecord rewrites a node's vector without re-emitting the
// node's other fields.
type embeddingRecord struct {
	Kind string    `json:"kind"`
	ID   NodeID    `json:"id"`
	Vec  []float32 `json:"vec"`
}

// decisionRecord carries a full decision record nested under "data".
type decisionRecord struct {
	Kind string          `json:"kind"`
	Data *DecisionRecord `json:"data"`
}

// WAL is the append-only durability log.
//
// A single writer goroutine is not required; appends are serialized by
// an internal mutex. The file descriptor is owned exclusively by this
// struct for the lifetime of the engine.
type WAL struct {
	mu         sync.Mutex
	path       string
	file       *os.File
	syncWrites bool
	closed     atomic.Bool

	appends atomic.Int64
	syncs   atomic.Int64
}

// WALStats provides observability into log activity.
type WALStats struct {
	Path    string
	Appends int64
	Syncs   int64
	Closed  bool
}

// ReplayState is the in-memory fold of a full log replay. The engine
// uses it to seed the node table, the adjacency index, the vector
// index, and the decision journal.
type ReplayState struct {
	// Nodes maps each node id to its latest record.
	Nodes map[NodeID]*Node
	// Adjacency maps each node id to its outgoing neighbors in
	// append order.
	Adjacency map[NodeID][]NodeID
	// Vectors holds the authoritative embedding per node id: the last
	// embedding record or non-empty node-record embedding in log order.
	Vectors map[NodeID][]float32
	// Decisions holds every decision record in log order.
	Decisions []*DecisionRecord
}

func newReplayState() *ReplayState {
	return &ReplayState{
		Nodes:     make(map[NodeID]*Node),
		Adjacency: make(map[NodeID][]NodeID),
		Vectors:   make(map[NodeID][]float32),
	}
}

// apply folds one parsed record into the state, in log order.
func (s *ReplayState) apply(kind string, line []byte) error {
	switch kind {
	case kindNode:
		var rec nodeRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		node := rec.Data
		if node == nil {
			return fmt.Errorf("node record missing data")
		}
		for _, edge := range node.Edges {
			s.Adjacency[edge.From] = append(s.Adjacency[edge.From], edge.To)
			s.ensureAdjacency(edge.To)
		}
		if len(node.Embedding) > 0 {
			s.Vectors[node.ID] = append([]float32(nil), node.Embedding...)
		}
		s.Nodes[node.ID] = node
	case kindEdge:
		var rec edgeRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		s.Adjacency[rec.From] = append(s.Adjacency[rec.From], rec.To)
		s.ensureAdjacency(rec.To)
	case kindEmbedding:
		var rec embeddingRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		s.Vectors[rec.ID] = append([]float32(nil), rec.Vec...)
		if node, ok := s.Nodes[rec.ID]; ok {
			node.Embedding = append([]float32(nil), rec.Vec...)
		}
	case kindDecision:
		var rec decisionRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		if rec.Data == nil {
			return fmt.Errorf("decision record missing data")
		}
		s.Decisions = append(s.Decisions, rec.Data)
	default:
		return fmt.Errorf("unknown record kind %q", kind)
	}
	return nil
}

func (s *ReplayState) ensureAdjacency(id NodeID) {
	if _, ok := s.Adjacency[id]; !ok {
		s.Adjacency[id] = []NodeID{}
	}
}

// OpenWAL opens (creating if needed) the log inside dir, replays any
// existing records, and returns the log handle in append mode together
// with the replayed state.
//
// A malformed line that is not the final line of the file is fatal and
// wraps ErrCorrupt. A malformed final line is treated as a crash
// artifact: it is dropped and the file is truncated back to the last
// valid byte so the next append starts on a clean boundary.
func OpenWAL(dir string, syncWrites bool) (*WAL, *ReplayState, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, nil, fmt.Errorf("%w: empty data directory", ErrInvalidOperation)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create data directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, WALFileName)
	state := newReplayState()

	if info, err := os.Stat(path); err == nil {
		validSize, replayErr := replayFile(path, state)
		if replayErr != nil {
			return nil, nil, replayErr
		}
		if validSize < info.Size() {
			if err := os.Truncate(path, validSize); err != nil {
				return nil, nil, fmt.Errorf("%w: drop truncated tail: %v", ErrWAL, err)
			}
		}
	} else if !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("stat %s: %w", path, err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}

	return &WAL{path: path, file: file, syncWrites: syncWrites}, state, nil
}

// replayFile streams the log line by line, folding each record into
// state. Returns the byte offset just past the last valid line.
func replayFile(path string, state *ReplayState) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s for replay: %w", path, err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	var validOffset int64
	lineNum := 0

	for {
		line, readErr := reader.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return 0, fmt.Errorf("read %s: %w", path, readErr)
		}
		if line == "" && readErr == io.EOF {
			break
		}
		lineNum++

		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			// Whitespace-only lines are tolerated and kept.
			validOffset += int64(len(line))
			if readErr == io.EOF {
				break
			}
			continue
		}

		var env walEnvelope
		parseErr := json.Unmarshal([]byte(trimmed), &env)
		if parseErr == nil {
			parseErr = state.apply(env.Kind, []byte(trimmed))
		}
		if parseErr != nil {
			if isFinalLine(reader, readErr) {
				// Trailing partial line left by a crash: treat as absent.
				return validOffset, nil
			}
			return 0, fmt.Errorf("%w: line %d: %v", ErrCorrupt, lineNum, parseErr)
		}

		validOffset += int64(len(line))
		if readErr == io.EOF {
			break
		}
	}

	return validOffset, nil
}

// isFinalLine reports whether the line just read is the last one in the
// file: either it had no trailing newline, or nothing follows it.
func isFinalLine(reader *bufio.Reader, readErr error) bool {
	if readErr == io.EOF {
		return true
	}
	_, peekErr := reader.Peek(1)
	return peekErr == io.EOF
}

// AppendNode appends a full node declaration.
func (w *WAL) AppendNode(node *Node) error {
	return w.append(nodeRecord{Kind: kindNode, Data: wireNode(node)}, w.syncWrites)
}

// AppendEdge appends a standalone edge triple.
func (w *WAL) AppendEdge(from, to NodeID, edgeType string) error {
	return w.append(edgeRecord{Kind: kindEdge, From: from, To: to, EdgeType: edgeType}, w.syncWrites)
}

// AppendEmbedding appends an embedding rewrite for a node.
func (w *WAL) AppendEmbedding(id NodeID, vec []float32) error {
	if vec == nil {
		vec = []float32{}
	}
	return w.append(embeddingRecord{Kind: kindEmbedding, ID: id, Vec: vec}, w.syncWrites)
}

// AppendDecision appends a decision record. Decisions always flush so
// an audit trail survives a crash even with sync_writes off.
func (w *WAL) AppendDecision(record *DecisionRecord) error {
	return w.append(decisionRecord{Kind: kindDecision, Data: wireDecision(record)}, true)
}

func (w *WAL) append(record any, flush bool) error {
	if w.closed.Load() {
		return ErrClosed
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("serialize wal record: %w", err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Write(data); err != nil {
		return fmt.Errorf("%w: append record: %v", ErrWAL, err)
	}
	w.appends.Add(1)

	if flush {
		return w.syncLocked()
	}
	return nil
}

// Sync flushes buffered bytes to the OS.
func (w *WAL) Sync() error {
	if w.closed.Load() {
		return ErrClosed
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncLocked()
}

func (w *WAL) syncLocked() error {
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %v", ErrWAL, err)
	}
	w.syncs.Add(1)
	return nil
}

// Close flushes and closes the log. Further appends return ErrClosed.
func (w *WAL) Close() error {
	if w.closed.Swap(true) {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("%w: final sync: %v", ErrWAL, err)
	}
	return w.file.Close()
}

// Path returns the log file path.
func (w *WAL) Path() string {
	return w.path
}

// Stats returns current log statistics.
func (w *WAL) Stats() WALStats {
	return WALStats{
		Path:    w.path,
		Appends: w.appends.Load(),
		Syncs:   w.syncs.Load(),
		Closed:  w.closed.Load(),
	}
}

// wireNode returns a copy with nil slices replaced by empty ones so the
// encoded form always carries [] rather than null.
func wireNode(n *Node) *Node {
	c := n.Clone()
	if c.Embedding == nil {
		c.Embedding = []float32{}
	}
	if c.Edges == nil {
		c.Edges = []Edge{}
	}
	if c.RuleTags == nil {
		c.RuleTags = []string{}
	}
	return c
}

func wireDecision(d *DecisionRecord) *DecisionRecord {
	c := d.Clone()
	if c.Path == nil {
		c.Path = []NodeID{}
	}
	return c
}
