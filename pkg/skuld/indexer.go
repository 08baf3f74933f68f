package skuld

import (
	"sync"
	"time"

	"github.com/skuldgraph/skuld/pkg/storage"
	"github.com/skuldgraph/skuld/pkg/vector"
)

// indexerFlushInterval is how often the background worker drains the
// staging buffer into the vector index.
const indexerFlushInterval = 10 * time.Millisecond

// pendingEmbedding is one staged vector-index update.
type pendingEmbedding struct {
	id  storage.NodeID
	vec []float32
}

// asyncIndexer trades read-after-write freshness for write throughput:
// write paths stage vector updates in a mutex-protected buffer and a
// single background goroutine applies them to the index in batches.
//
// Visibility of a staged update is eventually consistent, bounded by
// the flush interval plus one backend insert. Close drains the buffer
// a final time so no acknowledged write is lost on shutdown.
type asyncIndexer struct {
	index vector.Index

	mu      sync.Mutex
	pending []pendingEmbedding

	stop chan struct{}
	wg   sync.WaitGroup
}

// newAsyncIndexer creates the staging buffer and starts the worker.
func newAsyncIndexer(index vector.Index) *asyncIndexer {
	ai := &asyncIndexer{
		index: index,
		stop:  make(chan struct{}),
	}
	ai.wg.Add(1)
	go ai.run()
	return ai
}

// Enqueue stages one update. The caller keeps no reference to vec.
func (ai *asyncIndexer) Enqueue(id storage.NodeID, vec []float32) {
	ai.mu.Lock()
	defer ai.mu.Unlock()
	ai.pending = append(ai.pending, pendingEmbedding{id: id, vec: vec})
}

// PendingCount returns the number of staged updates.
func (ai *asyncIndexer) PendingCount() int {
	ai.mu.Lock()
	defer ai.mu.Unlock()
	return len(ai.pending)
}

func (ai *asyncIndexer) run() {
	defer ai.wg.Done()

	ticker := time.NewTicker(indexerFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ai.flush()
		case <-ai.stop:
			// Final drain so staged updates survive shutdown.
			ai.flush()
			return
		}
	}
}

// flush drains the buffer and applies every non-empty embedding.
func (ai *asyncIndexer) flush() {
	ai.mu.Lock()
	batch := ai.pending
	ai.pending = nil
	ai.mu.Unlock()

	for _, update := range batch {
		if len(update.vec) > 0 {
			ai.index.Insert(update.id, update.vec)
		}
	}
}

// Close signals the worker and waits for the final drain.
func (ai *asyncIndexer) Close() {
	select {
	case <-ai.stop:
		return
	default:
	}
	close(ai.stop)
	ai.wg.Wait()
}
