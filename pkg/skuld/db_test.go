package skuld

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skuldgraph/skuld/pkg/storage"
)

func openTestDB(t *testing.T, opts Options) *DB {
	t.Helper()
	db, err := Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func linearOptions(t *testing.T) Options {
	t.Helper()
	opts := DefaultOptions(t.TempDir())
	opts.IndexType = IndexLinear
	return opts
}

func TestOpen(t *testing.T) {
	t.Run("fresh_database_is_empty", func(t *testing.T) {
		db := openTestDB(t, DefaultOptions(t.TempDir()))
		assert.Equal(t, 0, db.NodeCount())
		assert.Equal(t, 0, db.EdgeCount())
		assert.Equal(t, 0, db.VectorCount())
		assert.Equal(t, 0, db.DecisionCount())
	})

	t.Run("empty_path_fails", func(t *testing.T) {
		_, err := Open(Options{Path: ""})
		require.Error(t, err)
		assert.ErrorIs(t, err, storage.ErrInvalidOperation)
	})

	t.Run("bad_index_type_fails", func(t *testing.T) {
		_, err := Open(Options{Path: t.TempDir(), IndexType: "kdtree"})
		require.Error(t, err)
		assert.ErrorIs(t, err, storage.ErrInvalidOperation)
	})
}

func TestDB_AppendNode(t *testing.T) {
	t.Run("append_and_get", func(t *testing.T) {
		db := openTestDB(t, linearOptions(t))

		require.NoError(t, db.AppendNode(storage.NewNode(1, "alpha")))

		node, err := db.GetNode(1)
		require.NoError(t, err)
		assert.Equal(t, storage.NodeID(1), node.ID)
		assert.Equal(t, "alpha", node.Label)
		assert.Equal(t, 1, db.NodeCount())
	})

	t.Run("get_unknown_node", func(t *testing.T) {
		db := openTestDB(t, linearOptions(t))
		_, err := db.GetNode(404)
		assert.ErrorIs(t, err, storage.ErrNodeNotFound)
	})

	t.Run("reappend_replaces", func(t *testing.T) {
		db := openTestDB(t, linearOptions(t))
		require.NoError(t, db.AppendNode(storage.NewNode(1, "a")))
		require.NoError(t, db.AppendNode(storage.NewNode(1, "b")))

		node, err := db.GetNode(1)
		require.NoError(t, err)
		assert.Equal(t, "b", node.Label)
		assert.Equal(t, 1, db.NodeCount())
	})

	t.Run("embedded_edges_update_adjacency", func(t *testing.T) {
		db := openTestDB(t, linearOptions(t))
		node := storage.NewNode(1, "a")
		node.Edges = []storage.Edge{{From: 1, To: 2, EdgeType: "CALLS"}}
		require.NoError(t, db.AppendNode(node))

		targets, err := db.Neighbors(1)
		require.NoError(t, err)
		assert.Equal(t, []storage.NodeID{2}, targets)
	})

	t.Run("node_embedding_enters_index", func(t *testing.T) {
		db := openTestDB(t, linearOptions(t))
		node := storage.NewNode(1, "a")
		node.Embedding = []float32{1, 2}
		require.NoError(t, db.AppendNode(node))

		assert.Equal(t, 1, db.VectorCount())
		hits := db.KNNSearch([]float32{1, 2}, 1)
		require.Len(t, hits, 1)
		assert.Equal(t, storage.NodeID(1), hits[0].ID)
	})
}

func TestDB_Persistence(t *testing.T) {
	t.Run("last_write_wins_across_reopen", func(t *testing.T) {
		opts := linearOptions(t)

		db, err := Open(opts)
		require.NoError(t, err)
		require.NoError(t, db.AppendNode(storage.NewNode(1, "a")))
		require.NoError(t, db.AppendNode(storage.NewNode(1, "b")))
		require.NoError(t, db.Close())

		db2 := openTestDB(t, opts)
		assert.Equal(t, 1, db2.NodeCount())
		node, err := db2.GetNode(1)
		require.NoError(t, err)
		assert.Equal(t, "b", node.Label)
	})

	t.Run("replay_matches_live_state", func(t *testing.T) {
		opts := linearOptions(t)

		db, err := Open(opts)
		require.NoError(t, err)
		for i := storage.NodeID(1); i <= 10; i++ {
			require.NoError(t, db.AppendNode(storage.NewNode(i, "node")))
		}
		require.NoError(t, db.AddEdge(1, 2, "A"))
		require.NoError(t, db.AddEdge(1, 3, "B"))
		require.NoError(t, db.SetEmbedding(2, []float32{1, 0}))
		require.NoError(t, db.RecordDecision(storage.NewDecision(1, 9, 1, []storage.NodeID{1, 2}, 0.5)))

		liveNodes := db.NodeCount()
		liveEdges := db.EdgeCount()
		liveVectors := db.VectorCount()
		liveDecisions := db.DecisionCount()
		liveNeighbors, err := db.Neighbors(1)
		require.NoError(t, err)
		require.NoError(t, db.Close())

		db2 := openTestDB(t, opts)
		assert.Equal(t, liveNodes, db2.NodeCount())
		assert.Equal(t, liveEdges, db2.EdgeCount())
		assert.Equal(t, liveVectors, db2.VectorCount())
		assert.Equal(t, liveDecisions, db2.DecisionCount())

		neighbors, err := db2.Neighbors(1)
		require.NoError(t, err)
		assert.Equal(t, liveNeighbors, neighbors)

		vec, ok := db2.GetEmbedding(2)
		require.True(t, ok)
		assert.Equal(t, []float32{1, 0}, vec)
	})

	t.Run("embedding_record_beats_older_node_record", func(t *testing.T) {
		opts := linearOptions(t)

		db, err := Open(opts)
		require.NoError(t, err)
		node := storage.NewNode(1, "a")
		node.Embedding = []float32{0, 0}
		require.NoError(t, db.AppendNode(node))
		require.NoError(t, db.SetEmbedding(1, []float32{9, 9}))
		require.NoError(t, db.Close())

		db2 := openTestDB(t, opts)
		vec, ok := db2.GetEmbedding(1)
		require.True(t, ok)
		assert.Equal(t, []float32{9, 9}, vec)

		hits := db2.KNNSearch([]float32{9, 9}, 1)
		require.Len(t, hits, 1)
		assert.Equal(t, storage.NodeID(1), hits[0].ID)
		assert.InDelta(t, 0.0, hits[0].Distance, 1e-6)
	})
}

func TestDB_AddEdge(t *testing.T) {
	t.Run("updates_adjacency_and_node_record", func(t *testing.T) {
		db := openTestDB(t, linearOptions(t))
		require.NoError(t, db.AppendNode(storage.NewNode(1, "a")))
		require.NoError(t, db.AddEdge(1, 2, "CALLS"))

		targets, err := db.Neighbors(1)
		require.NoError(t, err)
		assert.Equal(t, []storage.NodeID{2}, targets)

		node, err := db.GetNode(1)
		require.NoError(t, err)
		assert.Equal(t, []storage.Edge{{From: 1, To: 2, EdgeType: "CALLS"}}, node.Edges)
		assert.Equal(t, 1, db.EdgeCount())
	})

	t.Run("edge_between_unknown_nodes_is_allowed", func(t *testing.T) {
		db := openTestDB(t, linearOptions(t))
		require.NoError(t, db.AddEdge(8, 9, "X"))

		targets, err := db.Neighbors(8)
		require.NoError(t, err)
		assert.Equal(t, []storage.NodeID{9}, targets)
	})

	t.Run("duplicate_edges_accumulate", func(t *testing.T) {
		db := openTestDB(t, linearOptions(t))
		require.NoError(t, db.AddEdge(1, 2, "X"))
		require.NoError(t, db.AddEdge(1, 2, "X"))
		assert.Equal(t, 2, db.EdgeCount())
	})
}

func TestDB_SetEmbedding(t *testing.T) {
	t.Run("sync_read_after_write", func(t *testing.T) {
		db := openTestDB(t, linearOptions(t))
		require.NoError(t, db.AppendNode(storage.NewNode(1, "a")))
		require.NoError(t, db.SetEmbedding(1, []float32{0.5, 0.5}))

		hits := db.KNNSearch([]float32{0.5, 0.5}, 1)
		require.Len(t, hits, 1)
		assert.Equal(t, storage.NodeID(1), hits[0].ID)
		assert.InDelta(t, 0.0, hits[0].Distance, 1e-6)
	})

	t.Run("shadow_update_on_approximate_backend", func(t *testing.T) {
		opts := DefaultOptions(t.TempDir())
		db := openTestDB(t, opts)

		require.NoError(t, db.SetEmbedding(1, []float32{0, 0}))
		require.NoError(t, db.SetEmbedding(1, []float32{10, 10}))

		hits := db.KNNSearch([]float32{10, 10}, 1)
		require.Len(t, hits, 1)
		assert.Equal(t, storage.NodeID(1), hits[0].ID)
		assert.InDelta(t, 0.0, hits[0].Distance, 1e-4)
		assert.Equal(t, 1, db.VectorCount())
	})

	t.Run("embedding_for_absent_node_still_indexed", func(t *testing.T) {
		db := openTestDB(t, linearOptions(t))
		require.NoError(t, db.SetEmbedding(5, []float32{1}))

		assert.Equal(t, 1, db.VectorCount())
		_, ok := db.GetEmbedding(5)
		assert.False(t, ok) // no node record to carry it
	})
}

func TestDB_AsyncIndexing(t *testing.T) {
	t.Run("update_becomes_visible_within_flush_bound", func(t *testing.T) {
		opts := linearOptions(t)
		opts.AsyncIndexing = true
		db := openTestDB(t, opts)

		require.NoError(t, db.SetEmbedding(1, []float32{2, 2}))

		assert.Eventually(t, func() bool {
			hits := db.KNNSearch([]float32{2, 2}, 1)
			return len(hits) == 1 && hits[0].ID == 1
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("close_drains_staged_updates", func(t *testing.T) {
		opts := linearOptions(t)
		opts.AsyncIndexing = true

		db, err := Open(opts)
		require.NoError(t, err)
		require.NoError(t, db.SetEmbedding(1, []float32{3}))
		require.NoError(t, db.Close())
		// The final drain on Close applied the staged update in place.
		assert.Equal(t, 1, db.VectorCount())

		opts.AsyncIndexing = false
		db2 := openTestDB(t, opts)
		assert.Equal(t, 1, db2.VectorCount())
	})
}

func TestDB_BFSHops(t *testing.T) {
	db := openTestDB(t, linearOptions(t))
	for i := storage.NodeID(1); i <= 5; i++ {
		require.NoError(t, db.AppendNode(storage.NewNode(i, "n")))
	}
	require.NoError(t, db.AddEdge(1, 2, "X"))
	require.NoError(t, db.AddEdge(1, 3, "X"))
	require.NoError(t, db.AddEdge(2, 4, "X"))
	require.NoError(t, db.AddEdge(2, 5, "X"))

	t.Run("one_hop_frontier", func(t *testing.T) {
		result := db.BFSHops(1, 1)
		assert.ElementsMatch(t, []storage.NodeID{1, 2, 3}, result)
		assert.Equal(t, storage.NodeID(1), result[0])
	})

	t.Run("two_hops_reach_everything", func(t *testing.T) {
		assert.Len(t, db.BFSHops(1, 2), 5)
	})

	t.Run("zero_hops_return_start_only", func(t *testing.T) {
		assert.Equal(t, []storage.NodeID{1}, db.BFSHops(1, 0))
	})

	t.Run("unknown_start_is_empty", func(t *testing.T) {
		assert.Empty(t, db.BFSHops(404, 3))
	})

	t.Run("isolated_node_returns_itself", func(t *testing.T) {
		require.NoError(t, db.AppendNode(storage.NewNode(77, "island")))
		assert.Equal(t, []storage.NodeID{77}, db.BFSHops(77, 3))
	})
}

func TestDB_Decisions(t *testing.T) {
	t.Run("agent_scoped_listing_preserves_order", func(t *testing.T) {
		db := openTestDB(t, linearOptions(t))

		require.NoError(t, db.RecordDecision(storage.NewDecision(1, 1, 1, []storage.NodeID{1, 2}, 0.9)))
		require.NoError(t, db.RecordDecision(storage.NewDecision(2, 1, 2, []storage.NodeID{2}, 0.8)))
		require.NoError(t, db.RecordDecision(storage.NewDecision(3, 1, 3, []storage.NodeID{3}, 0.7)))
		require.NoError(t, db.RecordDecision(storage.NewDecision(4, 2, 1, []storage.NodeID{1}, 0.6)))

		agent1 := db.ListDecisionsForAgent(1)
		require.Len(t, agent1, 3)
		assert.Equal(t, uint64(1), agent1[0].ID)
		assert.Equal(t, uint64(2), agent1[1].ID)
		assert.Equal(t, uint64(3), agent1[2].ID)

		assert.Len(t, db.ListDecisionsForAgent(2), 1)
		assert.Equal(t, 4, db.DecisionCount())
	})

	t.Run("persisted_in_log_order", func(t *testing.T) {
		opts := linearOptions(t)
		db, err := Open(opts)
		require.NoError(t, err)
		require.NoError(t, db.RecordDecision(storage.NewDecision(10, 1, 1, []storage.NodeID{1}, 0.5)))
		require.NoError(t, db.RecordDecision(storage.NewDecision(11, 1, 1, []storage.NodeID{1}, 0.4)))
		require.NoError(t, db.Close())

		db2 := openTestDB(t, opts)
		all := db2.ListAllDecisions()
		require.Len(t, all, 2)
		assert.Equal(t, uint64(10), all[0].ID)
		assert.Equal(t, uint64(11), all[1].ID)

		record, ok := db2.GetDecision(11)
		require.True(t, ok)
		assert.Equal(t, uint64(11), record.ID)
	})

	t.Run("nan_score_rejected", func(t *testing.T) {
		db := openTestDB(t, linearOptions(t))
		record := storage.NewDecision(1, 1, 1, []storage.NodeID{1}, float32(math.NaN()))
		err := db.RecordDecision(record)
		assert.ErrorIs(t, err, storage.ErrInvalidOperation)
		assert.Equal(t, 0, db.DecisionCount())
	})
}

func TestDB_Close(t *testing.T) {
	db, err := Open(linearOptions(t))
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close()) // idempotent

	assert.ErrorIs(t, db.AppendNode(storage.NewNode(1, "a")), storage.ErrClosed)
	assert.ErrorIs(t, db.AddEdge(1, 2, "X"), storage.ErrClosed)
	assert.ErrorIs(t, db.SetEmbedding(1, []float32{1}), storage.ErrClosed)
	assert.ErrorIs(t, db.RecordDecision(storage.NewDecision(1, 1, 1, nil, 0)), storage.ErrClosed)
}
