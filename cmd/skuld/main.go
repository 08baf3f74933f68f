// Package main provides the SkuldDB CLI entry point.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/skuldgraph/skuld/pkg/config"
	"github.com/skuldgraph/skuld/pkg/server"
	"github.com/skuldgraph/skuld/pkg/skuld"
	"github.com/skuldgraph/skuld/pkg/storage"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "skuld",
		Short: "SkuldDB - embedded graph+vector database for AI agents",
		Long: `SkuldDB is an embedded graph-plus-vector database for autonomous
agents: a labeled directed graph, kNN vector search, and hybrid queries
that fuse both signals, durably backed by an append-only log.`,
	}

	rootCmd.PersistentFlags().String("data-dir", "", "data directory (overrides SKULD_DATA_DIR)")
	rootCmd.PersistentFlags().String("index", "", "vector index: linear or approximate")
	rootCmd.PersistentFlags().Bool("no-sync", false, "do not flush the WAL after every append")
	rootCmd.PersistentFlags().Bool("async-indexing", false, "stage vector updates for the background worker")
	rootCmd.PersistentFlags().String("config", "", "YAML config file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("SkuldDB v%s (%s)\n", version, commit)
		},
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the SkuldDB HTTP server",
		RunE:  runServe,
	}
	serveCmd.Flags().String("host", "", "HTTP bind host")
	serveCmd.Flags().Int("port", 0, "HTTP bind port")
	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print node, edge, vector, and decision counts",
		RunE:  runStats,
	})

	addNodeCmd := &cobra.Command{
		Use:   "add-node <id> <label>",
		Short: "Append a node record",
		Args:  cobra.ExactArgs(2),
		RunE:  runAddNode,
	}
	addNodeCmd.Flags().String("embedding", "", "comma-separated float32 vector")
	addNodeCmd.Flags().String("tags", "", "comma-separated tags")
	addNodeCmd.Flags().Uint64("agent", 0, "agent id that created this node")
	rootCmd.AddCommand(addNodeCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "add-edge <from> <to> <type>",
		Short: "Append a directed edge",
		Args:  cobra.ExactArgs(3),
		RunE:  runAddEdge,
	})

	queryCmd := &cobra.Command{
		Use:   "query <start>",
		Short: "Run a hybrid query anchored at a node",
		Args:  cobra.ExactArgs(1),
		RunE:  runQuery,
	}
	queryCmd.Flags().String("embedding", "", "comma-separated query vector (required)")
	queryCmd.Flags().Int("hops", 3, "BFS depth bound")
	queryCmd.Flags().Int("k", 5, "number of results")
	queryCmd.Flags().Float32("alpha", 0.5, "vector-similarity weight")
	queryCmd.Flags().Float32("beta", 0.5, "graph-proximity weight")
	rootCmd.AddCommand(queryCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig merges env, optional YAML file, and flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.LoadFromEnv()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.Database.DataDir = dir
	}
	if index, _ := cmd.Flags().GetString("index"); index != "" {
		cfg.Database.IndexType = index
	}
	if noSync, _ := cmd.Flags().GetBool("no-sync"); noSync {
		cfg.Database.SyncWrites = false
	}
	if async, _ := cmd.Flags().GetBool("async-indexing"); async {
		cfg.Database.AsyncIndexing = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openDB(cmd *cobra.Command) (*skuld.DB, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	indexType, err := skuld.ParseIndexType(cfg.Database.IndexType)
	if err != nil {
		return nil, nil, err
	}

	db, err := skuld.Open(skuld.Options{
		Path:          cfg.Database.DataDir,
		IndexType:     indexType,
		SyncWrites:    cfg.Database.SyncWrites,
		AsyncIndexing: cfg.Database.AsyncIndexing,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return db, cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	db, cfg, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}

	logger := log.New(os.Stderr, "skuld ", log.LstdFlags)
	srv := server.New(db, cfg.Server, logger)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("bind %s: %w", cfg.Server.Addr(), err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Println("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(ctx)
}

func runStats(cmd *cobra.Command, args []string) error {
	db, _, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Printf("nodes:     %d\n", db.NodeCount())
	fmt.Printf("edges:     %d\n", db.EdgeCount())
	fmt.Printf("vectors:   %d\n", db.VectorCount())
	fmt.Printf("decisions: %d\n", db.DecisionCount())
	return nil
}

func runAddNode(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid node id %q", args[0])
	}

	db, _, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	node := storage.NewNode(storage.NodeID(id), args[1])

	if raw, _ := cmd.Flags().GetString("embedding"); raw != "" {
		vec, err := parseVector(raw)
		if err != nil {
			return err
		}
		node.Embedding = vec
	}
	if raw, _ := cmd.Flags().GetString("tags"); raw != "" {
		node.RuleTags = strings.Split(raw, ",")
	}
	if agent, _ := cmd.Flags().GetUint64("agent"); agent != 0 {
		node.AgentID = &agent
	}

	if err := db.AppendNode(node); err != nil {
		return err
	}
	fmt.Printf("appended node %d\n", node.ID)
	return nil
}

func runAddEdge(cmd *cobra.Command, args []string) error {
	from, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid from id %q", args[0])
	}
	to, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid to id %q", args[1])
	}

	db, _, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.AddEdge(storage.NodeID(from), storage.NodeID(to), args[2]); err != nil {
		return err
	}
	fmt.Printf("added edge %d -> %d [%s]\n", from, to, args[2])
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	start, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid start id %q", args[0])
	}

	raw, _ := cmd.Flags().GetString("embedding")
	if raw == "" {
		return fmt.Errorf("--embedding is required")
	}
	vec, err := parseVector(raw)
	if err != nil {
		return err
	}

	db, _, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	hops, _ := cmd.Flags().GetInt("hops")
	k, _ := cmd.Flags().GetInt("k")
	alpha, _ := cmd.Flags().GetFloat32("alpha")
	beta, _ := cmd.Flags().GetFloat32("beta")

	results := db.HybridQuery(vec, storage.NodeID(start), hops, k, skuld.HybridParams{Alpha: alpha, Beta: beta})
	if len(results) == 0 {
		fmt.Println("no results")
		return nil
	}
	for i, r := range results {
		fmt.Printf("%d. node=%d score=%.4f dist=%.4f hops=%d path=%v\n",
			i+1, r.ID, r.Score, r.VectorDistance, r.GraphDistance, r.Path)
	}
	return nil
}

func parseVector(raw string) ([]float32, error) {
	parts := strings.Split(raw, ",")
	vec := make([]float32, 0, len(parts))
	for _, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q", part)
		}
		vec = append(vec, float32(f))
	}
	return vec, nil
}
