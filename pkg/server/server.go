// Package server provides the HTTP REST surface for SkuldDB.
//
// The server wraps a single engine instance and translates JSON
// payloads into engine calls. It exposes node create/get/list, edge
// create, embedding set, kNN and hybrid queries, decision create and
// list, stats, a health check, and a Prometheus scrape endpoint.
//
// Request handling is instrumented with a per-request id, an
// OpenTelemetry span, and Prometheus counters/histograms.
//
// Error mapping: unknown nodes and invalid inputs become 4xx
// responses; everything else becomes a 5xx. The engine itself knows
// nothing about status codes.
//
// Example Usage:
//
//	db, _ := skuld.Open(skuld.DefaultOptions("./data"))
//	srv := server.New(db, config.Default().Server, log.Default())
//	if err := srv.Start(); err != nil {
//		log.Fatal(err)
//	}
//	defer srv.Stop(context.Background())
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/skuldgraph/skuld/pkg/config"
	"github.com/skuldgraph/skuld/pkg/skuld"
	"github.com/skuldgraph/skuld/pkg/storage"
)

// Server is the HTTP surface over one engine instance.
type Server struct {
	db      *skuld.DB
	cfg     config.ServerConfig
	logger  *log.Logger
	metrics *Metrics
	tracer  trace.Tracer

	httpSrv  *http.Server
	listener net.Listener
}

// New builds a server around db. The engine serializes its own writes;
// the server adds no locking of its own.
func New(db *skuld.DB, cfg config.ServerConfig, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{
		db:      db,
		cfg:     cfg,
		logger:  logger,
		metrics: NewMetrics(db),
		tracer:  otel.Tracer("skuld-server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.instrument("health", s.handleHealth))
	mux.HandleFunc("POST /nodes", s.instrument("create_node", s.handleCreateNode))
	mux.HandleFunc("GET /nodes", s.instrument("list_nodes", s.handleListNodes))
	mux.HandleFunc("GET /nodes/{id}", s.instrument("get_node", s.handleGetNode))
	mux.HandleFunc("POST /edges", s.instrument("create_edge", s.handleCreateEdge))
	mux.HandleFunc("POST /embeddings", s.instrument("set_embedding", s.handleSetEmbedding))
	mux.HandleFunc("POST /search/knn", s.instrument("knn", s.handleKNN))
	mux.HandleFunc("POST /search/hybrid", s.instrument("hybrid", s.handleHybrid))
	mux.HandleFunc("POST /decisions", s.instrument("create_decision", s.handleCreateDecision))
	mux.HandleFunc("GET /decisions", s.instrument("list_decisions", s.handleListDecisions))
	mux.HandleFunc("GET /stats", s.instrument("stats", s.handleStats))
	mux.Handle("GET /metrics", s.metrics.Handler())

	s.httpSrv = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Start binds the listener and begins serving in the background.
// A bind failure is returned synchronously so callers can exit
// non-zero.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return err
	}
	s.listener = listener

	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("http server: %v", err)
		}
	}()

	s.logger.Printf("listening on http://%s", listener.Addr())
	return nil
}

// Addr returns the bound address, valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Addr()
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// statusWriter captures the response code for instrumentation.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// instrument wraps a handler with a request id, an OTel span, metrics,
// and an access log line.
func (s *Server) instrument(route string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()
		w.Header().Set("X-Request-ID", requestID)

		ctx, span := s.tracer.Start(r.Context(), route,
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
				attribute.String("request.id", requestID),
			))
		defer span.End()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		handler(sw, r.WithContext(ctx))

		elapsed := time.Since(start)
		statusClass := strconv.Itoa(sw.status/100) + "xx"
		span.SetAttributes(attribute.Int("http.status_code", sw.status))
		s.metrics.observe(route, statusClass, elapsed.Seconds())
		s.logger.Printf("%s %s %d %s id=%s", r.Method, r.URL.Path, sw.status, elapsed, requestID)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Printf("encode response: %v", err)
	}
}

// writeError maps engine errors to status codes: unknown nodes and
// invalid inputs are the client's fault, everything else is ours.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNodeNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidOperation):
		status = http.StatusBadRequest
	}
	s.writeJSON(w, status, map[string]any{"error": err.Error(), "code": status})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type nodeRequest struct {
	ID        storage.NodeID `json:"id"`
	Label     string         `json:"label"`
	Embedding []float32      `json:"embedding"`
	AgentID   *uint64        `json:"agent_id"`
	RuleTags  []string       `json:"rule_tags"`
	Timestamp *uint64        `json:"timestamp"`
}

func (s *Server) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	var req nodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}

	var node *storage.Node
	if req.Timestamp != nil {
		node = storage.NewNodeAt(req.ID, req.Label, *req.Timestamp)
	} else {
		node = storage.NewNode(req.ID, req.Label)
	}
	if len(req.Embedding) > 0 {
		node.Embedding = req.Embedding
	}
	if len(req.RuleTags) > 0 {
		node.RuleTags = req.RuleTags
	}
	node.AgentID = req.AgentID

	if err := s.db.AppendNode(node); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"id": node.ID})
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid node id"})
		return
	}

	node, err := s.db.GetNode(storage.NodeID(id))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, node)
}

func (s *Server) handleListNodes(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"nodes": s.db.ListNodes()})
}

type edgeRequest struct {
	From     storage.NodeID `json:"from"`
	To       storage.NodeID `json:"to"`
	EdgeType string         `json:"edge_type"`
}

func (s *Server) handleCreateEdge(w http.ResponseWriter, r *http.Request) {
	var req edgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}

	if err := s.db.AddEdge(req.From, req.To, req.EdgeType); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"from": req.From, "to": req.To})
}

type embeddingRequest struct {
	ID  storage.NodeID `json:"id"`
	Vec []float32      `json:"vec"`
}

func (s *Server) handleSetEmbedding(w http.ResponseWriter, r *http.Request) {
	var req embeddingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}

	if err := s.db.SetEmbedding(req.ID, req.Vec); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"id": req.ID})
}

type knnRequest struct {
	Vec []float32 `json:"vec"`
	K   int       `json:"k"`
}

func (s *Server) handleKNN(w http.ResponseWriter, r *http.Request) {
	var req knnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}

	results := s.db.KNNSearch(req.Vec, req.K)
	out := make([]map[string]any, len(results))
	for i, hit := range results {
		out[i] = map[string]any{"id": hit.ID, "distance": hit.Distance}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

type hybridRequest struct {
	Vec     []float32      `json:"vec"`
	Start   storage.NodeID `json:"start"`
	MaxHops int            `json:"max_hops"`
	K       int            `json:"k"`
	Alpha   *float32       `json:"alpha"`
	Beta    *float32       `json:"beta"`
}

func (s *Server) handleHybrid(w http.ResponseWriter, r *http.Request) {
	var req hybridRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}

	params := skuld.DefaultHybridParams()
	if req.Alpha != nil {
		params.Alpha = *req.Alpha
	}
	if req.Beta != nil {
		params.Beta = *req.Beta
	}

	results := s.db.HybridQuery(req.Vec, req.Start, req.MaxHops, req.K, params)
	out := make([]map[string]any, len(results))
	for i, hit := range results {
		out[i] = map[string]any{
			"id":              hit.ID,
			"score":           hit.Score,
			"vector_distance": hit.VectorDistance,
			"graph_distance":  hit.GraphDistance,
			"path":            hit.Path,
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

type decisionRequest struct {
	ID       uint64           `json:"id"`
	AgentID  uint64           `json:"agent_id"`
	RootNode storage.NodeID   `json:"root_node"`
	Path     []storage.NodeID `json:"path"`
	Score    float32          `json:"score"`
	Notes    *string          `json:"notes"`
}

func (s *Server) handleCreateDecision(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}

	record := storage.NewDecision(req.ID, req.AgentID, req.RootNode, req.Path, req.Score)
	if req.Notes != nil {
		record.WithNotes(*req.Notes)
	}

	if err := s.db.RecordDecision(record); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"id": record.ID})
}

func (s *Server) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	if agentParam := r.URL.Query().Get("agent_id"); agentParam != "" {
		agentID, err := strconv.ParseUint(agentParam, 10, 64)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid agent_id"})
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"decisions": s.db.ListDecisionsForAgent(agentID)})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"decisions": s.db.ListAllDecisions()})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"nodes":     s.db.NodeCount(),
		"edges":     s.db.EdgeCount(),
		"vectors":   s.db.VectorCount(),
		"decisions": s.db.DecisionCount(),
	})
}
