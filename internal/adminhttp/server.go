// Package adminhttp is the read-only ops surface over a running
// bucketnode: health, the current BucketList hash, merge telemetry, the
// skip list, and the archive-state snapshot a restart would resume
// from. Grounded on the teacher's internal/http (server.go/response.go):
// same chi router/writeJSON/envelope shape, with the mutating
// put/get/delete/raft endpoints dropped since this node's only mutating
// operation (AddBatch) is driven by the consensus adapter, not HTTP.
package adminhttp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"bucketnode/pkg/bucketmanager"

	"github.com/go-chi/chi/v5"
)

const (
	contentTypeJSON        = "application/json"
	defaultShutdownTimeout = 5 * time.Second
)

// LeaderChecker reports whether this process currently holds the
// single-writer leadership lease.
type LeaderChecker interface {
	IsLeader() (bool, error)
}

// Server exposes a read-only view of a BucketManager over HTTP.
type Server struct {
	manager *bucketmanager.Manager
	leader  LeaderChecker
	log     *slog.Logger

	httpServer *http.Server
	addr       string
}

// New builds a Server bound to manager. leader may be nil if this node
// never participates in leader election (e.g. a read-only replica).
func New(manager *bucketmanager.Manager, leader LeaderChecker, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{manager: manager, leader: leader, log: logger, addr: addr}
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealthz)
	r.Get("/v1/bucketlist", s.handleBucketList)
	r.Get("/v1/mergecounters", s.handleMergeCounters)
	r.Get("/v1/skiplist", s.handleSkipList)
	r.Get("/v1/archivestate", s.handleArchiveState)
	return r
}

// Start begins serving in the background; call Shutdown to stop it.
func (s *Server) Start() {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.router(),
		ReadHeaderTimeout: time.Second,
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("admin http server error", "error", err)
		}
	}()
	s.log.Info("admin http server started", "addr", s.addr)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Warn("failed to encode admin http response", "error", err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := okResponse()
	if s.leader != nil {
		isLeader, err := s.leader.IsLeader()
		if err != nil {
			s.writeJSON(w, http.StatusOK, dataResponse(map[string]any{"leader": false, "leader_check_error": err.Error()}))
			return
		}
		resp = dataResponse(map[string]any{"leader": isLeader})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBucketList(w http.ResponseWriter, r *http.Request) {
	hash, err := s.manager.BucketListHash()
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, errorResponse(err.Error()))
		return
	}
	s.writeJSON(w, http.StatusOK, dataResponse(map[string]any{
		"bl_hash":            hash,
		"last_closed_ledger": s.manager.LastClosedLedger(),
	}))
}

func (s *Server) handleMergeCounters(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, dataResponse(s.manager.ReadMergeCounters()))
}

func (s *Server) handleSkipList(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, dataResponse(s.manager.SkipList()))
}

func (s *Server) handleArchiveState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, dataResponse(s.manager.ArchiveState()))
}
