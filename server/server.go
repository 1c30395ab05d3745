package server

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/qacompanion/qac/artifact"
	"github.com/qacompanion/qac/config"
	"github.com/qacompanion/qac/jobs"
	"github.com/qacompanion/qac/search"
	"github.com/qacompanion/qac/summarize"
	"github.com/qacompanion/qac/trace"
	"github.com/qacompanion/qac/watch"
)

// Embedder produces query vectors for search and ask endpoints.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelInfo() (model string, dim int)
}

// Server exposes the knowledge base over HTTP and WebSocket: semantic
// search, retrieval-augmented ask, artifact browsing, traceability
// graphs, ingestion, and live job updates.
type Server struct {
	db     *sql.DB
	dbPath string
	cfg    *config.Config

	artifacts  *artifact.Store
	index      *search.Store
	embedder   Embedder
	summarizer *summarize.Summarizer
	usage      *summarize.UsageTracker
	links      *trace.Store
	linker     *trace.Linker
	pool       *jobs.WorkerPool
	watchers   *watch.Store
	watcher    *watch.Engine // nil unless watch.enabled

	// WebSocket hub
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	lastStatus *cachedQueueStatus
	lastUsage  *cachedUsageStats

	// HTTP server with timeouts
	mux        *http.ServeMux
	httpServer *http.Server

	// Lifecycle management
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	broadcastDrops atomic.Int64
	state          atomic.Int32

	logger *zap.SugaredLogger
}

// handleClientRegister handles a new client connection
func (s *Server) handleClientRegister(client *Client) {
	s.mu.Lock()

	if len(s.clients) >= MaxClients {
		s.mu.Unlock()
		s.logger.Warnw("Max clients reached, rejecting connection",
			"client_id", client.id,
			"max_clients", MaxClients,
		)
		client.close()
		return
	}

	s.clients[client] = true
	totalClients := len(s.clients)
	s.mu.Unlock()

	setConnectedClients(totalClients)
	s.logger.Infow("Client connected",
		"client_id", client.id,
		"total_clients", totalClients,
	)
}

// handleClientUnregister handles a client disconnection
func (s *Server) handleClientUnregister(client *Client) {
	s.mu.Lock()
	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		totalClients := len(s.clients)
		s.mu.Unlock()

		client.close()

		setConnectedClients(totalClients)
		s.logger.Infow("Client disconnected",
			"client_id", client.id,
			"total_clients", totalClients,
		)
	} else {
		s.mu.Unlock()
	}
}

// removeSlowClient removes a client whose send channel stays full.
// A client that cannot drain its queue would otherwise silently miss
// every subsequent broadcast.
func (s *Server) removeSlowClient(client *Client) {
	s.mu.Lock()
	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		remaining := len(s.clients)
		s.mu.Unlock()
		setConnectedClients(remaining)
	} else {
		s.mu.Unlock()
		return // Already removed
	}

	client.close()

	s.logger.Warnw("Client send channel full, removing client",
		"client_id", client.id,
		"total_drops", s.broadcastDrops.Load(),
	)
}

// Run starts the server hub event loop
func (s *Server) Run() {
	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debugw("Server hub stopping due to context cancellation")
			return
		case client := <-s.register:
			s.handleClientRegister(client)
		case client := <-s.unregister:
			s.handleClientUnregister(client)
		}
	}
}

// Queue returns the underlying job queue, or nil when the worker pool
// is not available.
func (s *Server) Queue() *jobs.Queue {
	if s.pool == nil {
		return nil
	}
	return s.pool.GetQueue()
}

// WatchEngine returns the in-process watch engine, or nil when
// watch.enabled is false.
func (s *Server) WatchEngine() *watch.Engine {
	return s.watcher
}
