package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/qacompanion/qac/errors"
)

// getState returns the current server state
func (s *Server) getState() ServerState {
	return ServerState(s.state.Load())
}

// setState atomically updates the server state
func (s *Server) setState(newState ServerState) {
	s.state.Store(int32(newState))
	s.logger.Infow("Server state changed", "new_state", stateString(newState))
}

// stateString returns human-readable state name
func stateString(state ServerState) string {
	switch state {
	case ServerStateRunning:
		return "running"
	case ServerStateDraining:
		return "draining"
	case ServerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// startBackgroundServices starts all background service goroutines
func (s *Server) startBackgroundServices() {
	if s.pool != nil {
		s.pool.Start()
		s.logger.Infow("Worker pool started", "workers", s.pool.Workers())
	}

	// Watch engine is present only when watch.enabled is set
	if s.watcher != nil {
		if err := s.watcher.Start(); err != nil {
			s.logger.Errorw("Failed to start watch engine", "error", err)
			s.watcher = nil
		}
	}

	// Start usage update broadcaster
	s.startUsageUpdateTicker()

	// Start job update broadcaster (if pool is available)
	if s.pool != nil {
		s.startJobUpdateBroadcaster()
	}

	// Start queue status broadcaster (if pool is available)
	if s.pool != nil {
		s.startQueueStatusBroadcaster()
	}

	s.startArtifactMetricsRefresher()
}

// Start starts the server on the specified port and blocks until the
// listener fails or Stop shuts it down.
func (s *Server) Start(port int) error {
	// Start the hub in a goroutine
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run()
	}()

	// Start all background services
	s.startBackgroundServices()

	host := s.cfg.GetServerHost()

	// Find an available port
	actualPort, err := findAvailablePort(host, port)
	if err != nil {
		return errors.Wrap(err, "failed to find available port")
	}

	if actualPort != port {
		s.logger.Infow("Port in use, using alternative",
			"requested_port", port,
			"actual_port", actualPort,
		)
	}

	s.setState(ServerStateRunning)

	displayHost := host
	if displayHost == "" || displayHost == "0.0.0.0" {
		displayHost = "localhost"
	}
	s.logger.Infow("Server ready",
		"url", fmt.Sprintf("http://%s:%d", displayHost, actualPort),
		"port", actualPort,
	)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, actualPort),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infow(fmt.Sprintf("HTTP server listening on port %d", actualPort))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server and cleans up resources
func (s *Server) Stop() error {
	s.logger.Infow("Initiating server shutdown")

	s.setState(ServerStateDraining)

	// Stop the watch engine first so no new jobs are enqueued while the
	// pool drains
	if s.watcher != nil {
		s.watcher.Stop()
	}

	if s.pool != nil {
		s.logger.Infow("Stopping worker pool")
		s.pool.Stop()
		s.logger.Infow("Worker pool stopped")
	}

	// Close all client connections BEFORE cancelling context
	// This ensures readPump/writePump exit cleanly before context cancellation
	s.mu.Lock()
	clientsToClose := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clientsToClose = append(clientsToClose, client)
		delete(s.clients, client)
	}
	s.mu.Unlock()

	if len(clientsToClose) > 0 {
		s.logger.Infow("Closing client connections", "count", len(clientsToClose))
		for _, client := range clientsToClose {
			client.conn.Close() // Close connection to unblock readPump
		}
	}

	// Cancel context to signal all server goroutines to stop
	if s.cancel != nil {
		s.cancel()
	}

	// Wait for goroutines with timeout
	// Goroutines should exit quickly now that:
	// 1. WebSocket connections are closed (unblocking readPump)
	// 2. Context is cancelled (stopping writePump and broadcasters)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Infow("All goroutines stopped cleanly")
	case <-time.After(ShutdownTimeout):
		s.logger.Warnw("Goroutine shutdown timed out, forcing exit",
			"timeout", ShutdownTimeout,
		)
	}

	// Stop accepting HTTP traffic last so in-flight requests can finish
	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warnw("HTTP server shutdown error", "error", err)
		}
	}

	// No request can reach the embedder now; release its connections
	if closer, ok := s.embedder.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			s.logger.Warnw("Embedding service close error", "error", err)
		}
	}

	s.setState(ServerStateStopped)

	s.logger.Infow("Server shutdown complete",
		"broadcast_drops", s.broadcastDrops.Load(),
	)

	return nil
}
