package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/qacompanion/qac/version"
)

// HandleWebSocket upgrades the connection and attaches a client to the hub
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := s.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("WebSocket upgrade failed",
			"error", err,
			"remote", r.RemoteAddr,
		)
		return
	}

	client := &Client{
		server: s,
		conn:   conn,
		send:   make(chan interface{}, MaxClientMessageQueueSize),
		id:     fmt.Sprintf("%s_%d", r.RemoteAddr, time.Now().UnixNano()),
	}

	// Send version info BEFORE starting writePump (avoid concurrent writes)
	versionInfo := version.Get()
	versionMsg := map[string]interface{}{
		"type":       "version",
		"version":    versionInfo.Version,
		"commit":     versionInfo.Short(),
		"build_time": versionInfo.BuildTime,
	}
	if err := conn.WriteJSON(versionMsg); err != nil {
		s.logger.Debugw("Failed to send version info",
			"client_id", client.id,
			"error", err,
		)
	}

	s.register <- client

	// Send active jobs on connection so a hard refresh shows current work
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sendInitialJobsToClient(client)
	}()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		client.readPump()
	}()
	go func() {
		defer s.wg.Done()
		client.writePump()
	}()
}

// sendInitialJobsToClient sends active jobs to a newly connected client.
// Waits briefly for registration to complete first.
func (s *Server) sendInitialJobsToClient(client *Client) {
	select {
	case <-time.After(50 * time.Millisecond):
	case <-s.ctx.Done():
		return
	}

	queue := s.Queue()
	if queue == nil {
		return
	}

	active, err := queue.Store().ListActive(defaultJobLimit)
	if err != nil {
		s.logger.Debugw("Failed to load active jobs for client",
			"client_id", client.id,
			"error", err,
		)
		return
	}

	for _, job := range active {
		client.sendJSON(JobUpdateMessage{
			Type: "job_update",
			Job:  job,
			Metadata: map[string]interface{}{
				"timestamp": time.Now().Unix(),
				"initial":   true,
			},
		})
	}

	if len(active) > 0 {
		s.logger.Debugw("Sent initial jobs to client",
			"client_id", client.id,
			"count", len(active),
		)
	}
}
