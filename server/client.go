package server

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket timeout constants following Gorilla best practices
// See: https://github.com/gorilla/websocket/blob/master/examples/chat/client.go
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024
)

// Client represents a WebSocket client connection
type Client struct {
	server    *Server
	conn      *websocket.Conn
	send      chan interface{}
	id        string
	closeOnce sync.Once // Prevents double-close panics
}

// readPump handles reading messages from the WebSocket connection
func (c *Client) readPump() {
	defer func() {
		c.server.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c.server.logger.Debugw("Read pump started", "client_id", c.id)

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			c.server.logger.Warnw("JSON unmarshal error",
				"error", err.Error(),
				"client_id", c.id,
			)
			continue
		}

		c.routeMessage(&msg)
	}
}

// handleReadError logs unexpected WebSocket read errors.
// Expected closure codes (going away, abnormal, no status) are silently ignored.
func (c *Client) handleReadError(err error) {
	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseNoStatusReceived,
	) {
		c.server.logger.Warnw("WebSocket read error",
			"error", err.Error(),
			"client_id", c.id,
		)
	}
}

// routeMessage dispatches incoming WebSocket messages to appropriate handlers.
func (c *Client) routeMessage(msg *ClientMessage) {
	switch msg.Type {
	case "search":
		c.handleSearch(msg)
	case "ask":
		c.handleAsk(msg)
	case "job_control":
		c.handleJobControl(msg)
	case "ping":
		// Deadline refresh is handled by the pong handler
	default:
		c.server.logger.Debugw("Unknown message type",
			"type", msg.Type,
			"client_id", c.id,
		)
	}
}

// writePump writes queued messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	c.server.logger.Debugw("Write pump started", "client_id", c.id)

	for {
		select {
		case <-c.server.ctx.Done():
			c.server.logger.Debugw("Write pump stopping due to server shutdown", "client_id", c.id)
			return
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(msg); err != nil {
				c.server.logger.Warnw("Message write error",
					"error", err.Error(),
					"client_id", c.id,
				)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleSearch runs a semantic search and sends the results back
func (c *Client) handleSearch(msg *ClientMessage) {
	query := strings.TrimSpace(msg.Query)
	if query == "" {
		c.sendError("search", "query is required")
		return
	}

	text, opts, err := c.server.parseSearchRequest(query, msg.K, msg.Threshold)
	if err != nil {
		c.sendError("search", err.Error())
		return
	}

	results, err := c.server.runSearch(c.server.ctx, text, opts)
	if err != nil {
		c.server.logger.Warnw("WebSocket search failed",
			"client_id", c.id,
			"error", err,
		)
		c.sendError("search", err.Error())
		return
	}

	c.sendJSON(SearchResultMessage{
		Type:      "search_results",
		Query:     query,
		Results:   results,
		Count:     len(results),
		Timestamp: time.Now().Unix(),
	})
}

// handleAsk answers a question against the knowledge base and sends
// the answer with its cited sources back
func (c *Client) handleAsk(msg *ClientMessage) {
	question := strings.TrimSpace(msg.Query)
	if question == "" {
		c.sendError("ask", "question is required")
		return
	}

	opts := c.server.searchOptions(msg.K, msg.Threshold)
	answer, err := c.server.summarizer.Ask(c.server.ctx, question, opts)
	if err != nil {
		c.server.logger.Warnw("WebSocket ask failed",
			"client_id", c.id,
			"error", err,
		)
		c.sendError("ask", err.Error())
		return
	}

	c.sendJSON(AnswerMessage{
		Type:      "answer",
		Question:  question,
		Answer:    answer.Text,
		Sources:   answer.Sources,
		Timestamp: time.Now().Unix(),
	})
}

// handleJobControl handles job cancel/pause/resume/details requests
func (c *Client) handleJobControl(msg *ClientMessage) {
	c.server.logger.Infow("Job control request",
		"action", msg.Action,
		"job_id", msg.JobID,
		"client_id", c.id,
	)

	if msg.JobID == "" {
		c.sendError("job_control", "job_id is required")
		return
	}

	queue := c.server.Queue()
	if queue == nil {
		c.sendError("job_control", "job queue not available")
		return
	}

	var err error
	switch msg.Action {
	case "cancel":
		err = queue.CancelJob(msg.JobID, "cancelled via WebSocket")
	case "pause":
		err = queue.PauseJob(msg.JobID, "paused via WebSocket")
	case "resume":
		err = queue.ResumeJob(msg.JobID)
	case "details":
		job, getErr := queue.GetJob(msg.JobID)
		if getErr != nil {
			c.sendError("job_control", getErr.Error())
			return
		}
		c.sendJSON(JobUpdateMessage{
			Type: "job_details",
			Job:  job,
			Metadata: map[string]interface{}{
				"timestamp": time.Now().Unix(),
			},
		})
		return
	default:
		c.sendError("job_control", "unknown action: "+msg.Action)
		return
	}

	if err != nil {
		c.server.logger.Errorw("Job control failed",
			"action", msg.Action,
			"job_id", msg.JobID,
			"error", err,
			"client_id", c.id,
		)
		c.sendError("job_control", err.Error())
		return
	}

	// Broadcast the new state so every window converges
	if job, getErr := queue.GetJob(msg.JobID); getErr == nil {
		c.server.broadcastJobUpdate(job)
	}
}

// sendJSON queues a message for the write pump without blocking
func (c *Client) sendJSON(data interface{}) {
	select {
	case c.send <- data:
	default:
		c.server.logger.Warnw("Failed to queue message (channel full)",
			"client_id", c.id,
		)
	}
}

// sendError reports a failed request back to the requesting client
func (c *Client) sendError(request, message string) {
	c.sendJSON(ErrorMessage{
		Type:      "error",
		Request:   request,
		Error:     message,
		Timestamp: time.Now().Unix(),
	})
}

// close safely closes the client's send channel using sync.Once to
// prevent double-close panics
func (c *Client) close() {
	c.closeOnce.Do(func() {
		if c.send != nil {
			close(c.send)
		}
	})
}
