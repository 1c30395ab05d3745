package server

// Real-time fanout to WebSocket clients: job updates as the queue
// processes them, periodic queue status, and model usage statistics.

import (
	"fmt"
	"time"

	"github.com/qacompanion/qac/jobs"
)

// broadcastMessage sends a message to all connected clients.
// Returns the number of clients that accepted the message (channel not full).
func (s *Server) broadcastMessage(msg interface{}) int {
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	s.mu.RUnlock()

	sent := 0
	for _, client := range clients {
		select {
		case client.send <- msg:
			sent++
		default:
			// A full channel means the client stopped draining its queue;
			// keeping it would silently starve it of every later update
			s.broadcastDrops.Add(1)
			s.removeSlowClient(client)
		}
	}
	return sent
}

// startJobUpdateBroadcaster subscribes to job queue updates and
// broadcasts them to WebSocket clients
func (s *Server) startJobUpdateBroadcaster() {
	jobChan := s.Queue().Subscribe()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			// Unsubscribe first (removes from list), then close
			// Order matters: closing while still subscribed could panic on send
			s.Queue().Unsubscribe(jobChan)
			close(jobChan)
		}()

		for {
			select {
			case <-s.ctx.Done():
				s.logger.Debugw("Job update broadcaster stopping due to context cancellation")
				return
			case job := <-jobChan:
				s.broadcastJobUpdate(job)
			}
		}
	}()

	s.logger.Infow("Job update broadcaster started")
}

// broadcastJobUpdate sends a job update to all connected clients
func (s *Server) broadcastJobUpdate(job *jobs.Job) {
	msg := JobUpdateMessage{
		Type: "job_update",
		Job:  job,
		Metadata: map[string]interface{}{
			"timestamp": time.Now().Unix(),
		},
	}

	sent := s.broadcastMessage(msg)

	s.logger.Debugw("Broadcasted job update",
		"job_id", shortID(job.ID),
		"status", job.Status,
		"progress", fmt.Sprintf("%d/%d", job.Progress.Current, job.Progress.Total),
		"clients", sent,
	)
}

// startQueueStatusBroadcaster periodically broadcasts queue status.
// Uses adaptive polling: fast updates when busy, slow when idle.
func (s *Server) startQueueStatusBroadcaster() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		currentState := QueueIdle
		interval := intervalForQueueState(currentState)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				s.logger.Debugw("Queue status broadcaster stopping due to context cancellation")
				return
			case <-ticker.C:
				s.mu.RLock()
				hasClients := len(s.clients) > 0
				s.mu.RUnlock()

				if !hasClients {
					continue
				}

				newState := s.detectQueueState()
				if newState != currentState {
					currentState = newState
					interval = intervalForQueueState(currentState)
					ticker.Reset(interval)

					s.logger.Debugw("Queue activity changed, adjusted poll interval",
						"state", currentState,
						"interval", interval,
					)
				}

				s.broadcastQueueStatus()
			}
		}
	}()

	s.logger.Infow("Adaptive queue status broadcaster started")
}

// broadcastQueueStatus sends queue and budget telemetry to all clients
func (s *Server) broadcastQueueStatus() {
	stats, err := s.Queue().GetStats()
	if err != nil {
		s.logger.Debugw("Failed to get queue stats", "error", err)
		return
	}

	var daily, weekly, monthly float64
	if status, err := s.pool.BudgetStatus(); err == nil && status != nil {
		daily = status.DailySpend
		weekly = status.WeeklySpend
		monthly = status.MonthlySpend
	}

	activeJobs := stats.Running + stats.Paused

	s.mu.Lock()
	if !s.statusHasChangedLocked(activeJobs, stats.Queued, daily, weekly, monthly) {
		s.mu.Unlock()
		return
	}
	s.lastStatus = &cachedQueueStatus{
		activeJobs:    activeJobs,
		queuedJobs:    stats.Queued,
		budgetDaily:   daily,
		budgetWeekly:  weekly,
		budgetMonthly: monthly,
	}
	s.mu.Unlock()

	msg := QueueStatusMessage{
		Type:          "queue_status",
		Running:       s.pool.IsRunning(),
		ActiveJobs:    activeJobs,
		QueuedJobs:    stats.Queued,
		BudgetDaily:   daily,
		BudgetWeekly:  weekly,
		BudgetMonthly: monthly,
		ServerState:   stateString(ServerState(s.state.Load())),
		Timestamp:     time.Now().Unix(),
	}

	sent := s.broadcastMessage(msg)

	s.logger.Debugw("Broadcasted queue status",
		"active_jobs", msg.ActiveJobs,
		"queued_jobs", msg.QueuedJobs,
		"clients", sent,
	)
}

// detectQueueState determines current queue activity for adaptive polling
func (s *Server) detectQueueState() QueueState {
	stats, err := s.Queue().GetStats()
	if err != nil {
		return QueueIdle
	}

	if stats.Running+stats.Queued > 5 {
		return QueueBusy
	}
	if stats.Running > 0 || stats.Queued > 0 {
		return QueueActive
	}
	return QueueIdle
}

// intervalForQueueState returns the polling interval for a queue state
func intervalForQueueState(state QueueState) time.Duration {
	switch state {
	case QueueBusy:
		return 1 * time.Second
	case QueueActive:
		return 5 * time.Second
	case QueueIdle:
		return 30 * time.Second
	default:
		return 10 * time.Second
	}
}

// startUsageUpdateTicker periodically broadcasts model usage statistics
func (s *Server) startUsageUpdateTicker() {
	ticker := time.NewTicker(2 * time.Second)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()

		s.broadcastUsageUpdate()

		for {
			select {
			case <-s.ctx.Done():
				s.logger.Debugw("Usage update ticker stopping due to context cancellation")
				return
			case <-ticker.C:
				s.mu.RLock()
				hasClients := len(s.clients) > 0
				s.mu.RUnlock()

				if hasClients {
					s.broadcastUsageUpdate()
				}
			}
		}
	}()
}

// broadcastUsageUpdate sends 24h usage statistics when they changed
func (s *Server) broadcastUsageUpdate() {
	since := time.Now().Add(-24 * time.Hour)
	stats, err := s.usage.GetUsageStats(since)
	if err != nil {
		s.logger.Debugw("Failed to get usage stats", "error", err.Error())
		return
	}

	s.mu.Lock()
	if !s.usageHasChangedLocked(stats.TotalCost, stats.TotalRequests, stats.SuccessfulRequests, stats.TotalTokens, stats.UniqueModels) {
		s.mu.Unlock()
		return
	}
	s.lastUsage = &cachedUsageStats{
		totalCost: stats.TotalCost,
		requests:  stats.TotalRequests,
		success:   stats.SuccessfulRequests,
		tokens:    stats.TotalTokens,
		models:    stats.UniqueModels,
	}
	s.mu.Unlock()

	msg := UsageUpdateMessage{
		Type:      "usage_update",
		TotalCost: stats.TotalCost,
		Requests:  stats.TotalRequests,
		Success:   stats.SuccessfulRequests,
		Tokens:    stats.TotalTokens,
		Models:    stats.UniqueModels,
		Since:     "24h",
		Timestamp: time.Now().Unix(),
	}
	s.broadcastMessage(msg)
}

// statusHasChangedLocked checks if queue status changed since the last
// broadcast. REQUIRES: s.mu must be held by caller.
func (s *Server) statusHasChangedLocked(activeJobs, queuedJobs int, daily, weekly, monthly float64) bool {
	if s.lastStatus == nil {
		return true // First broadcast always sends
	}

	return s.lastStatus.activeJobs != activeJobs ||
		s.lastStatus.queuedJobs != queuedJobs ||
		absDiff(s.lastStatus.budgetDaily, daily) > 0.0001 ||
		absDiff(s.lastStatus.budgetWeekly, weekly) > 0.0001 ||
		absDiff(s.lastStatus.budgetMonthly, monthly) > 0.0001
}

// usageHasChangedLocked checks if usage stats changed since the last
// broadcast. REQUIRES: s.mu must be held by caller.
func (s *Server) usageHasChangedLocked(totalCost float64, requests, success, tokens, models int) bool {
	if s.lastUsage == nil {
		return true
	}

	return s.lastUsage.totalCost != totalCost ||
		s.lastUsage.requests != requests ||
		s.lastUsage.success != success ||
		s.lastUsage.tokens != tokens ||
		s.lastUsage.models != models
}

// absDiff returns the absolute difference between two float64 values
func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
