package server

import (
	"net/http"
	"strings"

	"github.com/qacompanion/qac/sym"
	"github.com/qacompanion/qac/watch"
)

// watcherRequest is the POST/PUT /api/watchers body. Pointer fields
// distinguish "not sent" from explicit false on update.
type watcherRequest struct {
	Path      string   `json:"path"`
	Kinds     []string `json:"kinds,omitempty"`
	Recursive *bool    `json:"recursive,omitempty"`
	Enabled   *bool    `json:"enabled,omitempty"`
}

// HandleWatchers handles watcher CRUD operations
// Routes:
//
//	GET    /api/watchers       - List all watchers
//	POST   /api/watchers       - Register a new watcher
//	GET    /api/watchers/{id}  - Get a watcher by ID
//	PUT    /api/watchers/{id}  - Update a watcher
//	DELETE /api/watchers/{id}  - Delete a watcher
//
// Registrations persist whether or not the watch engine is running, so
// paths can be added ahead of enabling watch mode.
func (s *Server) HandleWatchers(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/watchers")
	path = strings.TrimPrefix(path, "/")
	watcherID := path

	switch r.Method {
	case http.MethodGet:
		if watcherID == "" {
			s.handleListWatchers(w, r)
		} else {
			s.handleGetWatcher(w, r, watcherID)
		}
	case http.MethodPost:
		s.handleCreateWatcher(w, r)
	case http.MethodPut:
		if watcherID == "" {
			writeError(w, http.StatusBadRequest, "Watcher ID required")
			return
		}
		s.handleUpdateWatcher(w, r, watcherID)
	case http.MethodDelete:
		if watcherID == "" {
			writeError(w, http.StatusBadRequest, "Watcher ID required")
			return
		}
		s.handleDeleteWatcher(w, r, watcherID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleListWatchers(w http.ResponseWriter, r *http.Request) {
	enabledOnly := r.URL.Query().Get("enabled") == "true"

	watchers, err := s.watchers.List(enabledOnly)
	if err != nil {
		handleError(w, s.logger, err, "Failed to list watchers")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"watchers": watchers,
		"count":    len(watchers),
	})
}

func (s *Server) handleGetWatcher(w http.ResponseWriter, r *http.Request, id string) {
	watcher, err := s.watchers.Get(id)
	if err != nil {
		handleError(w, s.logger, err, "Failed to get watcher")
		return
	}

	writeJSON(w, http.StatusOK, watcher)
}

func (s *Server) handleCreateWatcher(w http.ResponseWriter, r *http.Request) {
	var req watcherRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "Missing required field: path")
		return
	}

	watcher := &watch.Watcher{
		Path:      req.Path,
		Kinds:     req.Kinds,
		Recursive: true,
		Enabled:   true,
	}
	if req.Recursive != nil {
		watcher.Recursive = *req.Recursive
	}
	if req.Enabled != nil {
		watcher.Enabled = *req.Enabled
	}

	if err := s.watchers.Create(watcher); err != nil {
		handleError(w, s.logger, err, "Failed to create watcher")
		return
	}

	s.reloadWatchEngine("create")
	s.logger.Infow(sym.Watch+" Watcher created",
		"watcher_id", watcher.ID,
		"path", watcher.Path,
	)

	writeJSON(w, http.StatusCreated, watcher)
}

func (s *Server) handleUpdateWatcher(w http.ResponseWriter, r *http.Request, id string) {
	existing, err := s.watchers.Get(id)
	if err != nil {
		handleError(w, s.logger, err, "Failed to get watcher")
		return
	}

	var req watcherRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	if req.Path != "" {
		existing.Path = req.Path
	}
	if req.Kinds != nil {
		existing.Kinds = req.Kinds
	}
	if req.Recursive != nil {
		existing.Recursive = *req.Recursive
	}
	if req.Enabled != nil {
		existing.Enabled = *req.Enabled
	}

	if err := s.watchers.Update(existing); err != nil {
		handleError(w, s.logger, err, "Failed to update watcher")
		return
	}

	s.reloadWatchEngine("update")

	writeJSON(w, http.StatusOK, existing)
}

func (s *Server) handleDeleteWatcher(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.watchers.Delete(id); err != nil {
		handleError(w, s.logger, err, "Failed to delete watcher")
		return
	}

	s.reloadWatchEngine("delete")

	w.WriteHeader(http.StatusNoContent)
}

// reloadWatchEngine resyncs the running engine after watcher CRUD. A nil
// engine means watch mode is off and the change takes effect on restart.
func (s *Server) reloadWatchEngine(op string) {
	if s.watcher == nil {
		return
	}
	if err := s.watcher.Reload(); err != nil {
		s.logger.Warnw("Failed to reload watch engine after "+op, "error", err)
	}
}
