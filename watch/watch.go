// Package watch keeps the knowledge base current. Registered paths are
// observed with fsnotify, and file changes become deduplicated ingest.fs
// jobs instead of synchronous work: a branch switch that touches a
// thousand files costs one re-ingestion run. Per-watcher rate limits and
// a debounce window absorb event storms before they reach the job queue.
package watch

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/qacompanion/qac/artifact"
	"github.com/qacompanion/qac/ingest"
)

// Watcher is a registered filesystem observation. Kinds optionally narrows
// the watcher to files whose default classification matches; empty means
// everything the loaders accept.
type Watcher struct {
	ID          string     `json:"id"`
	Path        string     `json:"path"`
	Kinds       []string   `json:"kinds,omitempty"`
	Recursive   bool       `json:"recursive"`
	Enabled     bool       `json:"enabled"`
	CreatedAt   time.Time  `json:"created_at"`
	LastEventAt *time.Time `json:"last_event_at,omitempty"`
}

// rel resolves path against the watched root. The second return is false
// when the path falls outside the root, or outside the root's immediate
// children for a non-recursive watcher. The root itself resolves to "."
// so a watcher registered on a single file sees its own events.
func (w *Watcher) rel(path string) (string, bool) {
	if path == w.Path {
		return ".", true
	}
	rel, err := filepath.Rel(w.Path, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	if !w.Recursive && strings.Contains(rel, string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

// Covers reports whether path lies inside the watched root, honoring the
// recursive flag. The kind filter is not consulted.
func (w *Watcher) Covers(path string) bool {
	_, ok := w.rel(path)
	return ok
}

// WantsKind reports whether the kind filter admits k. An empty filter
// admits every kind.
func (w *Watcher) WantsKind(k artifact.Kind) bool {
	if len(w.Kinds) == 0 {
		return true
	}
	for _, kind := range w.Kinds {
		if kind == string(k) {
			return true
		}
	}
	return false
}

// Matches reports whether a file event at path concerns this watcher: the
// file lives under the watched root, no component is ignored by discovery,
// and its pre-read classification passes the kind filter.
func (w *Watcher) Matches(path string) bool {
	rel, ok := w.rel(path)
	if !ok {
		return false
	}
	if rel != "." {
		for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
			if ingest.SkipDir(part) {
				return false
			}
		}
	}
	kind := ingest.DefaultKind(path)
	if kind == "" {
		return false
	}
	return w.WantsKind(kind)
}

// joinKinds flattens the kind filter for the kinds column.
func joinKinds(kinds []string) string {
	return strings.Join(kinds, ",")
}

// splitKinds parses the kinds column back into a filter. An empty column
// is an empty filter, not a one-element slice.
func splitKinds(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	kinds := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kinds = append(kinds, p)
		}
	}
	return kinds
}
