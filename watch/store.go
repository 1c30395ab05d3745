package watch

import (
	"database/sql"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/qacompanion/qac/artifact"
	"github.com/qacompanion/qac/errors"
	"github.com/qacompanion/qac/logger"
	"github.com/qacompanion/qac/sym"
)

// Store persists watcher registrations in the watchers table.
type Store struct {
	db *sql.DB
}

// NewStore creates a watcher store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// normalize validates a watcher and absolutizes its path so it can be
// compared against event paths, which fsnotify reports absolute.
func normalize(w *Watcher) error {
	if w == nil {
		return errors.NewInvalidInputError("watcher is nil")
	}
	if strings.TrimSpace(w.Path) == "" {
		return errors.NewInvalidInputError("watcher path cannot be empty")
	}
	abs, err := filepath.Abs(w.Path)
	if err != nil {
		return errors.NewInvalidInputError("cannot resolve watcher path %q: %v", w.Path, err)
	}
	w.Path = filepath.Clean(abs)
	for _, k := range w.Kinds {
		if !artifact.ValidKind(artifact.Kind(k)) {
			return errors.NewInvalidInputError("unknown artifact kind %q", k)
		}
	}
	return nil
}

// Create registers a watcher. A missing ID is generated; the path is made
// absolute. Each path can only be watched once.
func (s *Store) Create(w *Watcher) error {
	if err := normalize(w); err != nil {
		return err
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	w.CreatedAt = time.Now().UTC()

	_, err := s.db.Exec(`
		INSERT INTO watchers (id, path, kinds, recursive, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		w.ID, w.Path, joinKinds(w.Kinds), w.Recursive, w.Enabled, w.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return errors.NewInvalidInputError("path %s is already watched", w.Path)
		}
		return errors.Wrapf(err, "failed to create watcher for %s", w.Path)
	}

	logger.Debugw(sym.Watch+" Watcher registered",
		"watcher_id", w.ID,
		"path", w.Path,
		"kinds", joinKinds(w.Kinds),
		"recursive", w.Recursive,
	)
	return nil
}

const watcherColumns = "id, path, kinds, recursive, enabled, created_at, last_event_at"

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWatcher(row rowScanner) (*Watcher, error) {
	var (
		w       Watcher
		kinds   string
		lastEvt sql.NullTime
	)
	if err := row.Scan(&w.ID, &w.Path, &kinds, &w.Recursive, &w.Enabled, &w.CreatedAt, &lastEvt); err != nil {
		return nil, err
	}
	w.Kinds = splitKinds(kinds)
	if lastEvt.Valid {
		t := lastEvt.Time
		w.LastEventAt = &t
	}
	return &w, nil
}

// Get retrieves a watcher by ID.
func (s *Store) Get(id string) (*Watcher, error) {
	row := s.db.QueryRow(`SELECT `+watcherColumns+` FROM watchers WHERE id = ?`, id)
	w, err := scanWatcher(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("watcher %s", id)
		}
		return nil, errors.Wrapf(err, "failed to get watcher %s", id)
	}
	return w, nil
}

// List returns watchers newest first, optionally only the enabled ones.
func (s *Store) List(enabledOnly bool) ([]*Watcher, error) {
	query := `SELECT ` + watcherColumns + ` FROM watchers`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list watchers")
	}
	defer rows.Close()

	var watchers []*Watcher
	for rows.Next() {
		w, err := scanWatcher(rows)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to scan watcher at row %d", len(watchers)+1)
		}
		watchers = append(watchers, w)
	}
	return watchers, rows.Err()
}

// Update rewrites a watcher's mutable fields.
func (s *Store) Update(w *Watcher) error {
	if err := normalize(w); err != nil {
		return err
	}

	result, err := s.db.Exec(`
		UPDATE watchers SET path = ?, kinds = ?, recursive = ?, enabled = ?
		WHERE id = ?`,
		w.Path, joinKinds(w.Kinds), w.Recursive, w.Enabled, w.ID,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return errors.NewInvalidInputError("path %s is already watched", w.Path)
		}
		return errors.Wrapf(err, "failed to update watcher %s", w.ID)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check update result")
	}
	if affected == 0 {
		return errors.NewNotFoundError("watcher %s", w.ID)
	}
	return nil
}

// Delete removes a watcher registration.
func (s *Store) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM watchers WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete watcher %s", id)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check delete result")
	}
	if affected == 0 {
		return errors.NewNotFoundError("watcher %s", id)
	}
	logger.Debugw(sym.Watch+" Watcher removed", "watcher_id", id)
	return nil
}

// RecordEvent stamps the watcher's last_event_at after a successful
// re-ingestion enqueue.
func (s *Store) RecordEvent(id string) error {
	result, err := s.db.Exec(
		`UPDATE watchers SET last_event_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to record event for watcher %s", id)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check event record result")
	}
	if affected == 0 {
		return errors.NewNotFoundError("watcher %s", id)
	}
	return nil
}
