package trace

import (
	"database/sql"
	"strings"

	"github.com/qacompanion/qac/errors"
	"github.com/qacompanion/qac/logger"
	"github.com/qacompanion/qac/sym"
)

// Neighborhood depth is capped so a densely linked graph cannot turn one
// request into a full table walk.
const maxNeighborhoodDepth = 5

// Store persists trace links.
type Store struct {
	db *sql.DB
}

// NewStore creates a trace link store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Add inserts a link, or raises the confidence of an existing one. The
// origin of an existing link is preserved. A zero confidence defaults
// to 1.0 so manual links are fully trusted.
func (s *Store) Add(link *Link) error {
	if link == nil {
		return errors.NewInvalidInputError("link is nil")
	}
	if link.FromID == "" || link.ToID == "" {
		return errors.NewInvalidInputError("link requires both from and to artifact ids")
	}
	if link.FromID == link.ToID {
		return errors.NewInvalidInputError("artifact %s cannot link to itself", link.FromID)
	}
	if !ValidLinkKind(link.Kind) {
		return errors.NewInvalidInputError("invalid link kind: %s", link.Kind)
	}
	if link.Confidence == 0 {
		link.Confidence = 1.0
	}
	if link.Confidence < 0 || link.Confidence > 1 {
		return errors.NewInvalidInputError("confidence %.2f is outside (0, 1]", link.Confidence)
	}
	if link.Origin == "" {
		link.Origin = OriginManual
	}

	query := `
		INSERT INTO trace_links (from_id, to_id, kind, confidence, origin)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(from_id, to_id, kind) DO UPDATE SET
			confidence = MAX(trace_links.confidence, excluded.confidence)
	`
	_, err := s.db.Exec(query, link.FromID, link.ToID, link.Kind, link.Confidence, link.Origin)
	if err != nil {
		return errors.Wrapf(err, "failed to add %s link %s -> %s", link.Kind, link.FromID, link.ToID)
	}

	row := s.db.QueryRow(
		`SELECT id, confidence, origin, created_at FROM trace_links WHERE from_id = ? AND to_id = ? AND kind = ?`,
		link.FromID, link.ToID, link.Kind,
	)
	if err := row.Scan(&link.ID, &link.Confidence, &link.Origin, &link.CreatedAt); err != nil {
		return errors.Wrapf(err, "failed to read back link %s -> %s", link.FromID, link.ToID)
	}

	logger.Debugw(sym.Trace+" Link recorded",
		"from", link.FromID,
		"to", link.ToID,
		"kind", link.Kind,
		"confidence", link.Confidence,
		"origin", link.Origin,
	)
	return nil
}

// Remove deletes a link by its identity triple.
func (s *Store) Remove(fromID, toID string, kind LinkKind) error {
	result, err := s.db.Exec(
		`DELETE FROM trace_links WHERE from_id = ? AND to_id = ? AND kind = ?`,
		fromID, toID, kind,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to remove %s link %s -> %s", kind, fromID, toID)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check removed link count")
	}
	if affected == 0 {
		return errors.NewNotFoundError("no %s link from %s to %s", kind, fromID, toID)
	}
	return nil
}

const linkColumns = "id, from_id, to_id, kind, confidence, origin, created_at"

func scanLinks(rows *sql.Rows) ([]Link, error) {
	var links []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.ID, &l.FromID, &l.ToID, &l.Kind, &l.Confidence, &l.Origin, &l.CreatedAt); err != nil {
			return nil, errors.Wrapf(err, "failed to scan link at row %d", len(links)+1)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// ListFrom returns links originating at the given artifact.
func (s *Store) ListFrom(artifactID string) ([]Link, error) {
	rows, err := s.db.Query(
		`SELECT `+linkColumns+` FROM trace_links WHERE from_id = ? ORDER BY confidence DESC, id`,
		artifactID,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list links from %s", artifactID)
	}
	defer rows.Close()
	return scanLinks(rows)
}

// ListTo returns links pointing at the given artifact.
func (s *Store) ListTo(artifactID string) ([]Link, error) {
	rows, err := s.db.Query(
		`SELECT `+linkColumns+` FROM trace_links WHERE to_id = ? ORDER BY confidence DESC, id`,
		artifactID,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list links to %s", artifactID)
	}
	defer rows.Close()
	return scanLinks(rows)
}

// Neighborhood walks links breadth-first from rootID, following both
// directions, and returns the subgraph reached within depth hops.
func (s *Store) Neighborhood(rootID string, depth int) (*Graph, error) {
	if depth <= 0 {
		depth = 1
	}
	if depth > maxNeighborhoodDepth {
		depth = maxNeighborhoodDepth
	}

	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM artifacts WHERE id = ?`, rootID).Scan(&exists); err != nil {
		return nil, errors.Wrapf(err, "failed to look up artifact %s", rootID)
	}
	if exists == 0 {
		return nil, errors.NewNotFoundError("artifact not found: %s", rootID)
	}

	visited := map[string]bool{rootID: true}
	frontier := []string{rootID}
	seen := make(map[int64]bool)
	var links []Link

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(frontier)), ", ")
		query := `SELECT ` + linkColumns + ` FROM trace_links
			WHERE from_id IN (` + placeholders + `) OR to_id IN (` + placeholders + `)
			ORDER BY id`
		args := make([]interface{}, 0, len(frontier)*2)
		for _, id := range frontier {
			args = append(args, id)
		}
		for _, id := range frontier {
			args = append(args, id)
		}

		rows, err := s.db.Query(query, args...)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to expand neighborhood at hop %d", hop+1)
		}
		hopLinks, err := scanLinks(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}

		var next []string
		for _, l := range hopLinks {
			if seen[l.ID] {
				continue
			}
			seen[l.ID] = true
			links = append(links, l)
			for _, nodeID := range []string{l.FromID, l.ToID} {
				if !visited[nodeID] {
					visited[nodeID] = true
					next = append(next, nodeID)
				}
			}
		}
		frontier = next
	}

	nodes, err := s.fetchNodes(visited)
	if err != nil {
		return nil, err
	}

	logger.Debugw(sym.Trace+" Neighborhood expanded",
		"root", rootID,
		"depth", depth,
		"nodes", len(nodes),
		"links", len(links),
	)
	return &Graph{Nodes: nodes, Links: links}, nil
}

func (s *Store) fetchNodes(ids map[string]bool) ([]Node, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]interface{}, 0, len(ids))
	for id := range ids {
		args = append(args, id)
	}

	rows, err := s.db.Query(
		`SELECT id, kind, title, source_id FROM artifacts WHERE id IN (`+placeholders+`) ORDER BY id`,
		args...,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch neighborhood nodes")
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.ID, &n.Kind, &n.Title, &n.SourceID); err != nil {
			return nil, errors.Wrapf(err, "failed to scan node at row %d", len(nodes)+1)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}
