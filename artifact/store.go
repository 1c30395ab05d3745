package artifact

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/qacompanion/qac/errors"
	"github.com/qacompanion/qac/logger"
)

// Store provides database operations for artifacts and their chunks.
type Store struct {
	db *sql.DB
}

// NewStore creates an artifact store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const artifactColumns = `id, kind, source_id, title, content, repo, author,
	metadata, content_hash, created_at, updated_at, ingested_at`

func scanArtifact(row interface{ Scan(...interface{}) error }) (*Artifact, error) {
	var a Artifact
	var metadata sql.NullString
	err := row.Scan(
		&a.ID, &a.Kind, &a.SourceID, &a.Title, &a.Content, &a.Repo, &a.Author,
		&metadata, &a.ContentHash, &a.CreatedAt, &a.UpdatedAt, &a.IngestedAt,
	)
	if err != nil {
		return nil, err
	}
	if metadata.Valid && metadata.String != "" {
		a.Metadata = json.RawMessage(metadata.String)
	}
	return &a, nil
}

// Save upserts a draft by its (kind, repo, source_id) identity. When stored
// content already matches the draft's fingerprint the row is left untouched
// and unchanged reports true.
func (s *Store) Save(draft *Draft) (*Artifact, bool, error) {
	if draft == nil {
		return nil, false, errors.New("draft is nil")
	}
	if !ValidKind(draft.Kind) {
		return nil, false, errors.NewInvalidInputError("unknown artifact kind: %q", draft.Kind)
	}
	if strings.TrimSpace(draft.SourceID) == "" {
		return nil, false, errors.NewInvalidInputError("artifact source_id is required")
	}

	metadata := "{}"
	if len(draft.Metadata) > 0 {
		raw, err := json.Marshal(draft.Metadata)
		if err != nil {
			return nil, false, errors.Wrapf(err, "failed to marshal metadata for %s", draft.SourceID)
		}
		metadata = string(raw)
	}

	hash := Fingerprint(draft.Content)
	now := time.Now().UTC()

	existing, err := s.GetBySourceID(draft.Kind, draft.Repo, draft.SourceID)
	if err != nil && !errors.IsNotFound(err) {
		return nil, false, err
	}

	if existing != nil {
		if existing.ContentHash == hash {
			logger.Debugw("Artifact unchanged",
				"artifact_id", existing.ID,
				"kind", existing.Kind,
				"source", existing.SourceID,
			)
			return existing, true, nil
		}

		query := `
			UPDATE artifacts
			SET title = ?, content = ?, author = ?, metadata = ?,
			    content_hash = ?, updated_at = ?, ingested_at = ?
			WHERE id = ?
		`
		if _, err := s.db.Exec(query,
			draft.Title, draft.Content, draft.Author, metadata,
			hash, now, now, existing.ID,
		); err != nil {
			return nil, false, errors.Wrapf(err, "failed to update artifact %s", existing.ID)
		}
		updated, err := s.Get(existing.ID)
		if err != nil {
			return nil, false, err
		}
		logger.Debugw("Artifact updated",
			"artifact_id", updated.ID,
			"kind", updated.Kind,
			"source", updated.SourceID,
		)
		return updated, false, nil
	}

	a := &Artifact{
		ID:          NewID(),
		Kind:        draft.Kind,
		SourceID:    draft.SourceID,
		Title:       draft.Title,
		Content:     draft.Content,
		Repo:        draft.Repo,
		Author:      draft.Author,
		ContentHash: hash,
		CreatedAt:   now,
		UpdatedAt:   now,
		IngestedAt:  now,
	}
	if metadata != "{}" {
		a.Metadata = json.RawMessage(metadata)
	}

	query := `
		INSERT INTO artifacts (
			id, kind, source_id, title, content, repo, author,
			metadata, content_hash, created_at, updated_at, ingested_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.Exec(query,
		a.ID, a.Kind, a.SourceID, a.Title, a.Content, a.Repo, a.Author,
		metadata, a.ContentHash, a.CreatedAt, a.UpdatedAt, a.IngestedAt,
	); err != nil {
		return nil, false, errors.Wrapf(err, "failed to insert artifact %s:%s", draft.Kind, draft.SourceID)
	}

	logger.Debugw("Artifact created",
		"artifact_id", a.ID,
		"kind", a.Kind,
		"source", a.SourceID,
	)
	return a, false, nil
}

// Get retrieves an artifact by its identifier.
func (s *Store) Get(id string) (*Artifact, error) {
	query := `SELECT ` + artifactColumns + ` FROM artifacts WHERE id = ?`
	a, err := scanArtifact(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("artifact not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get artifact %s", id)
	}
	return a, nil
}

// GetBySourceID retrieves an artifact by its external identity.
func (s *Store) GetBySourceID(kind Kind, repo, sourceID string) (*Artifact, error) {
	query := `SELECT ` + artifactColumns + ` FROM artifacts WHERE kind = ? AND repo = ? AND source_id = ?`
	a, err := scanArtifact(s.db.QueryRow(query, kind, repo, sourceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("artifact not found: %s:%s", kind, sourceID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get artifact %s:%s", kind, sourceID)
	}
	return a, nil
}

// FindBySourceSuffix returns artifacts of the given kind whose source_id
// equals value or ends with sep followed by value. Repo narrows the match
// when non-empty. Used by trace heuristics to resolve issue keys ("#123")
// and file paths ("pkg/store.go") against ingested artifacts.
func (s *Store) FindBySourceSuffix(kind Kind, repo, value, sep string) ([]*Artifact, error) {
	if value == "" {
		return nil, errors.NewInvalidInputError("source suffix cannot be empty")
	}

	query := `SELECT ` + artifactColumns + ` FROM artifacts
		WHERE kind = ? AND (source_id = ? OR source_id LIKE ?)`
	args := []interface{}{kind, value, "%" + sep + value}
	if repo != "" {
		query += " AND repo = ?"
		args = append(args, repo)
	}
	query += " ORDER BY updated_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to find %s artifacts matching %q", kind, value)
	}
	defer rows.Close()

	var artifacts []*Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to scan artifact at row %d", len(artifacts)+1)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// ListOptions filter List results. Zero values mean no filter; Limit 0 means
// the default of 100.
type ListOptions struct {
	Kind  Kind
	Repo  string
	Limit int
}

// List returns artifacts ordered by most recently updated.
func (s *Store) List(opts ListOptions) ([]*Artifact, error) {
	query := `SELECT ` + artifactColumns + ` FROM artifacts`
	var conds []string
	var args []interface{}

	if opts.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, opts.Kind)
	}
	if opts.Repo != "" {
		conds = append(conds, "repo = ?")
		args = append(args, opts.Repo)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY updated_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list artifacts")
	}
	defer rows.Close()

	var artifacts []*Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to scan artifact at row %d", len(artifacts)+1)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// Delete removes an artifact together with its chunks, embeddings, vector
// rows, and trace links. vec_embeddings has no foreign keys, so its rows are
// removed explicitly before the cascading delete.
func (s *Store) Delete(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin delete transaction")
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		DELETE FROM vec_embeddings WHERE rowid IN (
			SELECT e.id FROM embeddings e
			JOIN chunks c ON c.id = e.chunk_id
			WHERE c.artifact_id = ?
		)`, id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete vectors for artifact %s", id)
	}

	result, err := tx.Exec(`DELETE FROM artifacts WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete artifact %s", id)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NewNotFoundError("artifact not found: %s", id)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "failed to commit delete of artifact %s", id)
	}

	logger.Debugw("Artifact deleted", "artifact_id", id)
	return nil
}

// CountByKind returns artifact totals grouped by kind.
func (s *Store) CountByKind() (map[Kind]int, error) {
	rows, err := s.db.Query(`SELECT kind, COUNT(*) FROM artifacts GROUP BY kind`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count artifacts")
	}
	defer rows.Close()

	counts := make(map[Kind]int)
	for rows.Next() {
		var kind Kind
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan artifact count")
		}
		counts[kind] = count
	}
	return counts, rows.Err()
}

// ReplaceChunks swaps an artifact's chunks for the given set in one
// transaction. Chunks whose content-addressed ID survives keep their row and
// therefore their embedding; stale chunks lose their vector rows explicitly.
func (s *Store) ReplaceChunks(artifactID string, chunks []Chunk) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin chunk transaction")
	}
	defer tx.Rollback()

	keep := make([]interface{}, 0, len(chunks)+1)
	keep = append(keep, artifactID)
	placeholders := make([]string, 0, len(chunks))
	for _, c := range chunks {
		keep = append(keep, c.ID)
		placeholders = append(placeholders, "?")
	}

	staleCond := `artifact_id = ?`
	staleCondJoined := `c.artifact_id = ?`
	if len(placeholders) > 0 {
		staleCond += ` AND id NOT IN (` + strings.Join(placeholders, ", ") + `)`
		staleCondJoined += ` AND c.id NOT IN (` + strings.Join(placeholders, ", ") + `)`
	}

	_, err = tx.Exec(`
		DELETE FROM vec_embeddings WHERE rowid IN (
			SELECT e.id FROM embeddings e
			JOIN chunks c ON c.id = e.chunk_id
			WHERE `+staleCondJoined+`
		)`, keep...)
	if err != nil {
		return errors.Wrapf(err, "failed to delete stale vectors for artifact %s", artifactID)
	}

	if _, err := tx.Exec(`DELETE FROM chunks WHERE `+staleCond, keep...); err != nil {
		return errors.Wrapf(err, "failed to delete stale chunks for artifact %s", artifactID)
	}

	now := time.Now().UTC()
	upsert := `
		INSERT INTO chunks (id, artifact_id, seq, content, word_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			seq = excluded.seq,
			content = excluded.content,
			word_count = excluded.word_count
	`
	stmt, err := tx.Prepare(upsert)
	if err != nil {
		return errors.Wrap(err, "failed to prepare chunk upsert")
	}
	defer stmt.Close()

	for _, c := range chunks {
		if c.ArtifactID != "" && c.ArtifactID != artifactID {
			return errors.NewInvalidInputError("chunk %s belongs to artifact %s, not %s", c.ID, c.ArtifactID, artifactID)
		}
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := stmt.Exec(c.ID, artifactID, c.Seq, c.Content, c.WordCount, createdAt); err != nil {
			return errors.Wrapf(err, "failed to upsert chunk %s", c.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "failed to commit chunks for artifact %s", artifactID)
	}

	logger.Debugw("Chunks replaced",
		"artifact_id", artifactID,
		"chunks", len(chunks),
	)
	return nil
}

// GetChunk retrieves a single chunk by ID.
func (s *Store) GetChunk(id string) (*Chunk, error) {
	var c Chunk
	err := s.db.QueryRow(`
		SELECT id, artifact_id, seq, content, word_count, created_at
		FROM chunks
		WHERE id = ?`, id,
	).Scan(&c.ID, &c.ArtifactID, &c.Seq, &c.Content, &c.WordCount, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("chunk " + id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get chunk %s", id)
	}
	return &c, nil
}

// ListChunks returns an artifact's chunks in sequence order.
func (s *Store) ListChunks(artifactID string) ([]Chunk, error) {
	query := `
		SELECT id, artifact_id, seq, content, word_count, created_at
		FROM chunks
		WHERE artifact_id = ?
		ORDER BY seq
	`
	rows, err := s.db.Query(query, artifactID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list chunks for artifact %s", artifactID)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.ArtifactID, &c.Seq, &c.Content, &c.WordCount, &c.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan chunk")
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// ChunksWithoutEmbedding returns up to limit chunks that have no embedding
// row yet. Feeds the embedding backlog job.
func (s *Store) ChunksWithoutEmbedding(limit int) ([]Chunk, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT c.id, c.artifact_id, c.seq, c.content, c.word_count, c.created_at
		FROM chunks c
		LEFT JOIN embeddings e ON e.chunk_id = c.id
		WHERE e.id IS NULL
		ORDER BY c.created_at, c.artifact_id, c.seq
		LIMIT ?
	`
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list chunks without embeddings")
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.ArtifactID, &c.Seq, &c.Content, &c.WordCount, &c.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan chunk")
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// CountChunksWithoutEmbedding reports the embedding backlog size.
func (s *Store) CountChunksWithoutEmbedding() (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*)
		FROM chunks c
		LEFT JOIN embeddings e ON e.chunk_id = c.id
		WHERE e.id IS NULL`,
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count embedding backlog")
	}
	return count, nil
}
