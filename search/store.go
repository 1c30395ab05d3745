package search

import (
	"context"
	"database/sql"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/qacompanion/qac/errors"
	"github.com/qacompanion/qac/logger"
	"github.com/qacompanion/qac/sym"
)

// Store reads and writes the vector index.
type Store struct {
	db    *sql.DB
	model string
	dim   int
}

// NewStore creates a vector index store. dim must match the vec_embeddings
// column dimension.
func NewStore(db *sql.DB, model string, dim int) *Store {
	return &Store{db: db, model: model, dim: dim}
}

// IndexItem pairs a chunk with its embedding for batch indexing.
type IndexItem struct {
	ChunkID string
	Vector  []float32
}

// IndexChunk stores the embedding for one chunk, replacing any previous
// vector. The metadata row and the vec row are written in one transaction
// so the backlog query never sees a chunk as indexed without a vector.
func (s *Store) IndexChunk(ctx context.Context, chunkID string, vector []float32) error {
	if len(vector) != s.dim {
		return errors.Wrapf(errors.ErrEmbeddingDim,
			"chunk %s: vector has %d dimensions, index expects %d", chunkID, len(vector), s.dim)
	}
	blob, err := sqlite_vec.SerializeFloat32(vector)
	if err != nil {
		return errors.Wrapf(err, "serialize embedding for chunk %s", chunkID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin index transaction")
	}
	defer tx.Rollback()

	id, err := upsertMetadata(ctx, tx, chunkID, s.model, s.dim)
	if err != nil {
		return err
	}

	// Virtual tables don't support UPSERT, so delete then insert.
	if _, err := tx.ExecContext(ctx, `DELETE FROM vec_embeddings WHERE rowid = ?`, id); err != nil {
		return errors.Wrapf(err, "clear vector for chunk %s", chunkID)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO vec_embeddings (rowid, embedding) VALUES (?, ?)`, id, blob); err != nil {
		return errors.Wrapf(err, "insert vector for chunk %s", chunkID)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "commit index for chunk %s", chunkID)
	}

	logger.Debugw(sym.Embed+" Indexed chunk",
		"chunk_id", chunkID,
		"model", s.model,
	)
	return nil
}

// IndexBatch stores embeddings for many chunks in one transaction.
func (s *Store) IndexBatch(ctx context.Context, items []IndexItem) error {
	if len(items) == 0 {
		return nil
	}
	for _, item := range items {
		if len(item.Vector) != s.dim {
			return errors.Wrapf(errors.ErrEmbeddingDim,
				"chunk %s: vector has %d dimensions, index expects %d", item.ChunkID, len(item.Vector), s.dim)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin batch index transaction")
	}
	defer tx.Rollback()

	metaStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO embeddings (chunk_id, model, dim) VALUES (?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			model = excluded.model,
			dim = excluded.dim
	`)
	if err != nil {
		return errors.Wrap(err, "prepare embeddings upsert")
	}
	defer metaStmt.Close()

	idStmt, err := tx.PrepareContext(ctx, `SELECT id FROM embeddings WHERE chunk_id = ?`)
	if err != nil {
		return errors.Wrap(err, "prepare embeddings id lookup")
	}
	defer idStmt.Close()

	delStmt, err := tx.PrepareContext(ctx, `DELETE FROM vec_embeddings WHERE rowid = ?`)
	if err != nil {
		return errors.Wrap(err, "prepare vector delete")
	}
	defer delStmt.Close()

	insStmt, err := tx.PrepareContext(ctx, `INSERT INTO vec_embeddings (rowid, embedding) VALUES (?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare vector insert")
	}
	defer insStmt.Close()

	for _, item := range items {
		blob, err := sqlite_vec.SerializeFloat32(item.Vector)
		if err != nil {
			return errors.Wrapf(err, "serialize embedding for chunk %s", item.ChunkID)
		}
		if _, err := metaStmt.ExecContext(ctx, item.ChunkID, s.model, s.dim); err != nil {
			return errors.Wrapf(err, "upsert embedding metadata for chunk %s", item.ChunkID)
		}
		var id int64
		if err := idStmt.QueryRowContext(ctx, item.ChunkID).Scan(&id); err != nil {
			return errors.Wrapf(err, "look up embedding id for chunk %s", item.ChunkID)
		}
		if _, err := delStmt.ExecContext(ctx, id); err != nil {
			return errors.Wrapf(err, "clear vector for chunk %s", item.ChunkID)
		}
		if _, err := insStmt.ExecContext(ctx, id, blob); err != nil {
			return errors.Wrapf(err, "insert vector for chunk %s", item.ChunkID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit batch index transaction")
	}

	logger.Debugw(sym.Embed+" Indexed batch",
		"chunks", len(items),
		"model", s.model,
	)
	return nil
}

func upsertMetadata(ctx context.Context, tx *sql.Tx, chunkID, model string, dim int) (int64, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO embeddings (chunk_id, model, dim) VALUES (?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			model = excluded.model,
			dim = excluded.dim
	`, chunkID, model, dim)
	if err != nil {
		return 0, errors.Wrapf(err, "upsert embedding metadata for chunk %s", chunkID)
	}

	var id int64
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM embeddings WHERE chunk_id = ?`, chunkID).Scan(&id); err != nil {
		return 0, errors.Wrapf(err, "look up embedding id for chunk %s", chunkID)
	}
	return id, nil
}

// Count returns the number of indexed chunks.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "count indexed chunks")
	}
	return count, nil
}

// Search runs a KNN scan over the vector index and joins results back to
// their chunks and artifacts. Results arrive ordered by distance; rows
// below opts.Threshold are dropped after similarity conversion.
func (s *Store) Search(ctx context.Context, queryVector []float32, opts Options) ([]Result, error) {
	if len(queryVector) != s.dim {
		return nil, errors.Wrapf(errors.ErrEmbeddingDim,
			"query vector has %d dimensions, index expects %d", len(queryVector), s.dim)
	}
	if opts.K <= 0 {
		opts.K = DefaultK
	}

	blob, err := sqlite_vec.SerializeFloat32(queryVector)
	if err != nil {
		return nil, errors.Wrap(err, "serialize query vector")
	}

	// Kind and repo constraints are evaluated after the KNN scan has
	// already picked its k nearest rows, so filtered queries widen k.
	knnK := opts.K
	filtered := len(opts.Kinds) > 0 || opts.Repo != ""
	if filtered {
		knnK = opts.K * overFetchFactor
	}

	query := `
		SELECT c.id, c.artifact_id, a.kind, a.title, a.source_id, c.content, v.distance
		FROM (
			SELECT rowid, distance
			FROM vec_embeddings
			WHERE embedding MATCH ? AND k = ?
		) v
		JOIN embeddings e ON e.id = v.rowid
		JOIN chunks c ON c.id = e.chunk_id
		JOIN artifacts a ON a.id = c.artifact_id
	`
	args := []interface{}{blob, knnK}

	var conds []string
	if len(opts.Kinds) > 0 {
		placeholders := make([]string, len(opts.Kinds))
		for i, kind := range opts.Kinds {
			placeholders[i] = "?"
			args = append(args, string(kind))
		}
		conds = append(conds, "a.kind IN ("+strings.Join(placeholders, ", ")+")")
	}
	if opts.Repo != "" {
		conds = append(conds, "a.repo = ?")
		args = append(args, opts.Repo)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY v.distance LIMIT ?"
	args = append(args, opts.K)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "semantic search (k=%d)", opts.K)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var content string
		var distance float64
		if err := rows.Scan(&r.ChunkID, &r.ArtifactID, &r.Kind, &r.Title, &r.SourceID, &content, &distance); err != nil {
			return nil, errors.Wrapf(err, "scan search result %d", len(results)+1)
		}

		// L2 distance over unit-normalized vectors ranges 0 to 2.
		r.Similarity = 1.0 - distance/2.0
		if r.Similarity < 0 {
			r.Similarity = 0
		}
		if r.Similarity < opts.Threshold {
			continue
		}

		r.Snippet = snippet(content)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "iterate search results (scanned %d)", len(results))
	}

	logger.Debugw(sym.Query+" Semantic search completed",
		"results", len(results),
		"k", opts.K,
		"threshold", opts.Threshold,
	)
	return results, nil
}
