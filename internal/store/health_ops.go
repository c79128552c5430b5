package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/memerr"
)

// WALEnabled reports whether the database is currently running in WAL
// journal mode, the first of the four startup checks in spec §4.C9.
func (s *Store) WALEnabled(ctx context.Context) (bool, error) {
	var mode string
	if err := s.db.QueryRowContext(ctx, `PRAGMA journal_mode`).Scan(&mode); err != nil {
		return false, memerr.Wrap(memerr.Corruption, err, "reading journal_mode")
	}
	return mode == "wal", nil
}

// Dimension returns the configured embedding width, for the health
// checker's per-row length validation.
func (s *Store) Dimension() int {
	return s.cfg.Dimension
}

// EmbeddingIssue names a row whose embedding failed a startup check.
type EmbeddingIssue struct {
	RowID  int64
	Hash   string
	Reason string // "wrong_length" or "zero_vector"
}

// ScanEmbeddingIssues walks every live row's embedding looking for a
// length mismatch against the configured dimension or an all-zero
// vector (spec §4.C9 check 2).
func (s *Store) ScanEmbeddingIssues(ctx context.Context) ([]EmbeddingIssue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.row_id, m.content_hash, e.vector
		FROM memories m JOIN embeddings e ON e.row_id = m.row_id
		WHERE m.archived = 0`)
	if err != nil {
		return nil, memerr.Wrap(memerr.Corruption, err, "scanning embeddings for health check")
	}
	defer rows.Close()

	var issues []EmbeddingIssue
	for rows.Next() {
		var rowID int64
		var hash string
		var blob []byte
		if err := rows.Scan(&rowID, &hash, &blob); err != nil {
			return nil, memerr.Wrap(memerr.Corruption, err, "scanning embedding row")
		}
		vec, err := decodeVector(blob)
		if err != nil {
			issues = append(issues, EmbeddingIssue{RowID: rowID, Hash: hash, Reason: "wrong_length"})
			continue
		}
		switch {
		case len(vec) != s.cfg.Dimension:
			issues = append(issues, EmbeddingIssue{RowID: rowID, Hash: hash, Reason: "wrong_length"})
		case isZeroVector(vec):
			issues = append(issues, EmbeddingIssue{RowID: rowID, Hash: hash, Reason: "zero_vector"})
		}
	}
	return issues, rows.Err()
}

// OrphanEmbeddings returns embeddings.row_id values with no matching
// live or archived memories row (spec §4.C9 check 3a).
func (s *Store) OrphanEmbeddings(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.row_id FROM embeddings e
		LEFT JOIN memories m ON m.row_id = e.row_id
		WHERE m.row_id IS NULL`)
	if err != nil {
		return nil, memerr.Wrap(memerr.Corruption, err, "finding orphan embeddings")
	}
	defer rows.Close()
	return scanInt64Rows(rows)
}

// OrphanMemories returns live memories.row_id values with no matching
// embeddings row (spec §4.C9 check 3b) — candidates for re-embed.
func (s *Store) OrphanMemories(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.row_id FROM memories m
		LEFT JOIN embeddings e ON e.row_id = m.row_id
		WHERE e.row_id IS NULL AND m.archived = 0`)
	if err != nil {
		return nil, memerr.Wrap(memerr.Corruption, err, "finding memories missing embeddings")
	}
	defer rows.Close()
	return scanInt64Rows(rows)
}

func scanInt64Rows(rows *sql.Rows) ([]int64, error) {
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, memerr.Wrap(memerr.Corruption, err, "scanning row id")
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// DeleteOrphanEmbeddings removes embeddings rows with no owning
// memories row (spec §4.C9 repair 3a).
func (s *Store) DeleteOrphanEmbeddings(ctx context.Context, rowIDs []int64) error {
	if len(rowIDs) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return withBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return memerr.Wrap(memerr.Retryable, err, "beginning orphan cleanup transaction")
		}
		defer tx.Rollback()
		for _, id := range rowIDs {
			if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE row_id = ?`, id); err != nil {
				return memerr.Wrap(memerr.Corruption, err, "deleting orphan embedding %d", id)
			}
		}
		return tx.Commit()
	})
}

// ContentForRows loads content strings for the given row ids, for the
// re-embed pass's embedding-client calls.
func (s *Store) ContentForRows(ctx context.Context, rowIDs []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(rowIDs))
	for _, id := range rowIDs {
		var content string
		err := s.db.QueryRowContext(ctx, `SELECT content FROM memories WHERE row_id = ?`, id).Scan(&content)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, memerr.Wrap(memerr.Corruption, err, "loading content for row %d", id)
		}
		out[id] = content
	}
	return out, nil
}

// WriteEmbeddings upserts freshly computed vectors for a batch of rows
// in one transaction and refreshes the in-process ANN cache, per the
// re-embed pass's "batched by 64 rows" requirement (spec §4.C9) —
// callers are expected to chunk rowIDs into batches of that size.
func (s *Store) WriteEmbeddings(ctx context.Context, vectors map[int64][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	err := withBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return memerr.Wrap(memerr.Retryable, err, "beginning re-embed transaction")
		}
		defer tx.Rollback()
		for rowID, vec := range vectors {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO embeddings(row_id, vector) VALUES (?, ?)
				ON CONFLICT(row_id) DO UPDATE SET vector = excluded.vector`, rowID, encodeVector(vec)); err != nil {
				return memerr.Wrap(memerr.Corruption, err, "writing re-embedded vector for row %d", rowID)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}
	now := time.Now().UTC().UnixMicro()
	for rowID, vec := range vectors {
		s.ann.upsert(rowID, vec, now)
	}
	return nil
}

// TagIndexSampleConsistent spot-checks up to sampleSize live rows,
// comparing their tags_json against the tags table, for the startup
// check's "rebuild if a sampled consistency check fails" rule (spec
// §4.C9 check 4).
func (s *Store) TagIndexSampleConsistent(ctx context.Context, sampleSize int) (bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT row_id, tags_json FROM memories WHERE archived = 0 ORDER BY row_id DESC LIMIT ?`, sampleSize)
	if err != nil {
		return false, memerr.Wrap(memerr.Corruption, err, "sampling memories for tag consistency check")
	}
	defer rows.Close()

	type sample struct {
		rowID int64
		tags  []string
	}
	var samples []sample
	for rows.Next() {
		var rowID int64
		var tagsJSON string
		if err := rows.Scan(&rowID, &tagsJSON); err != nil {
			return false, memerr.Wrap(memerr.Corruption, err, "scanning tag consistency sample")
		}
		tags, err := decodeTags(tagsJSON)
		if err != nil {
			return false, err
		}
		samples = append(samples, sample{rowID, tags})
	}
	if err := rows.Err(); err != nil {
		return false, err
	}

	for _, sp := range samples {
		indexed, err := rowIDsForTags(ctx, s.db, sp.tags, TagAll)
		if err != nil {
			return false, err
		}
		if len(sp.tags) > 0 && !indexed[sp.rowID] {
			return false, nil
		}
	}
	return true, nil
}
