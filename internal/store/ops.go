package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/changebus"
	"github.com/fyrsmithlabs/memoryd/internal/hostname"
	"github.com/fyrsmithlabs/memoryd/internal/memerr"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// Input describes a memory to be written. Embedding is computed from
// Content via the configured embedder when nil; callers that already
// have a vector (e.g. a replay path) may supply it directly.
type Input struct {
	Content      string
	Tags         []string
	MemoryType   memory.MemoryType
	Metadata     map[string]any
	Embedding    []float32
	Hostname     string // explicit hostname tag, spec §4.C10 precedence
	ProtocolHint string
}

// Store writes a new memory, or merges into the live row already
// holding the same content hash (spec §4.C3 store(), invariant 1): tags
// are unioned and metadata is shallow-merged with the new call's keys
// winning. Returns the resulting hash and whether a new row was
// created.
func (s *Store) Store(ctx context.Context, in Input) (hash string, created bool, err error) {
	hash, err = memory.ContentHash(in.Content)
	if err != nil {
		return "", false, err
	}

	// Hostname tagging policy (spec §4.C10): disabled by default, and
	// when disabled no tag is added even if the caller passed an
	// explicit hostname.
	if s.cfg.IncludeHostname {
		if h := hostname.Resolve(in.Hostname, in.ProtocolHint); h != "" {
			if in.Metadata == nil {
				in.Metadata = map[string]any{}
			}
			if _, exists := in.Metadata[memory.MetaHostname]; !exists {
				in.Metadata[memory.MetaHostname] = h
			}
			sourceTag := "source:" + h
			hasTag := false
			for _, t := range in.Tags {
				if t == sourceTag {
					hasTag = true
					break
				}
			}
			if !hasTag {
				in.Tags = append(in.Tags, sourceTag)
			}
		}
	}

	m := &memory.Memory{
		ContentHash: hash,
		Content:     in.Content,
		Tags:        in.Tags,
		MemoryType:  in.MemoryType,
		Metadata:    in.Metadata,
	}
	if err := m.Validate(); err != nil {
		return "", false, err
	}

	embedding := in.Embedding
	if embedding == nil {
		embedding, err = s.embedder.Embed(ctx, in.Content)
		if err != nil {
			return "", false, err
		}
	}
	if len(embedding) != s.cfg.Dimension {
		return "", false, memerr.New(memerr.Embedding, "embedding dimension %d does not match store dimension %d", len(embedding), s.cfg.Dimension)
	}
	if isZeroVector(embedding) {
		return "", false, memerr.New(memerr.Embedding, "embedding must not be the zero vector")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var rowID int64
	err = withBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return memerr.Wrap(memerr.Retryable, err, "beginning store transaction")
		}
		defer tx.Rollback()

		var existingRowID int64
		var tagsJSON, metaJSON string
		row := tx.QueryRowContext(ctx, `SELECT row_id, tags_json, metadata_json FROM memories WHERE content_hash = ? AND archived = 0`, hash)
		scanErr := row.Scan(&existingRowID, &tagsJSON, &metaJSON)

		now := time.Now().UTC()
		nowUS := now.UnixMicro()

		switch {
		case scanErr == sql.ErrNoRows:
			created = true
			tagsEnc, err := encodeTags(m.Tags)
			if err != nil {
				return err
			}
			metaEnc, err := encodeMetadata(m.Metadata)
			if err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO memories(content_hash, content, tags_json, metadata_json, memory_type, created_at_us, updated_at_us, last_accessed_at_us, relevance_score, archived)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1.0, 0)`,
				hash, in.Content, tagsEnc, metaEnc, string(m.MemoryType), nowUS, nowUS, nowUS)
			if err != nil {
				return memerr.Wrap(memerr.Corruption, err, "inserting memory row")
			}
			rowID, err = res.LastInsertId()
			if err != nil {
				return memerr.Wrap(memerr.Corruption, err, "reading inserted row id")
			}
			if err := replaceTags(ctx, tx, rowID, m.Tags); err != nil {
				return err
			}

		case scanErr != nil:
			return memerr.Wrap(memerr.Corruption, scanErr, "checking existing content hash")

		default:
			created = false
			rowID = existingRowID
			existingTags, err := decodeTags(tagsJSON)
			if err != nil {
				return err
			}
			existingMeta, err := decodeMetadata(metaJSON)
			if err != nil {
				return err
			}
			mergedTags := mergeTags(existingTags, m.Tags)
			mergedMeta := mergeMetadata(existingMeta, m.Metadata)

			tagsEnc, err := encodeTags(mergedTags)
			if err != nil {
				return err
			}
			metaEnc, err := encodeMetadata(mergedMeta)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE memories SET tags_json = ?, metadata_json = ?, updated_at_us = ?, last_accessed_at_us = ?
				WHERE row_id = ?`, tagsEnc, metaEnc, nowUS, nowUS, rowID); err != nil {
				return memerr.Wrap(memerr.Corruption, err, "updating merged memory row")
			}
			if err := replaceTags(ctx, tx, rowID, mergedTags); err != nil {
				return err
			}
		}

		encVec := encodeVector(embedding)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO embeddings(row_id, vector) VALUES (?, ?)
			ON CONFLICT(row_id) DO UPDATE SET vector = excluded.vector`, rowID, encVec); err != nil {
			return memerr.Wrap(memerr.Corruption, err, "writing embedding")
		}

		return tx.Commit()
	})
	if err != nil {
		return "", false, err
	}

	s.ann.upsert(rowID, embedding, time.Now().UTC().UnixMicro())

	if s.bus != nil {
		evt := changebus.Updated
		if created {
			evt = changebus.Created
		}
		s.bus.Publish(changebus.Event{Type: evt, MemoryHash: hash})
	}

	return hash, created, nil
}

// GetByHash returns the live memory with the given content hash,
// touching last_accessed_at as a side effect (spec §4.C3's recall
// operations all refresh recency on read).
func (s *Store) GetByHash(ctx context.Context, hash string) (*memory.Memory, error) {
	m, err := s.loadByHash(ctx, hash, false)
	if err != nil {
		return nil, err
	}
	s.touchAccess(ctx, m.RowID)
	return m, nil
}

// ExactMatch is GetByHash without the recency side effect, for the
// query planner's exact_match operation (spec §4.C6), which is read
// only and must not perturb consolidation decay ordering.
func (s *Store) ExactMatch(ctx context.Context, hash string) (*memory.Memory, error) {
	return s.loadByHash(ctx, hash, false)
}

func (s *Store) loadByHash(ctx context.Context, hash string, includeArchived bool) (*memory.Memory, error) {
	query := `SELECT row_id, content_hash, content, tags_json, metadata_json, memory_type,
		created_at_us, updated_at_us, last_accessed_at_us, relevance_score, archived
		FROM memories WHERE content_hash = ?`
	if !includeArchived {
		query += ` AND archived = 0`
	}
	row := s.db.QueryRowContext(ctx, query, hash)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, memerr.New(memerr.NotFound, "no memory with hash %s", hash)
	}
	if err != nil {
		return nil, err
	}
	vec, err := s.loadEmbedding(ctx, m.RowID)
	if err != nil {
		return nil, err
	}
	m.Embedding = vec
	return m, nil
}

func (s *Store) loadEmbedding(ctx context.Context, rowID int64) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT vector FROM embeddings WHERE row_id = ?`, rowID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, memerr.Wrap(memerr.Corruption, err, "loading embedding for row %d", rowID)
	}
	return decodeVector(blob)
}

func (s *Store) touchAccess(ctx context.Context, rowID int64) {
	now := time.Now().UTC().UnixMicro()
	_, _ = s.db.ExecContext(ctx, `UPDATE memories SET last_accessed_at_us = ? WHERE row_id = ?`, now, rowID)
	_, _ = s.db.ExecContext(ctx, `INSERT INTO access_log(row_id, accessed_at_us) VALUES (?, ?)`, rowID, now)
}

// Update applies a partial edit to the live memory identified by hash.
// A nil field leaves the stored value unchanged; Tags and Metadata, if
// non-nil, replace (not merge) the existing values — merge-on-write
// semantics belong to Store, not Update.
type Update struct {
	Tags       []string
	Metadata   map[string]any
	MemoryType memory.MemoryType
}

func (s *Store) Update(ctx context.Context, hash string, u Update) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return withBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return memerr.Wrap(memerr.Retryable, err, "beginning update transaction")
		}
		defer tx.Rollback()

		var rowID int64
		var tagsJSON, metaJSON, memType string
		err = tx.QueryRowContext(ctx, `SELECT row_id, tags_json, metadata_json, memory_type FROM memories WHERE content_hash = ? AND archived = 0`, hash).
			Scan(&rowID, &tagsJSON, &metaJSON, &memType)
		if err == sql.ErrNoRows {
			return memerr.New(memerr.NotFound, "no memory with hash %s", hash)
		}
		if err != nil {
			return memerr.Wrap(memerr.Corruption, err, "loading memory for update")
		}

		newTags, err := decodeTags(tagsJSON)
		if err != nil {
			return err
		}
		if u.Tags != nil {
			newTags = u.Tags
		}
		newMeta, err := decodeMetadata(metaJSON)
		if err != nil {
			return err
		}
		if u.Metadata != nil {
			newMeta = u.Metadata
		}
		newType := memType
		if u.MemoryType != "" {
			newType = string(u.MemoryType)
		}

		tagsEnc, err := encodeTags(newTags)
		if err != nil {
			return err
		}
		metaEnc, err := encodeMetadata(newMeta)
		if err != nil {
			return err
		}

		now := time.Now().UTC().UnixMicro()
		if _, err := tx.ExecContext(ctx, `
			UPDATE memories SET tags_json = ?, metadata_json = ?, memory_type = ?, updated_at_us = ?, last_accessed_at_us = ?
			WHERE row_id = ?`, tagsEnc, metaEnc, newType, now, now, rowID); err != nil {
			return memerr.Wrap(memerr.Corruption, err, "applying update")
		}
		if err := replaceTags(ctx, tx, rowID, newTags); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		if s.bus != nil {
			s.bus.Publish(changebus.Event{Type: changebus.Updated, MemoryHash: hash})
		}
		return nil
	})
}

// Delete archives the live memory with the given hash (spec §4.C3:
// deletion is soft by default, recoverable until the forgetting pass
// purges it). The row_id is removed from the ANN cache immediately.
func (s *Store) Delete(ctx context.Context, hash string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var rowID int64
	err := withBusyRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE memories SET archived = 1, updated_at_us = ? WHERE content_hash = ? AND archived = 0`,
			time.Now().UTC().UnixMicro(), hash)
		if err != nil {
			return memerr.Wrap(memerr.Corruption, err, "archiving memory")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return memerr.Wrap(memerr.Corruption, err, "reading affected rows")
		}
		if n == 0 {
			return memerr.New(memerr.NotFound, "no live memory with hash %s", hash)
		}
		return s.db.QueryRowContext(ctx, `SELECT row_id FROM memories WHERE content_hash = ?`, hash).Scan(&rowID)
	})
	if err != nil {
		return err
	}

	s.ann.remove(rowID)
	if s.bus != nil {
		s.bus.Publish(changebus.Event{Type: changebus.Archived, MemoryHash: hash})
	}
	return nil
}

// DeleteByTags archives every live memory matching the tag filter,
// returning the hashes affected.
func (s *Store) DeleteByTags(ctx context.Context, tags []string, mode TagMode) ([]string, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var hashes []string
	err := withBusyRetry(ctx, func() error {
		hashes = nil
		rowIDs, err := rowIDsForTags(ctx, s.db, tags, mode)
		if err != nil {
			return err
		}
		for rowID := range rowIDs {
			var hash string
			var archived bool
			err := s.db.QueryRowContext(ctx, `SELECT content_hash, archived FROM memories WHERE row_id = ?`, rowID).Scan(&hash, &archived)
			if err == sql.ErrNoRows || archived {
				continue
			}
			if err != nil {
				return memerr.Wrap(memerr.Corruption, err, "loading row for tag delete")
			}
			if _, err := s.db.ExecContext(ctx, `UPDATE memories SET archived = 1, updated_at_us = ? WHERE row_id = ?`,
				time.Now().UTC().UnixMicro(), rowID); err != nil {
				return memerr.Wrap(memerr.Corruption, err, "archiving row %d", rowID)
			}
			hashes = append(hashes, hash)
			s.ann.remove(rowID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.bus != nil {
		for _, hash := range hashes {
			s.bus.Publish(changebus.Event{Type: changebus.Archived, MemoryHash: hash})
		}
	}
	return hashes, nil
}

// Iter streams every live memory matching f to yield, stopping early
// if yield returns false. Used by recall and by consolidation passes
// that must walk the whole live set.
func (s *Store) Iter(ctx context.Context, f Filter, yield func(*memory.Memory) bool) error {
	query := `SELECT row_id, content_hash, content, tags_json, metadata_json, memory_type,
		created_at_us, updated_at_us, last_accessed_at_us, relevance_score, archived FROM memories WHERE 1=1`
	var args []any
	if f.includeArchived() {
		// no archived filter
	} else {
		query += ` AND archived = 0`
	}
	if !f.Since.IsZero() {
		query += ` AND created_at_us >= ?`
		args = append(args, f.Since.UTC().UnixMicro())
	}
	if !f.Until.IsZero() {
		query += ` AND created_at_us < ?`
		args = append(args, f.Until.UTC().UnixMicro())
	}
	query += ` ORDER BY row_id ASC`

	var tagRowIDs map[int64]bool
	if len(f.Tags) > 0 {
		var err error
		tagRowIDs, err = rowIDsForTags(ctx, s.db, f.Tags, f.TagMode)
		if err != nil {
			return err
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return memerr.Wrap(memerr.Corruption, err, "iterating memories")
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMemoryRows(rows)
		if err != nil {
			return err
		}
		if tagRowIDs != nil && !tagRowIDs[m.RowID] {
			continue
		}
		if !f.matchesRow(m) {
			continue
		}
		if !yield(m) {
			break
		}
	}
	return rows.Err()
}

// Stats is a structural health & repair snapshot (spec §4.C9).
type Stats struct {
	LiveCount      int
	ArchivedCount  int
	EmbeddingCount int
	TagCount       int
	ANNCount       int
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE archived = 0`).Scan(&st.LiveCount); err != nil {
		return st, memerr.Wrap(memerr.Corruption, err, "counting live memories")
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE archived = 1`).Scan(&st.ArchivedCount); err != nil {
		return st, memerr.Wrap(memerr.Corruption, err, "counting archived memories")
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&st.EmbeddingCount); err != nil {
		return st, memerr.Wrap(memerr.Corruption, err, "counting embeddings")
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT row_id) FROM tags`).Scan(&st.TagCount); err != nil {
		return st, memerr.Wrap(memerr.Corruption, err, "counting tagged rows")
	}
	st.ANNCount = s.ann.len()
	return st, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(r rowScanner) (*memory.Memory, error) {
	return scanRow(r)
}

func scanMemoryRows(rows *sql.Rows) (*memory.Memory, error) {
	return scanRow(rows)
}

func scanRow(r rowScanner) (*memory.Memory, error) {
	var m memory.Memory
	var tagsJSON, metaJSON, memType string
	var createdUS, updatedUS, lastAccessUS int64
	var archived int
	if err := r.Scan(&m.RowID, &m.ContentHash, &m.Content, &tagsJSON, &metaJSON, &memType,
		&createdUS, &updatedUS, &lastAccessUS, &m.RelevanceScore, &archived); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, memerr.Wrap(memerr.Corruption, err, "scanning memory row")
	}
	tags, err := decodeTags(tagsJSON)
	if err != nil {
		return nil, err
	}
	meta, err := decodeMetadata(metaJSON)
	if err != nil {
		return nil, err
	}
	m.Tags = tags
	m.Metadata = meta
	m.MemoryType = memory.MemoryType(memType)
	m.CreatedAt = time.UnixMicro(createdUS).UTC()
	m.UpdatedAt = time.UnixMicro(updatedUS).UTC()
	m.LastAccessedAt = time.UnixMicro(lastAccessUS).UTC()
	m.Archived = archived != 0
	return &m, nil
}
