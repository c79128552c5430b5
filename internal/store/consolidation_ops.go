package store

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/changebus"
	"github.com/fyrsmithlabs/memoryd/internal/memerr"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// LiveMemoriesModifiedSince returns non-archived memories whose
// updated_at falls on or after since, capped at limit rows — the
// candidate pool for the weekly association pass (spec §4.C8).
func (s *Store) LiveMemoriesModifiedSince(ctx context.Context, since time.Time, limit int) ([]*memory.Memory, error) {
	var out []*memory.Memory
	err := s.Iter(ctx, Filter{Since: since}, func(m *memory.Memory) bool {
		out = append(out, m)
		return limit <= 0 || len(out) < limit
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for _, m := range out {
		vec, err := s.loadEmbedding(ctx, m.RowID)
		if err != nil {
			return nil, err
		}
		m.Embedding = vec
	}
	return out, nil
}

// AccessCountsSince returns, for each row id, the number of reads
// recorded in access_log since the given instant — the access_bonus
// term in the daily decay formula (spec §4.C8).
func (s *Store) AccessCountsSince(ctx context.Context, since time.Time) (map[int64]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT row_id, COUNT(*) FROM access_log WHERE accessed_at_us >= ? GROUP BY row_id`, since.UTC().UnixMicro())
	if err != nil {
		return nil, memerr.Wrap(memerr.Corruption, err, "counting recent accesses")
	}
	defer rows.Close()

	out := make(map[int64]int)
	for rows.Next() {
		var rowID int64
		var count int
		if err := rows.Scan(&rowID, &count); err != nil {
			return nil, memerr.Wrap(memerr.Corruption, err, "scanning access count")
		}
		out[rowID] = count
	}
	return out, rows.Err()
}

// UpdateRelevanceScores applies the daily decay pass's recomputed
// scores in one transaction.
func (s *Store) UpdateRelevanceScores(ctx context.Context, scores map[int64]float64) error {
	if len(scores) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return withBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return memerr.Wrap(memerr.Retryable, err, "beginning relevance score update")
		}
		defer tx.Rollback()

		for rowID, score := range scores {
			if _, err := tx.ExecContext(ctx, `UPDATE memories SET relevance_score = ? WHERE row_id = ?`, score, rowID); err != nil {
				return memerr.Wrap(memerr.Corruption, err, "updating relevance score for row %d", rowID)
			}
		}
		return tx.Commit()
	})
}

// AssociationExists reports whether an association already links a
// and b in either direction, for the weekly pass's dedup rule.
func (s *Store) AssociationExists(ctx context.Context, aHash, bHash string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM associations
		WHERE (a_hash = ? AND b_hash = ?) OR (a_hash = ? AND b_hash = ?)`,
		aHash, bHash, bHash, aHash).Scan(&n)
	if err != nil {
		return false, memerr.Wrap(memerr.Corruption, err, "checking existing association")
	}
	return n > 0, nil
}

// InsertAssociation records a newly discovered association.
func (s *Store) InsertAssociation(ctx context.Context, a *memory.Association) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO associations(id, a_hash, b_hash, similarity, kind, discovered_at_us)
			VALUES (?, ?, ?, ?, ?, ?)`,
			a.ID, a.AHash, a.BHash, a.Similarity, string(a.Kind), a.DiscoveredAt.UTC().UnixMicro())
		if err != nil {
			return memerr.Wrap(memerr.Corruption, err, "inserting association")
		}
		return nil
	})
}

// ReplaceCluster upserts a cluster and its member list, superseding
// any prior cluster whose id differs but overlaps, per the caller's
// id-stability decision (spec §4.C8) — this method trusts the caller
// to have already decided whether to reuse or mint the id.
func (s *Store) ReplaceCluster(ctx context.Context, c *memory.Cluster) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return withBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return memerr.Wrap(memerr.Retryable, err, "beginning cluster replace")
		}
		defer tx.Rollback()

		centroid := encodeVector(c.Centroid)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO clusters(id, centroid, created_at_us, last_rebuilt_at_us, superseded)
			VALUES (?, ?, ?, ?, 0)
			ON CONFLICT(id) DO UPDATE SET centroid = excluded.centroid, last_rebuilt_at_us = excluded.last_rebuilt_at_us`,
			c.ID, centroid, c.CreatedAt.UTC().UnixMicro(), c.LastRebuiltAt.UTC().UnixMicro())
		if err != nil {
			return memerr.Wrap(memerr.Corruption, err, "upserting cluster")
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM cluster_members WHERE cluster_id = ?`, c.ID); err != nil {
			return memerr.Wrap(memerr.Corruption, err, "clearing cluster members")
		}
		for _, hash := range c.Members {
			if _, err := tx.ExecContext(ctx, `INSERT INTO cluster_members(cluster_id, content_hash) VALUES (?, ?)`, c.ID, hash); err != nil {
				return memerr.Wrap(memerr.Corruption, err, "inserting cluster member")
			}
		}
		return tx.Commit()
	})
}

// SupersedeCluster marks an old cluster id as superseded without
// deleting it, preserving history for the overlap check on the next
// monthly pass.
func (s *Store) SupersedeCluster(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE clusters SET superseded = 1 WHERE id = ?`, id)
	if err != nil {
		return memerr.Wrap(memerr.Corruption, err, "superseding cluster %s", id)
	}
	return nil
}

// ActiveClusters returns every non-superseded cluster with its
// members, for the monthly pass's overlap check against the prior run.
func (s *Store) ActiveClusters(ctx context.Context) ([]*memory.Cluster, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, centroid, created_at_us, last_rebuilt_at_us FROM clusters WHERE superseded = 0`)
	if err != nil {
		return nil, memerr.Wrap(memerr.Corruption, err, "listing active clusters")
	}
	defer rows.Close()

	var out []*memory.Cluster
	for rows.Next() {
		var c memory.Cluster
		var centroid []byte
		var createdUS, rebuiltUS int64
		if err := rows.Scan(&c.ID, &centroid, &createdUS, &rebuiltUS); err != nil {
			return nil, memerr.Wrap(memerr.Corruption, err, "scanning cluster")
		}
		vec, err := decodeVector(centroid)
		if err != nil {
			return nil, err
		}
		c.Centroid = vec
		c.CreatedAt = time.UnixMicro(createdUS).UTC()
		c.LastRebuiltAt = time.UnixMicro(rebuiltUS).UTC()
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, c := range out {
		members, err := s.clusterMembers(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		c.Members = members
	}
	return out, nil
}

func (s *Store) clusterMembers(ctx context.Context, clusterID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT content_hash FROM cluster_members WHERE cluster_id = ?`, clusterID)
	if err != nil {
		return nil, memerr.Wrap(memerr.Corruption, err, "listing cluster members")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, memerr.Wrap(memerr.Corruption, err, "scanning cluster member")
		}
		out = append(out, hash)
	}
	return out, rows.Err()
}

// HasLiveSummaryConsolidatedFrom reports whether any live, non-archived
// memory's consolidated_from metadata references hash — used by the
// forgetting pass's "not a consolidated_from parent whose summary is
// live" eligibility check (spec §4.C8).
func (s *Store) HasLiveSummaryConsolidatedFrom(ctx context.Context, hash string) (bool, error) {
	found := false
	err := s.Iter(ctx, Filter{Types: []memory.MemoryType{memory.TypeCompressed}}, func(m *memory.Memory) bool {
		raw, ok := m.Metadata[memory.MetaConsolidatedFrom]
		if !ok {
			return true
		}
		members, ok := raw.([]any)
		if !ok {
			return true
		}
		for _, item := range members {
			if s, ok := item.(string); ok && s == hash {
				found = true
				return false
			}
		}
		return true
	})
	return found, err
}

// Archive archives the live memory with hash if eligible; unlike
// Delete (whose intent is a caller-requested removal), Archive is
// consolidation's own entry point for the forgetting pass, kept
// separate so call sites read clearly.
func (s *Store) Archive(ctx context.Context, hash string) error {
	return s.Delete(ctx, hash)
}

// Unarchive restores a previously archived memory to live status,
// rejecting the restore if a live memory already holds the same hash
// (invariant 1 forbids two live rows sharing a hash).
func (s *Store) Unarchive(ctx context.Context, hash string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var rowID int64
	err := withBusyRetry(ctx, func() error {
		var liveCount int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE content_hash = ? AND archived = 0`, hash).Scan(&liveCount); err != nil {
			return memerr.Wrap(memerr.Corruption, err, "checking live collision before unarchive")
		}
		if liveCount > 0 {
			return memerr.New(memerr.Invalid, "a live memory with hash %s already exists", hash)
		}

		res, err := s.db.ExecContext(ctx, `UPDATE memories SET archived = 0, updated_at_us = ? WHERE content_hash = ? AND archived = 1`,
			time.Now().UTC().UnixMicro(), hash)
		if err != nil {
			return memerr.Wrap(memerr.Corruption, err, "unarchiving memory")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return memerr.Wrap(memerr.Corruption, err, "reading affected rows")
		}
		if n == 0 {
			return memerr.New(memerr.NotFound, "no archived memory with hash %s", hash)
		}
		return s.db.QueryRowContext(ctx, `SELECT row_id FROM memories WHERE content_hash = ?`, hash).Scan(&rowID)
	})
	if err != nil {
		return err
	}

	vec, err := s.loadEmbedding(ctx, rowID)
	if err == nil && vec != nil {
		s.ann.upsert(rowID, vec, time.Now().UTC().UnixMicro())
	}
	if s.bus != nil {
		s.bus.Publish(changebus.Event{Type: changebus.Updated, MemoryHash: hash})
	}
	return nil
}

// GetByHashIncludingArchived loads a memory regardless of archived
// status, for get_by_hash(h, include_archived=true).
func (s *Store) GetByHashIncludingArchived(ctx context.Context, hash string) (*memory.Memory, error) {
	return s.loadByHash(ctx, hash, true)
}
