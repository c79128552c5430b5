package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/fyrsmithlabs/memoryd/internal/memerr"
)

// TagMode selects OR (ANY) or AND (ALL) semantics for a tag query.
type TagMode string

const (
	TagAny TagMode = "ANY"
	TagAll TagMode = "ALL"
)

// rowIDsForTags returns row ids matching tags under mode, run against
// tx so it composes with an outer transaction. ANY mode is a plain IN
// match; ALL mode additionally requires the match count to equal the
// number of distinct tags requested, grounded on the covering-index
// idiom in the teacher's filter.go composition style.
func rowIDsForTags(ctx context.Context, q querier, tags []string, mode TagMode) (map[int64]bool, error) {
	if len(tags) == 0 {
		return map[int64]bool{}, nil
	}

	placeholders := strings.Repeat("?,", len(tags))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(tags))
	for i, t := range tags {
		args[i] = t
	}

	query := `SELECT row_id, COUNT(DISTINCT tag) FROM tags WHERE tag IN (` + placeholders + `) GROUP BY row_id`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, memerr.Wrap(memerr.Corruption, err, "querying tag index")
	}
	defer rows.Close()

	out := make(map[int64]bool)
	for rows.Next() {
		var rowID int64
		var count int
		if err := rows.Scan(&rowID, &count); err != nil {
			return nil, memerr.Wrap(memerr.Corruption, err, "scanning tag match")
		}
		if mode == TagAll && count < len(tags) {
			continue
		}
		out[rowID] = true
	}
	return out, rows.Err()
}

// querier is satisfied by both *sql.DB and *sql.Tx, letting tag/filter
// helpers run inside or outside an explicit transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// replaceTags rewrites the tags table entries for rowID to exactly
// the given set, inside tx.
func replaceTags(ctx context.Context, tx *sql.Tx, rowID int64, tags []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE row_id = ?`, rowID); err != nil {
		return memerr.Wrap(memerr.Corruption, err, "clearing tag index for row %d", rowID)
	}
	for _, t := range tags {
		if _, err := tx.ExecContext(ctx, `INSERT INTO tags(tag, row_id) VALUES (?, ?)`, t, rowID); err != nil {
			return memerr.Wrap(memerr.Corruption, err, "inserting tag %q for row %d", t, rowID)
		}
	}
	return nil
}

// RebuildTagIndex reconstructs the tags table from memories.tags_json,
// used by health & repair (§4.C9) when a sampled consistency check
// fails.
func (s *Store) RebuildTagIndex(ctx context.Context) error {
	return withBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return memerr.Wrap(memerr.Retryable, err, "beginning tag rebuild transaction")
		}
		defer tx.Rollback()

		rows, err := tx.QueryContext(ctx, `SELECT row_id, tags_json FROM memories WHERE archived = 0`)
		if err != nil {
			return memerr.Wrap(memerr.Corruption, err, "reading memories for tag rebuild")
		}
		type pending struct {
			rowID int64
			tags  []string
		}
		var work []pending
		for rows.Next() {
			var rowID int64
			var tagsJSON string
			if err := rows.Scan(&rowID, &tagsJSON); err != nil {
				rows.Close()
				return memerr.Wrap(memerr.Corruption, err, "scanning memory for tag rebuild")
			}
			tags, err := decodeTags(tagsJSON)
			if err != nil {
				rows.Close()
				return err
			}
			work = append(work, pending{rowID, tags})
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return memerr.Wrap(memerr.Corruption, err, "iterating memories for tag rebuild")
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM tags`); err != nil {
			return memerr.Wrap(memerr.Corruption, err, "truncating tag index")
		}
		for _, p := range work {
			if err := replaceTags(ctx, tx, p.rowID, p.tags); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}
