// Package health implements the startup self-check and re-embed pass
// (spec §4.C9): WAL verification, embedding length/zero-vector checks,
// row_id orphan detection, and a sampled tag index consistency check,
// each either reported or repaired depending on the caller's
// `repair`/`strict` settings.
package health

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/embedclient"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

// reembedBatchSize is the write-transaction batch size for the
// re-embed pass (spec §4.C9: "batched by 64 rows").
const reembedBatchSize = 64

// tagSampleSize bounds the startup tag index consistency check.
const tagSampleSize = 200

// Report is the structured result of a Check run, per spec §4.C9's
// wire contract.
type Report struct {
	OK           bool     `json:"ok"`
	Issues       []string `json:"issues"`
	ActionsTaken []string `json:"actions_taken"`
}

// Checker runs the startup self-check against a store.
type Checker struct {
	store    *store.Store
	embedder embedclient.Embedder
	logger   *zap.Logger
}

// New builds a Checker. logger may be nil.
func New(s *store.Store, embedder embedclient.Embedder, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{store: s, embedder: embedder, logger: logger}
}

// Check runs the four startup checks. When repair is true, fixable
// issues (orphan embeddings, inconsistent tag index) are repaired in
// place and rows needing a vector are re-embedded; when false, issues
// are only reported.
func (c *Checker) Check(ctx context.Context, repair bool) (Report, error) {
	report := Report{OK: true}

	walOK, err := c.store.WALEnabled(ctx)
	if err != nil {
		return report, err
	}
	if !walOK {
		report.OK = false
		report.Issues = append(report.Issues, "database is not running in WAL journal mode")
	}

	embeddingIssues, err := c.store.ScanEmbeddingIssues(ctx)
	if err != nil {
		return report, err
	}
	var reembedRowIDs []int64
	for _, issue := range embeddingIssues {
		report.OK = false
		report.Issues = append(report.Issues, "row "+issue.Hash+": "+issue.Reason)
		reembedRowIDs = append(reembedRowIDs, issue.RowID)
	}

	orphanEmbeddings, err := c.store.OrphanEmbeddings(ctx)
	if err != nil {
		return report, err
	}
	if len(orphanEmbeddings) > 0 {
		report.OK = false
		report.Issues = append(report.Issues, "embeddings without an owning memory row")
		if repair {
			if err := c.store.DeleteOrphanEmbeddings(ctx, orphanEmbeddings); err != nil {
				return report, err
			}
			report.ActionsTaken = append(report.ActionsTaken, "deleted orphan embedding rows")
		}
	}

	orphanMemories, err := c.store.OrphanMemories(ctx)
	if err != nil {
		return report, err
	}
	if len(orphanMemories) > 0 {
		report.OK = false
		report.Issues = append(report.Issues, "live memories missing an embedding row")
		reembedRowIDs = append(reembedRowIDs, orphanMemories...)
	}

	if repair && len(reembedRowIDs) > 0 && c.embedder != nil {
		n, err := c.reembed(ctx, dedupeInt64(reembedRowIDs))
		if err != nil {
			return report, err
		}
		report.ActionsTaken = append(report.ActionsTaken, "re-embedded flagged rows")
		c.logger.Info("health check re-embedded rows", zap.Int("count", n))
	}

	tagsOK, err := c.store.TagIndexSampleConsistent(ctx, tagSampleSize)
	if err != nil {
		return report, err
	}
	if !tagsOK {
		report.OK = false
		report.Issues = append(report.Issues, "tag index consistency sample failed")
		if repair {
			if err := c.store.RebuildTagIndex(ctx); err != nil {
				return report, err
			}
			report.ActionsTaken = append(report.ActionsTaken, "rebuilt tag index")
		}
	}

	if !report.OK {
		c.logger.Warn("health check found issues", zap.Strings("issues", report.Issues))
	}
	return report, nil
}

// reembed re-runs the embedding client over rowIDs and writes the
// results in batches of reembedBatchSize, returning the count written.
func (c *Checker) reembed(ctx context.Context, rowIDs []int64) (int, error) {
	content, err := c.store.ContentForRows(ctx, rowIDs)
	if err != nil {
		return 0, err
	}

	written := 0
	batch := make(map[int64][]float32, reembedBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := c.store.WriteEmbeddings(ctx, batch); err != nil {
			return err
		}
		written += len(batch)
		for k := range batch {
			delete(batch, k)
		}
		return nil
	}

	for _, rowID := range rowIDs {
		text, ok := content[rowID]
		if !ok {
			continue
		}
		vec, err := c.embedder.Embed(ctx, text)
		if err != nil {
			return written, err
		}
		batch[rowID] = vec
		if len(batch) >= reembedBatchSize {
			if err := flush(); err != nil {
				return written, err
			}
		}
	}
	if err := flush(); err != nil {
		return written, err
	}
	return written, nil
}

func dedupeInt64(in []int64) []int64 {
	seen := make(map[int64]bool, len(in))
	out := make([]int64, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
