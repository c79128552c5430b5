package consolidation

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

const compressedContentMaxLen = 500

// CompressStats summarizes a monthly compression pass.
type CompressStats struct {
	Clusters   int
	Summarized int
}

// RunCompression implements spec §4.C8's compression step: every
// active cluster with at least ClusterMinSize members and no existing
// summary gets a deterministic CompressedSummary memory. Must run
// after RunClustering in the monthly pass.
func (e *Engine) RunCompression(ctx context.Context) (CompressStats, error) {
	var stats CompressStats

	clusters, err := e.store.ActiveClusters(ctx)
	if err != nil {
		return stats, err
	}

	for _, c := range clusters {
		if len(c.Members) < e.cfg.ClusterMinSize {
			continue
		}
		stats.Clusters++

		members := make([]*memory.Memory, 0, len(c.Members))
		for _, hash := range c.Members {
			m, err := e.store.ExactMatch(ctx, hash)
			if err != nil {
				continue // archived or missing since clustering ran; skip
			}
			members = append(members, m)
		}
		if len(members) < e.cfg.ClusterMinSize {
			continue
		}

		content := compressedContent(members)
		tags := compressedTags(members)

		hashes := make([]any, len(members))
		for i, m := range members {
			hashes[i] = m.ContentHash
		}

		_, _, err := e.store.Store(ctx, store.Input{
			Content:    content,
			Tags:       tags,
			MemoryType: memory.TypeCompressed,
			Metadata: map[string]any{
				memory.MetaConsolidatedFrom: hashes,
				memory.MetaClusterID:        c.ID,
			},
			Embedding: c.Centroid,
		})
		if err != nil {
			return stats, err
		}
		stats.Summarized++
	}

	return stats, nil
}

// compressedContent builds the deterministic summary text: the top 3
// members by relevance_score, joined by " | ", prefixed with a count
// header, truncated to compressedContentMaxLen with an ellipsis.
func compressedContent(members []*memory.Memory) string {
	sorted := append([]*memory.Memory(nil), members...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RelevanceScore > sorted[j].RelevanceScore
	})
	top := sorted
	if len(top) > 3 {
		top = top[:3]
	}

	parts := make([]string, len(top))
	for i, m := range top {
		parts[i] = m.Content
	}
	body := strings.Join(parts, " | ")

	header := "[cluster " + strconv.Itoa(len(members)) + " memories] "
	full := header + body
	if len(full) <= compressedContentMaxLen {
		return full
	}
	cut := compressedContentMaxLen - 1
	if cut < 0 {
		cut = 0
	}
	return full[:cut] + "…"
}

// compressedTags unions every member's tags, intersected with tags
// that name a memory_type, plus the fixed "consolidated" tag.
func compressedTags(members []*memory.Memory) []string {
	seen := map[string]bool{}
	var out []string
	typeNames := map[string]bool{
		string(memory.TypeNote): true, string(memory.TypeDecision): true, string(memory.TypeTask): true,
		string(memory.TypeReference): true, string(memory.TypeSession): true,
	}
	for _, m := range members {
		for _, t := range m.Tags {
			if typeNames[t] && !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	out = append(out, "consolidated")
	return out
}
