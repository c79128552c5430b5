package consolidation

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// ClusterStats summarizes a monthly clustering pass.
type ClusterStats struct {
	Points    int
	Clusters  int
	Noise     int
	Epsilon   float64
	Superseded int
}

// RunClustering implements spec §4.C8's monthly pass: density-based
// clustering (DBSCAN-style) over every live embedding, re-tuning the
// neighborhood radius each run so the median neighborhood size tracks
// ClusterTargetNeighborhood, and preserving cluster ids across runs
// when at least 60% of members overlap a prior cluster.
func (e *Engine) RunClustering(ctx context.Context) (ClusterStats, error) {
	var stats ClusterStats

	points, err := e.store.LiveMemoriesModifiedSince(ctx, time.Time{}, 0)
	if err != nil {
		return stats, err
	}
	points = filterHasEmbedding(points)
	stats.Points = len(points)
	if len(points) < e.cfg.ClusterMinSize {
		return stats, nil
	}

	dist := distanceMatrix(points)
	eps := tuneEpsilon(dist, e.cfg.ClusterTargetNeighborhood)
	stats.Epsilon = eps

	labels := dbscan(dist, eps, e.cfg.ClusterMinSize)

	groups := make(map[int][]int) // label -> point indices
	for i, label := range labels {
		if label < 0 {
			stats.Noise++
			continue
		}
		groups[label] = append(groups[label], i)
	}

	prior, err := e.store.ActiveClusters(ctx)
	if err != nil {
		return stats, err
	}
	matchedPrior := make(map[string]bool)

	for _, members := range groups {
		hashes := make([]string, len(members))
		for i, idx := range members {
			hashes[i] = points[idx].ContentHash
		}

		id := bestOverlap(hashes, prior)
		if id != "" {
			matchedPrior[id] = true
		} else {
			id = uuid.NewString()
		}

		centroid := centroidOf(points, members)
		c := &memory.Cluster{
			ID:            id,
			Members:       hashes,
			Centroid:      l2Normalize(centroid),
			CreatedAt:     e.now(),
			LastRebuiltAt: e.now(),
		}
		if err := e.store.ReplaceCluster(ctx, c); err != nil {
			return stats, err
		}
		stats.Clusters++
	}

	for _, p := range prior {
		if !matchedPrior[p.ID] {
			if err := e.store.SupersedeCluster(ctx, p.ID); err != nil {
				return stats, err
			}
			stats.Superseded++
		}
	}

	return stats, nil
}

func filterHasEmbedding(points []*memory.Memory) []*memory.Memory {
	out := points[:0]
	for _, p := range points {
		if len(p.Embedding) > 0 {
			out = append(out, p)
		}
	}
	return out
}

// distanceMatrix computes pairwise cosine distance (1-cosine) between
// every pair of points.
func distanceMatrix(points []*memory.Memory) [][]float64 {
	n := len(points)
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := 1 - cosineSim(points[i].Embedding, points[j].Embedding)
			dist[i][j] = d
			dist[j][i] = d
		}
	}
	return dist
}

// tuneEpsilon picks the radius via the k-distance heuristic: each
// point's distance to its k-th nearest neighbor, median across all
// points, where k is the target neighborhood size.
func tuneEpsilon(dist [][]float64, k int) float64 {
	if len(dist) == 0 {
		return 0
	}
	kDistances := make([]float64, len(dist))
	for i, row := range dist {
		sorted := append([]float64(nil), row...)
		sort.Float64s(sorted)
		idx := k
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		kDistances[i] = sorted[idx]
	}
	sort.Float64s(kDistances)
	return kDistances[len(kDistances)/2]
}

// dbscan labels each point with a cluster index (0-based) or -1 for
// noise, using eps as the neighborhood radius and minPts as the
// minimum cluster size (including the core point itself).
func dbscan(dist [][]float64, eps float64, minPts int) []int {
	n := len(dist)
	const unvisited = -2
	const noise = -1
	labels := make([]int, n)
	for i := range labels {
		labels[i] = unvisited
	}

	neighbors := func(i int) []int {
		var out []int
		for j := 0; j < n; j++ {
			if j != i && dist[i][j] <= eps {
				out = append(out, j)
			}
		}
		return out
	}

	nextCluster := 0
	for i := 0; i < n; i++ {
		if labels[i] != unvisited {
			continue
		}
		nb := neighbors(i)
		if len(nb)+1 < minPts {
			labels[i] = noise
			continue
		}

		labels[i] = nextCluster
		queue := append([]int(nil), nb...)
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]
			if labels[j] == noise {
				labels[j] = nextCluster
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = nextCluster
			jnb := neighbors(j)
			if len(jnb)+1 >= minPts {
				queue = append(queue, jnb...)
			}
		}
		nextCluster++
	}
	return labels
}

// bestOverlap returns the prior cluster id sharing at least 60% of
// members with hashes, if any, else "".
func bestOverlap(hashes []string, prior []*memory.Cluster) string {
	set := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		set[h] = true
	}
	for _, p := range prior {
		if len(p.Members) == 0 {
			continue
		}
		overlap := 0
		for _, m := range p.Members {
			if set[m] {
				overlap++
			}
		}
		frac := float64(overlap) / float64(len(p.Members))
		if frac >= 0.6 {
			return p.ID
		}
	}
	return ""
}

func centroidOf(points []*memory.Memory, members []int) []float32 {
	if len(members) == 0 {
		return nil
	}
	dim := len(points[members[0]].Embedding)
	sum := make([]float64, dim)
	for _, idx := range members {
		for i, v := range points[idx].Embedding {
			sum[i] += float64(v)
		}
	}
	out := make([]float32, dim)
	for i := range out {
		out[i] = float32(sum[i] / float64(len(members)))
	}
	return out
}

func l2Normalize(v []float32) []float32 {
	var sumSq float64
	for _, f := range v {
		sumSq += float64(f) * float64(f)
	}
	if sumSq == 0 {
		return v
	}
	norm := math.Sqrt(sumSq)
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / norm)
	}
	return out
}

func cosineSim(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		av, bv := float64(a[i]), float64(b[i])
		dot += av * bv
		magA += av * av
		magB += bv * bv
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
