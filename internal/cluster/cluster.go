// Package cluster groups articles that describe the same event.
//
// Articles are compared by cosine similarity of their embeddings. Pairs at
// or above the threshold become edges; edges are processed strongest-first
// through a disjoint-set structure, so the result is a greedy-agglomerative
// partition, not a global optimum. Components without enough distinct
// sources are discarded entirely.
package cluster

import (
	"math"
	"sort"

	"github.com/newslens/newslens/internal/embed"
	"github.com/newslens/newslens/internal/store"
)

// DefaultSimilarityThreshold is the minimum cosine similarity for two
// articles to be considered the same event.
const DefaultSimilarityThreshold = 0.60

// DefaultMinSources is the minimum distinct source names a cluster needs
// to survive. A story covered by one outlet is not a story here.
const DefaultMinSources = 2

// Config controls the clustering pass.
//
// A zero SimilarityThreshold means DefaultSimilarityThreshold, not "merge
// at similarity 0": cosine similarity lives in [-1, 1], so to merge
// everything regardless of similarity set the threshold to -1.
type Config struct {
	SimilarityThreshold float64
	MinSources          int
}

// DefaultConfig returns the standard clustering configuration.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: DefaultSimilarityThreshold,
		MinSources:          DefaultMinSources,
	}
}

// edge is a candidate pair at or above the similarity threshold.
type edge struct {
	i, j int
	sim  float64
}

// ClusterArticles partitions articles into clusters, largest first.
// Articles without a decodable embedding are skipped. The result is
// deterministic for identical input vectors in identical order.
func ClusterArticles(articles []*store.Article, cfg Config) [][]*store.Article {
	if cfg.SimilarityThreshold == 0 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if cfg.MinSources == 0 {
		cfg.MinSources = DefaultMinSources
	}

	var valid []*store.Article
	var vectors [][]float32
	for _, a := range articles {
		if len(a.Embedding) == 0 {
			continue
		}
		vec := normalize(embed.BytesToVector(a.Embedding))
		if vec == nil {
			continue
		}
		valid = append(valid, a)
		vectors = append(vectors, vec)
	}

	n := len(valid)
	if n < 2 {
		return nil
	}

	// All unordered pairs at or above the threshold. Self-similarity is
	// 1.0 by definition and never examined.
	var edges []edge
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sim := dot(vectors[i], vectors[j])
			if sim >= cfg.SimilarityThreshold {
				edges = append(edges, edge{i: i, j: j, sim: sim})
			}
		}
	}

	// Strongest relationships merge first; index order breaks exact ties
	// so the pass stays deterministic.
	sort.Slice(edges, func(a, b int) bool {
		if edges[a].sim != edges[b].sim {
			return edges[a].sim > edges[b].sim
		}
		if edges[a].i != edges[b].i {
			return edges[a].i < edges[b].i
		}
		return edges[a].j < edges[b].j
	})

	uf := newUnionFind(n)
	linked := make([]bool, n)
	for _, e := range edges {
		uf.union(e.i, e.j)
		linked[e.i] = true
		linked[e.j] = true
	}

	// Collect connected components, preserving input order within each.
	components := make(map[int][]int)
	var roots []int
	for i := 0; i < n; i++ {
		if !linked[i] {
			continue
		}
		root := uf.find(i)
		if _, seen := components[root]; !seen {
			roots = append(roots, root)
		}
		components[root] = append(components[root], i)
	}

	var clusters [][]*store.Article
	for _, root := range roots {
		members := components[root]
		sources := make(map[string]struct{})
		for _, idx := range members {
			sources[valid[idx].SourceName] = struct{}{}
		}
		if len(sources) < cfg.MinSources {
			continue
		}
		c := make([]*store.Article, len(members))
		for k, idx := range members {
			c[k] = valid[idx]
		}
		clusters = append(clusters, c)
	}

	sort.SliceStable(clusters, func(a, b int) bool {
		return len(clusters[a]) > len(clusters[b])
	})
	return clusters
}

// CosineSimilarity computes the cosine similarity of two raw vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// normalize returns a unit-length copy of vec, or nil for zero vectors.
func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return nil
	}
	norm = math.Sqrt(norm)

	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

// dot computes the dot product of two unit vectors as float64.
func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
