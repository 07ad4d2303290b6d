package quadrant

import (
	"sort"

	"github.com/specmem/specmem/internal/store"
)

// cluster is one k-means partition of a leaf split.
type cluster struct {
	centroid []float32
	members  []*store.Memory
}

// kmeans partitions members into up to k clusters by cosine distance over
// their embeddings, for up to maxIter Lloyd's-algorithm iterations.
// Members with no embedding are assigned to the first cluster; there is no
// natural library home in the pack for this, so it's hand-rolled (see
// DESIGN.md).
func kmeans(members []*store.Memory, k, maxIter int) []cluster {
	var embedded []*store.Memory
	var bare []*store.Memory
	for _, m := range members {
		if len(m.Embedding) > 0 {
			embedded = append(embedded, m)
		} else {
			bare = append(bare, m)
		}
	}

	if len(embedded) == 0 {
		return []cluster{{members: members}}
	}
	if k > len(embedded) {
		k = len(embedded)
	}
	if k < 1 {
		k = 1
	}

	centroids := make([][]float32, k)
	stride := len(embedded) / k
	if stride < 1 {
		stride = 1
	}
	for i := 0; i < k; i++ {
		idx := i * stride
		if idx >= len(embedded) {
			idx = len(embedded) - 1
		}
		centroids[i] = append([]float32(nil), embedded[idx].Embedding...)
	}

	assignment := make([]int, len(embedded))
	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, m := range embedded {
			best := 0
			bestDist := cosineDistance(centroids[0], m.Embedding)
			for c := 1; c < k; c++ {
				d := cosineDistance(centroids[c], m.Embedding)
				if d < bestDist {
					bestDist = d
					best = c
				}
			}
			if assignment[i] != best {
				assignment[i] = best
				changed = true
			}
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		dim := len(embedded[0].Embedding)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, m := range embedded {
			c := assignment[i]
			counts[c]++
			for d, v := range m.Embedding {
				sums[c][d] += float64(v)
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				continue // keep prior centroid, avoid collapsing an empty cluster to zero
			}
			next := make([]float32, dim)
			for d := range next {
				next[d] = float32(sums[c][d] / float64(counts[c]))
			}
			centroids[c] = next
		}

		if !changed && iter > 0 {
			break
		}
	}

	clusters := make([]cluster, k)
	for c := 0; c < k; c++ {
		clusters[c].centroid = centroids[c]
	}
	for i, m := range embedded {
		c := assignment[i]
		clusters[c].members = append(clusters[c].members, m)
	}
	if len(bare) > 0 {
		clusters[0].members = append(clusters[0].members, bare...)
	}
	return clusters
}

// topKeywords extracts the n most frequent non-stopword tokens across a
// cluster's member content.
func topKeywords(members []*store.Memory, n int) []string {
	stop := store.BuildStopWordMap(store.DefaultCodeStopWords)
	counts := make(map[string]int)
	for _, m := range members {
		for _, tok := range store.FilterStopWords(store.TokenizeCode(m.Content), stop) {
			counts[tok]++
		}
	}

	type kv struct {
		token string
		count int
	}
	kvs := make([]kv, 0, len(counts))
	for tok, c := range counts {
		kvs = append(kvs, kv{tok, c})
	}
	sort.Slice(kvs, func(i, j int) bool {
		if kvs[i].count != kvs[j].count {
			return kvs[i].count > kvs[j].count
		}
		return kvs[i].token < kvs[j].token
	})

	if n > len(kvs) {
		n = len(kvs)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = kvs[i].token
	}
	return out
}
