package dimension

import (
	"hash/fnv"
	"math"
	"math/rand/v2"
	"strconv"
	"sync"
)

// projectionSeedPrefix is mixed into the seed so specmem's matrices never
// collide with another deterministic-PRNG consumer seeded the same way.
const projectionSeedPrefix = "specmem-projection"

// matrix is an m×n random-projection matrix with Gaussian entries scaled
// by sqrt(1/n), stored row-major (row i = the n projected coordinates
// contributed by input coordinate i).
type matrix struct {
	m, n int
	rows [][]float32
}

// apply projects an m-length vector through the matrix into an n-length one.
func (mx *matrix) apply(vec []float32) []float32 {
	out := make([]float32, mx.n)
	for i, vi := range vec {
		if i >= mx.m {
			break
		}
		row := mx.rows[i]
		for j, w := range row {
			out[j] += vi * w
		}
	}
	return out
}

// dimPair is the cache key for a projection matrix.
type dimPair struct{ m, n int }

// matrixCache caches deterministic projection matrices per (m, n) pair —
// they're pure functions of the dimensions, so computing one once and
// reusing it is correct and avoids rebuilding an m×n matrix per call.
type matrixCache struct {
	mu    sync.Mutex
	cache map[dimPair]*matrix
}

func newMatrixCache() *matrixCache {
	return &matrixCache{cache: make(map[dimPair]*matrix)}
}

func (c *matrixCache) expand(m, n int) *matrix {
	key := dimPair{m, n}

	c.mu.Lock()
	defer c.mu.Unlock()

	if mx, ok := c.cache[key]; ok {
		return mx
	}
	mx := buildProjectionMatrix(m, n)
	c.cache[key] = mx
	return mx
}

// buildProjectionMatrix constructs a deterministic m×n Gaussian random
// projection matrix. The seed is derived by feeding
// fnv1a(prefix + "m" + "->" + "n") into math/rand/v2's NewPCG, so the same
// (m, n) pair always yields the identical matrix across processes — this
// is required for projected embeddings to remain comparable over time.
func buildProjectionMatrix(m, n int) *matrix {
	seed := fnv1aSeed(projectionSeedPrefix + strconv.Itoa(m) + "->" + strconv.Itoa(n))
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	scale := math.Sqrt(1.0 / float64(n))
	rows := make([][]float32, m)
	for i := 0; i < m; i++ {
		row := make([]float32, n)
		for j := 0; j < n; j++ {
			row[j] = float32(rng.NormFloat64() * scale)
		}
		rows[i] = row
	}
	return &matrix{m: m, n: n, rows: rows}
}

// fnv1aSeed hashes s with 64-bit FNV-1a, the deterministic non-cryptographic
// seed source for buildProjectionMatrix.
func fnv1aSeed(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// contractBuckets shrinks vec (length m) down to n coordinates by
// averaging contiguous buckets whose bounds are floor(j*m/n) and
// floor((j+1)*m/n), so bucket widths differ by at most one and together
// cover all m coordinates.
func contractBuckets(vec []float32, n int) []float32 {
	m := len(vec)
	out := make([]float32, n)
	if n == 0 {
		return out
	}
	for j := 0; j < n; j++ {
		start := j * m / n
		end := (j + 1) * m / n
		if end <= start {
			end = start + 1
		}
		if end > m {
			end = m
		}
		var sum float32
		count := 0
		for i := start; i < end; i++ {
			sum += vec[i]
			count++
		}
		if count > 0 {
			out[j] = sum / float32(count)
		}
	}
	return out
}

// l2Normalize scales vec to unit length; a zero vector is returned as-is.
func l2Normalize(vec []float32) []float32 {
	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	mag := math.Sqrt(sumSquares)
	if mag == 0 {
		return vec
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / mag)
	}
	return out
}
