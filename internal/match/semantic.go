package match

import (
	"context"
	"math"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Embedder maps a string to a fixed-dimensional vector. The backing model
// is expensive to initialize and cheap to invoke, so implementations are
// constructed once at process start and shared.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Semantic scores a keyword against an identifier in embedding space.
// The second return reports whether a score was produced at all; callers
// treat false as "contributes nothing" and fall back to lexical scoring.
type Semantic interface {
	Score(ctx context.Context, a, b string) (float64, bool)
	Available() bool
}

// Disabled is the stand-in selected at startup when no embedding backend
// is configured or the configured one failed its probe. It never scores.
type Disabled struct{}

func (Disabled) Score(context.Context, string, string) (float64, bool) { return 0, false }

func (Disabled) Available() bool { return false }

// EmbeddingMatcher computes cosine similarity of embeddings scaled to
// [0,100]. Identifier vectors are cached so the same column name is not
// embedded once per keyword.
type EmbeddingMatcher struct {
	embedder Embedder
	cache    *ttlcache.Cache[string, []float64]
}

func NewEmbeddingMatcher(embedder Embedder, cacheTTL time.Duration) *EmbeddingMatcher {
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	cache := ttlcache.New[string, []float64](
		ttlcache.WithTTL[string, []float64](cacheTTL),
	)
	go cache.Start()
	return &EmbeddingMatcher{embedder: embedder, cache: cache}
}

func (m *EmbeddingMatcher) Available() bool { return true }

func (m *EmbeddingMatcher) Score(ctx context.Context, a, b string) (float64, bool) {
	va, err := m.vector(ctx, a)
	if err != nil {
		return 0, false
	}
	vb, err := m.vector(ctx, b)
	if err != nil {
		return 0, false
	}
	similarity := CosineSimilarity(va, vb) * 100
	if similarity < 0 {
		similarity = 0
	}
	if similarity > 100 {
		similarity = 100
	}
	return similarity, true
}

func (m *EmbeddingMatcher) Close() {
	m.cache.Stop()
}

func (m *EmbeddingMatcher) vector(ctx context.Context, text string) ([]float64, error) {
	if item := m.cache.Get(text); item != nil {
		return item.Value(), nil
	}
	vector, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	m.cache.Set(text, vector, ttlcache.DefaultTTL)
	return vector, nil
}

// CosineSimilarity returns the cosine of the angle between two vectors,
// or 0 when either vector is empty, zero, or the dimensions differ.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
