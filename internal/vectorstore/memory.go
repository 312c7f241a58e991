package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store implementation used by tests and by
// any deployment that wants to exercise the pipeline/retriever without a
// Postgres instance. It implements the exact contract of spec §4.1, so it
// is interchangeable with PgVectorStore from the caller's perspective —
// the "pluggable vector-store interface" the spec calls for. A single
// mutex guards chunks so concurrent callers (a SimilaritySearch racing a
// ReplaceChunks, say) never observe a torn write.
type MemoryStore struct {
	mu     sync.RWMutex
	chunks map[uuid.UUID]ChunkPayload
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chunks: make(map[uuid.UUID]ChunkPayload)}
}

func (s *MemoryStore) UpsertChunks(ctx context.Context, batch []ChunkPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range batch {
		s.chunks[c.ChunkID] = c
	}
	return nil
}

func (s *MemoryStore) DeleteChunks(ctx context.Context, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		delete(s.chunks, id)
	}
	return nil
}

// ReplaceChunks implements Store. Both the deletion of documentID's
// existing chunks and the insertion of batch happen while mu is held, so
// no concurrent SimilaritySearch can observe the document with zero
// chunks in between.
func (s *MemoryStore) ReplaceChunks(ctx context.Context, documentID uuid.UUID, batch []ChunkPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, c := range s.chunks {
		if c.DocumentID == documentID {
			delete(s.chunks, id)
		}
	}
	for _, c := range batch {
		s.chunks[c.ChunkID] = c
	}
	return nil
}

func (s *MemoryStore) SimilaritySearch(ctx context.Context, baseIDs []uuid.UUID, queryVector []float32, topK int, scoreThreshold *float32) ([]SearchResult, error) {
	if len(baseIDs) == 0 || topK <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	allowed := make(map[uuid.UUID]bool, len(baseIDs))
	for _, id := range baseIDs {
		allowed[id] = true
	}

	type scored struct {
		result   SearchResult
		distance float32
	}

	var candidates []scored
	for _, c := range s.chunks {
		if !allowed[c.KnowledgeBaseID] {
			continue
		}
		distance := cosineDistance(queryVector, c.Embedding)
		if scoreThreshold != nil && distance > *scoreThreshold {
			continue
		}
		candidates = append(candidates, scored{
			result: SearchResult{
				ChunkID:         c.ChunkID,
				KnowledgeBaseID: c.KnowledgeBaseID,
				DocumentID:      c.DocumentID,
				Content:         c.Content,
				Metadata:        c.Metadata.Clone(),
				ChunkIndex:      c.ChunkIndex,
				TokenCount:      c.TokenCount,
				Score:           1 - distance,
			},
			distance: distance,
		})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].distance < candidates[j].distance })

	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	results := make([]SearchResult, len(candidates))
	for i, c := range candidates {
		results[i] = c.result
	}
	return results, nil
}

// cosineDistance returns 1 - cos(θ) between a and b, in [0, 2].
func cosineDistance(a, b []float32) float32 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 2
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 2
	}

	cosine := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return float32(1 - cosine)
}

var _ Store = (*MemoryStore)(nil)
