// Package retrieve implements the retriever (C9, spec §4.9): it turns a
// user query plus an agent's RAG configuration into a formatted context
// block and structured references, attaching the result to the agent's
// runtime config without mutating its shared template config.
package retrieve

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/kodeai/knowledge-core/internal/embeddings"
	"github.com/kodeai/knowledge-core/internal/knowledge"
	"github.com/kodeai/knowledge-core/internal/vectorstore"
)

const (
	defaultTopK           = 5
	defaultScoreThreshold = 0.35
)

// Agent is the duck-typed carrier the source treats as an untyped object
// with `config`/`runtime_config`; spec §9 asks for this to become an
// explicit interface with read/write operations instead.
type Agent interface {
	EffectiveConfig() knowledge.JSONMap
	SetRuntimeConfig(knowledge.JSONMap)
}

// Reference is one structured citation backing a RAG context block.
type Reference struct {
	DocumentID      uuid.UUID
	KnowledgeBaseID uuid.UUID
	Source          string
	ChunkIndex      int
	Score           float32
	Metadata        knowledge.JSONMap
}

// Context is the payload attached to an agent's runtime config under
// __rag_context__, and also the value ApplyContext returns directly.
type Context struct {
	Text       string
	References []Reference
}

// Retriever implements ApplyContext.
type Retriever struct {
	store    vectorstore.Store
	embedder embeddings.Client
}

// New constructs a Retriever.
func New(store vectorstore.Store, embedder embeddings.Client) *Retriever {
	return &Retriever{store: store, embedder: embedder}
}

// ApplyContext runs the full retrieval algorithm of spec §4.9. It returns
// (nil, nil) for every "no RAG" case the spec enumerates: missing/empty
// knowledge_base_ids, blank query, no valid base ids, empty embeddings,
// or no search results — matching the spec's "never throws to the agent
// runtime for empty result" propagation policy. A non-nil error indicates
// a hard failure (VectorStoreError) that the spec says should fail the
// request outright.
func (r *Retriever) ApplyContext(ctx context.Context, agent Agent, query string) (*Context, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	config := agent.EffectiveConfig()
	rawIDs, ok := config["knowledge_base_ids"]
	if !ok {
		return nil, nil
	}

	baseIDs := parseBaseIDs(rawIDs)
	if len(baseIDs) == 0 {
		log.Printf("retrieve: no valid knowledge_base_ids in agent config")
		return nil, nil
	}

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		log.Printf("retrieve: embedding query failed: %v", err)
		return nil, nil
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	queryVector := vectors[0]

	topK := intOrDefault(config["rag_top_k"], defaultTopK)
	threshold := floatOrDefault(config["rag_score_threshold"], defaultScoreThreshold)

	results, err := r.store.SimilaritySearch(ctx, baseIDs, queryVector, topK, &threshold)
	if err != nil {
		return nil, knowledge.NewVectorStoreError("similarity search", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	ragCtx := buildContext(results)

	newConfig := config.Clone()
	newConfig["__rag_context__"] = map[string]any{
		"text":       ragCtx.Text,
		"references": referencesAsMaps(ragCtx.References),
	}
	agent.SetRuntimeConfig(newConfig)

	return ragCtx, nil
}

func buildContext(results []vectorstore.SearchResult) *Context {
	sections := make([]string, 0, len(results))
	references := make([]Reference, 0, len(results))

	for i, res := range results {
		label := sourceLabel(res)
		sections = append(sections, fmt.Sprintf("[%d] %s\nSource: %s", i+1, res.Content, label))
		references = append(references, Reference{
			DocumentID:      res.DocumentID,
			KnowledgeBaseID: res.KnowledgeBaseID,
			Source:          label,
			ChunkIndex:      res.ChunkIndex,
			Score:           res.Score,
			Metadata:        res.Metadata,
		})
	}

	return &Context{
		Text:       strings.Join(sections, "\n\n"),
		References: references,
	}
}

// sourceLabel picks the first non-empty of source_url, original_filename,
// document_id, falling back to the literal "knowledge-base" (spec §4.9
// step 6).
func sourceLabel(res vectorstore.SearchResult) string {
	if v, ok := stringField(res.Metadata, "source_url"); ok {
		return v
	}
	if v, ok := stringField(res.Metadata, "original_filename"); ok {
		return v
	}
	if v, ok := stringField(res.Metadata, "document_id"); ok {
		return v
	}
	if res.DocumentID != uuid.Nil {
		return res.DocumentID.String()
	}
	return "knowledge-base"
}

func stringField(m knowledge.JSONMap, key string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func referencesAsMaps(refs []Reference) []map[string]any {
	out := make([]map[string]any, 0, len(refs))
	for _, r := range refs {
		out = append(out, map[string]any{
			"document_id":       r.DocumentID.String(),
			"knowledge_base_id": r.KnowledgeBaseID.String(),
			"source":            r.Source,
			"chunk_index":       r.ChunkIndex,
			"score":             r.Score,
			"metadata":          map[string]any(r.Metadata),
		})
	}
	return out
}

func parseBaseIDs(raw any) []uuid.UUID {
	var candidates []string

	switch v := raw.(type) {
	case []string:
		candidates = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				candidates = append(candidates, s)
			}
		}
	case string:
		candidates = []string{v}
	}

	ids := make([]uuid.UUID, 0, len(candidates))
	for _, s := range candidates {
		id, err := uuid.Parse(s)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func intOrDefault(raw any, fallback int) int {
	switch v := raw.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func floatOrDefault(raw any, fallback float32) float32 {
	switch v := raw.(type) {
	case float32:
		return v
	case float64:
		return float32(v)
	case int:
		return float32(v)
	case string:
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return fallback
}
