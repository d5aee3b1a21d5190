package semantic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/LifeContext/lifecontext-sub000/config"
	agentcore "github.com/LifeContext/lifecontext-sub000/internal/agent/core"
	"github.com/LifeContext/lifecontext-sub000/internal/helpers"
	"github.com/LifeContext/lifecontext-sub000/internal/store"
	"github.com/LifeContext/lifecontext-sub000/provider/types"
)

// storeAPI is the subset of the Postgres store semantic memory needs.
type storeAPI interface {
	UpsertMemory(ctx context.Context, rec store.MemoryRecord) error
	QueryMemory(ctx context.Context, vector []float32, filter store.MemoryFilter, topK int, threshold float64) ([]store.MemoryHit, error)
	RecentMemory(ctx context.Context, sessionID, kind string, limit int) ([]store.MemoryHit, error)
}

// Memory coordinates embeddings and the pgvector store for one deployment.
type Memory struct {
	store    storeAPI
	embedder types.Embedder
	cfg      config.MemoryConfig
	logger   *zap.Logger
}

// Profile is what the baseline profile capability reports about a session.
type Profile struct {
	SessionID string   `json:"session_id"`
	Facts     []string `json:"facts"`
	Related   []string `json:"related,omitempty"`
}

// New builds semantic memory. It returns an error when either dependency is
// missing so callers can run without memory instead.
func New(st storeAPI, embedder types.Embedder, cfg config.MemoryConfig, logger *zap.Logger) (*Memory, error) {
	if st == nil {
		return nil, errors.New("semantic memory requires a store")
	}
	if embedder == nil {
		return nil, errors.New("semantic memory requires an embedding provider")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{store: st, embedder: embedder, cfg: cfg.Normalize(), logger: logger.Named("memory")}, nil
}

// Recall returns stored context and page chunks similar to query.
func (m *Memory) Recall(ctx context.Context, sessionID, query string) ([]agentcore.ContextItem, error) {
	hits, err := m.search(ctx, sessionID, query, []string{store.MemoryKindContext, store.MemoryKindPage}, m.cfg.RecallTopK)
	if err != nil {
		return nil, err
	}
	items := make([]agentcore.ContextItem, 0, len(hits))
	for _, h := range hits {
		meta := h.Metadata
		if meta == nil {
			meta = map[string]interface{}{}
		}
		meta["memory_kind"] = h.Kind
		meta["stored_at"] = h.CreatedAt.UTC().Format(time.RFC3339)
		items = append(items, agentcore.ContextItem{
			ID:             h.ID,
			Content:        h.Content,
			Source:         agentcore.SourceSessionMemory,
			Metadata:       meta,
			RelevanceScore: 1 - h.Distance,
		})
	}
	return items, nil
}

// Remember stores gathered context items for later recall.
func (m *Memory) Remember(ctx context.Context, sessionID string, items []agentcore.ContextItem) error {
	return m.upsertItems(ctx, sessionID, store.MemoryKindContext, items, nil)
}

// Snapshot stores one round's items tagged with the iteration.
func (m *Memory) Snapshot(ctx context.Context, sessionID string, iteration int, items []agentcore.ContextItem) error {
	return m.upsertItems(ctx, sessionID, store.MemoryKindSnapshot, items, map[string]interface{}{"iteration": iteration})
}

// IngestPage chunks page text and indexes it. Chunk ids derive from the
// canonical URL so re-ingesting a page replaces its chunks.
func (m *Memory) IngestPage(ctx context.Context, sessionID string, page agentcore.PageContext) error {
	chunks := helpers.ChunkText(page.Content, m.cfg.PageChunkSize, m.cfg.MaxPageChunks)
	if len(chunks) == 0 {
		return nil
	}
	key := page.URL
	if canonical, err := helpers.CanonicalURL(page.URL); err == nil {
		key = canonical
	}
	vectors, err := m.embed(ctx, chunks)
	if err != nil {
		return fmt.Errorf("embed page: %w", err)
	}
	pageID := uuid.NewSHA1(uuid.NameSpaceURL, []byte(sessionID+"|"+key))
	for i, chunk := range chunks {
		rec := store.MemoryRecord{
			ID:        fmt.Sprintf("%s:%d", pageID, i),
			SessionID: sessionID,
			Kind:      store.MemoryKindPage,
			Content:   chunk,
			Vector:    vectors[i],
			Metadata: map[string]interface{}{
				"url":   key,
				"title": page.Title,
				"chunk": i,
			},
		}
		if err := m.store.UpsertMemory(ctx, rec); err != nil {
			return fmt.Errorf("store page chunk %d: %w", i, err)
		}
	}
	return nil
}

// RememberFact stores a durable profile fact such as a preference.
func (m *Memory) RememberFact(ctx context.Context, sessionID, fact string) error {
	fact = strings.TrimSpace(fact)
	if fact == "" {
		return errors.New("fact must not be empty")
	}
	item := agentcore.ContextItem{ID: uuid.NewString(), Content: fact, Source: "profile"}
	return m.upsertItems(ctx, sessionID, store.MemoryKindProfile, []agentcore.ContextItem{item}, nil)
}

// Profile gathers the profile facts closest to query plus the newest ones.
func (m *Memory) Profile(ctx context.Context, sessionID, query string) (Profile, error) {
	p := Profile{SessionID: sessionID, Facts: []string{}}
	seen := map[string]bool{}
	if strings.TrimSpace(query) != "" {
		hits, err := m.search(ctx, sessionID, query, []string{store.MemoryKindProfile}, m.cfg.ProfileTopK)
		if err != nil {
			return p, err
		}
		for _, h := range hits {
			if !seen[h.ID] {
				seen[h.ID] = true
				p.Related = append(p.Related, h.Content)
			}
		}
	}
	recent, err := m.store.RecentMemory(ctx, sessionID, store.MemoryKindProfile, m.cfg.ProfileTopK)
	if err != nil {
		return p, err
	}
	for _, h := range recent {
		if !seen[h.ID] {
			seen[h.ID] = true
			p.Facts = append(p.Facts, h.Content)
		}
	}
	return p, nil
}

// Search is a session-scoped similarity lookup over every memory kind.
func (m *Memory) Search(ctx context.Context, sessionID, query string, topK int) ([]store.MemoryHit, error) {
	if topK <= 0 {
		topK = m.cfg.RecallTopK
	}
	return m.search(ctx, sessionID, query, nil, topK)
}

func (m *Memory) search(ctx context.Context, sessionID, query string, kinds []string, topK int) ([]store.MemoryHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	vectors, err := m.embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return m.store.QueryMemory(ctx, vectors[0], store.MemoryFilter{SessionID: sessionID, Kinds: kinds}, topK, m.cfg.RecallThreshold)
}

func (m *Memory) upsertItems(ctx context.Context, sessionID, kind string, items []agentcore.ContextItem, extra map[string]interface{}) error {
	if len(items) == 0 {
		return nil
	}
	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.Content
	}
	vectors, err := m.embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed %s: %w", kind, err)
	}
	for i, it := range items {
		meta := map[string]interface{}{"source": it.Source}
		for k, v := range it.Metadata {
			meta[k] = v
		}
		for k, v := range extra {
			meta[k] = v
		}
		id := it.ID
		if id == "" || kind == store.MemoryKindSnapshot {
			id = uuid.NewString()
		}
		rec := store.MemoryRecord{
			ID:        id,
			SessionID: sessionID,
			Kind:      kind,
			Content:   it.Content,
			Metadata:  meta,
			Vector:    vectors[i],
		}
		if err := m.store.UpsertMemory(ctx, rec); err != nil {
			return fmt.Errorf("store %s item: %w", kind, err)
		}
	}
	return nil
}

func (m *Memory) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := m.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("expected %d vectors, got %d", len(texts), len(vectors))
	}
	for _, v := range vectors {
		if m.cfg.EmbeddingDimensions > 0 && len(v) != m.cfg.EmbeddingDimensions {
			m.logger.Warn("embedding dimensions mismatch", zap.Int("got", len(v)), zap.Int("want", m.cfg.EmbeddingDimensions))
			break
		}
	}
	return vectors, nil
}
