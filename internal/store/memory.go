package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Memory kinds persisted in memory_items.
const (
	MemoryKindContext  = "context"
	MemoryKindSnapshot = "snapshot"
	MemoryKindPage     = "page"
	MemoryKindProfile  = "profile"
)

// MemoryRecord is one semantically searchable memory entry.
type MemoryRecord struct {
	ID        string
	SessionID string
	Kind      string
	Content   string
	Metadata  map[string]interface{}
	Vector    []float32
}

// MemoryFilter narrows a similarity query. Empty fields match everything.
type MemoryFilter struct {
	SessionID string
	Kinds     []string
}

// MemoryHit is a similarity query result.
type MemoryHit struct {
	ID        string
	SessionID string
	Kind      string
	Content   string
	Metadata  map[string]interface{}
	CreatedAt time.Time
	Distance  float64
}

// UpsertMemory inserts or replaces a memory entry by id.
func (s *Store) UpsertMemory(ctx context.Context, rec MemoryRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("memory id required")
	}
	if rec.SessionID == "" {
		return fmt.Errorf("session_id required")
	}
	if rec.Kind == "" {
		rec.Kind = MemoryKindContext
	}
	vectorLiteral, err := encodeVectorLiteral(rec.Vector)
	if err != nil {
		return err
	}
	meta := rec.Metadata
	if meta == nil {
		meta = map[string]interface{}{}
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO memory_items (id, session_id, kind, content, metadata, embedding, created_at)
VALUES ($1,$2,$3,$4,$5,$6::vector,NOW())
ON CONFLICT (id) DO UPDATE SET
  content = EXCLUDED.content,
  metadata = EXCLUDED.metadata,
  embedding = EXCLUDED.embedding,
  created_at = NOW();
`, rec.ID, rec.SessionID, rec.Kind, rec.Content, metaBytes, vectorLiteral)
	return err
}

// QueryMemory returns the closest entries to vector, nearest first. Hits
// farther than threshold (cosine distance) are dropped when threshold > 0.
func (s *Store) QueryMemory(ctx context.Context, vector []float32, filter MemoryFilter, topK int, threshold float64) ([]MemoryHit, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("vector must not be empty")
	}
	if topK <= 0 {
		topK = 5
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	kinds := filter.Kinds
	if kinds == nil {
		kinds = []string{}
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, session_id, kind, content, metadata, created_at, embedding <=> $1::vector AS distance
FROM memory_items
WHERE ($2 = '' OR session_id = $2)
  AND (cardinality($3::text[]) = 0 OR kind = ANY($3::text[]))
ORDER BY embedding <=> $1::vector
LIMIT $4
`, vecLiteral, filter.SessionID, pq.Array(kinds), topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var hits []MemoryHit
	for rows.Next() {
		var (
			hit       MemoryHit
			metaBytes []byte
		)
		if err := rows.Scan(&hit.ID, &hit.SessionID, &hit.Kind, &hit.Content, &metaBytes, &hit.CreatedAt, &hit.Distance); err != nil {
			return nil, err
		}
		if threshold > 0 && hit.Distance > threshold {
			continue
		}
		if len(metaBytes) > 0 {
			_ = json.Unmarshal(metaBytes, &hit.Metadata)
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// RecentMemory returns the newest entries of one kind for a session.
func (s *Store) RecentMemory(ctx context.Context, sessionID, kind string, limit int) ([]MemoryHit, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session_id required")
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, session_id, kind, content, metadata, created_at
FROM memory_items
WHERE session_id = $1 AND kind = $2
ORDER BY created_at DESC
LIMIT $3
`, sessionID, kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var hits []MemoryHit
	for rows.Next() {
		var (
			hit       MemoryHit
			metaBytes []byte
		)
		if err := rows.Scan(&hit.ID, &hit.SessionID, &hit.Kind, &hit.Content, &metaBytes, &hit.CreatedAt); err != nil {
			return nil, err
		}
		if len(metaBytes) > 0 {
			_ = json.Unmarshal(metaBytes, &hit.Metadata)
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}
