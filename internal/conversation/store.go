// Package conversation keeps the recent question/answer history per session
// in Redis lists.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Record is one answered exchange.
type Record struct {
	ID         string    `json:"id"`
	Query      string    `json:"query"`
	Response   string    `json:"response"`
	Iterations int       `json:"iterations"`
	CreatedAt  time.Time `json:"created_at"`
}

type Store struct {
	client     *redis.Client
	ttl        time.Duration
	maxRecords int64
	logger     *zap.Logger
}

// NewStore wraps an existing client. maxRecords <= 0 keeps 50 records per
// session; ttl <= 0 disables expiry.
func NewStore(client *redis.Client, ttl time.Duration, maxRecords int, logger *zap.Logger) *Store {
	if maxRecords <= 0 {
		maxRecords = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: client, ttl: ttl, maxRecords: int64(maxRecords), logger: logger.Named("conversation")}
}

func key(sessionID string) string { return fmt.Sprintf("conversation:%s", sessionID) }

// Append pushes an exchange to the front of the session list, trims the list
// and refreshes its expiry in one pipeline.
func (s *Store) Append(ctx context.Context, sessionID, query, response string, iterations int) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("session id required")
	}
	rec := Record{
		ID:         uuid.NewString(),
		Query:      query,
		Response:   response,
		Iterations: iterations,
		CreatedAt:  time.Now().UTC(),
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	k := key(sessionID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, k, payload)
		pipe.LTrim(ctx, k, 0, s.maxRecords-1)
		if s.ttl > 0 {
			pipe.Expire(ctx, k, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append conversation: %w", err)
	}
	return nil
}

// Recent returns up to n records, newest first. Undecodable entries are
// skipped.
func (s *Store) Recent(ctx context.Context, sessionID string, n int) ([]Record, error) {
	if n <= 0 {
		n = 5
	}
	vals, err := s.client.LRange(ctx, key(sessionID), 0, int64(n)-1).Result()
	if errors.Is(err, redis.Nil) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read conversation: %w", err)
	}
	out := make([]Record, 0, len(vals))
	for _, v := range vals {
		var rec Record
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			s.logger.Debug("skipping undecodable conversation record", zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
