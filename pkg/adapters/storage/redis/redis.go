package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agentivo/overlap/pkg/graph"
	"github.com/agentivo/overlap/pkg/ports"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "overlap:node:"

// GraphStore implements GraphStore using Redis
type GraphStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewGraphStore creates a new Redis graph store.
// A ttl of zero keeps nodes forever.
func NewGraphStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *GraphStore {
	return &GraphStore{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// GetNode retrieves a node (ports.GraphStore interface)
func (s *GraphStore) GetNode(ctx context.Context, soul string) (*graph.Node, error) {
	key := getNodeKey(soul)

	// Get from Redis
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ports.ErrNotFound, soul)
		}
		return nil, fmt.Errorf("failed to get node: %w", err)
	}

	// Deserialize node
	var n graph.Node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("failed to unmarshal node: %w", err)
	}

	return &n, nil
}

// PutNodes stores complete nodes in one pipeline (ports.GraphStore interface)
func (s *GraphStore) PutNodes(ctx context.Context, nodes map[string]*graph.Node) error {
	if len(nodes) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	for soul, n := range nodes {
		// Serialize node
		data, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("failed to marshal node %s: %w", soul, err)
		}
		pipe.Set(ctx, getNodeKey(soul), data, s.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save nodes: %w", err)
	}

	s.logger.Debug("nodes saved", zap.Int("count", len(nodes)))

	return nil
}

// ListSouls returns all stored souls (ports.GraphStore interface)
func (s *GraphStore) ListSouls(ctx context.Context) ([]string, error) {
	pattern := keyPrefix + "*"

	var cursor uint64
	var keys []string

	for {
		var batch []string
		var err error

		batch, cursor, err = s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}

		keys = append(keys, batch...)

		if cursor == 0 {
			break
		}
	}

	// Extract souls from keys
	souls := make([]string, 0, len(keys))
	for _, key := range keys {
		if soul := strings.TrimPrefix(key, keyPrefix); soul != "" {
			souls = append(souls, soul)
		}
	}
	sort.Strings(souls)

	return souls, nil
}

// Healthcheck pings Redis (ports.GraphStore interface)
func (s *GraphStore) Healthcheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("healthcheck failed: %w", err)
	}
	return nil
}

// Close is a no-op; the client is owned by the caller (ports.GraphStore interface)
func (s *GraphStore) Close() error {
	return nil
}

// getNodeKey returns the Redis key for a node
func getNodeKey(soul string) string {
	return keyPrefix + soul
}
