package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agentivo/overlap/pkg/graph"
	"github.com/agentivo/overlap/pkg/ports"
	badgerdb "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

const keyPrefix = "node:"

// GraphStore implements GraphStore on an embedded BadgerDB directory.
//
// This is the default backend: the graph survives restarts without any
// external service, and the readiness read at startup is served from it.
type GraphStore struct {
	db     *badgerdb.DB
	logger *zap.Logger
	ttl    time.Duration
}

// Options configures the badger store
type Options struct {
	// Dir is the data directory; ignored when InMemory is set
	Dir string
	// InMemory keeps everything in RAM, for tests
	InMemory bool
	// TTL expires nodes after the given duration; zero keeps them forever
	TTL time.Duration
}

// Open opens (or creates) a badger graph store
func Open(opts Options, logger *zap.Logger) (*GraphStore, error) {
	dbOpts := badgerdb.DefaultOptions(opts.Dir).
		WithLogger(newBadgerLogger(logger)).
		WithLoggingLevel(badgerdb.WARNING)
	if opts.InMemory {
		dbOpts = dbOpts.WithDir("").WithValueDir("").WithInMemory(true)
	}

	db, err := badgerdb.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", opts.Dir, err)
	}

	logger.Info("opened badger graph store",
		zap.String("dir", opts.Dir),
		zap.Bool("in_memory", opts.InMemory))

	return &GraphStore{
		db:     db,
		logger: logger,
		ttl:    opts.TTL,
	}, nil
}

// GetNode retrieves a node (ports.GraphStore interface)
func (s *GraphStore) GetNode(ctx context.Context, soul string) (*graph.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var n graph.Node
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(nodeKey(soul))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &n)
		})
	})
	if err != nil {
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ports.ErrNotFound, soul)
		}
		return nil, fmt.Errorf("failed to get node: %w", err)
	}

	return &n, nil
}

// PutNodes stores complete nodes in one transaction (ports.GraphStore interface)
func (s *GraphStore) PutNodes(ctx context.Context, nodes map[string]*graph.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(nodes) == 0 {
		return nil
	}

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		for soul, n := range nodes {
			data, err := json.Marshal(n)
			if err != nil {
				return fmt.Errorf("failed to marshal node %s: %w", soul, err)
			}
			entry := badgerdb.NewEntry(nodeKey(soul), data)
			if s.ttl > 0 {
				entry = entry.WithTTL(s.ttl)
			}
			if err := txn.SetEntry(entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save nodes: %w", err)
	}

	s.logger.Debug("nodes saved", zap.Int("count", len(nodes)))

	return nil
}

// ListSouls returns all stored souls in key order (ports.GraphStore interface)
func (s *GraphStore) ListSouls(ctx context.Context) ([]string, error) {
	var souls []string

	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := string(it.Item().Key())
			souls = append(souls, strings.TrimPrefix(key, keyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list souls: %w", err)
	}

	return souls, nil
}

// Healthcheck verifies the database is accessible (ports.GraphStore interface)
func (s *GraphStore) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// BadgerDB returns an error if it's closed or corrupted
	err := s.db.View(func(txn *badgerdb.Txn) error {
		return nil
	})
	if err != nil {
		return fmt.Errorf("healthcheck failed: %w", err)
	}

	return nil
}

// Close flushes and closes the database (ports.GraphStore interface)
func (s *GraphStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger: %w", err)
	}
	return nil
}

func nodeKey(soul string) []byte {
	return []byte(keyPrefix + soul)
}

// badgerLogger routes badger's internal logging through zap
type badgerLogger struct {
	sugar *zap.SugaredLogger
}

func newBadgerLogger(logger *zap.Logger) *badgerLogger {
	return &badgerLogger{sugar: logger.Named("badger").Sugar()}
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.sugar.Errorf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.sugar.Warnf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.sugar.Infof(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.sugar.Debugf(strings.TrimSpace(format), args...)
}
