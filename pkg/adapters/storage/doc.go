// Package storage provides graph persistence implementations.
//
// Implementations:
//   - badger: embedded on-disk store under DATA_DIR (default)
//   - redis: Redis with JSON serialization and optional TTL, shared by instances
//   - memory: In-memory for testing
package storage
