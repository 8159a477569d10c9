// Package events provides event bus implementations used to fan graph puts
// out between relay instances.
//
// Implementations:
//   - redis: Redis Streams, one consumer group per instance
//   - memory: In-memory for a single process and for testing
package events
