// Package ports defines the interfaces between the relay and its adapters.
//
// Adapters live under pkg/adapters:
//   - storage: GraphStore implementations (badger, redis, memory)
//   - events: EventBus implementations (redis, memory)
//   - metrics: MetricsCollector implementations (prometheus)
package ports
