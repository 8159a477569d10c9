// Package health watches the graph store while the relay is running.
//
// The HTTP /health endpoint is deliberately static; store problems surface
// through warn logs and the overlap_store_healthy gauge instead.
package health
