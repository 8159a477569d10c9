// Package config provides configuration management for the overlap relay server.
//
// Configuration is loaded from environment variables using the env package.
// All configuration values have sensible defaults for development use: the
// server listens on PORT 3000, persists the graph under ./radata with badger
// and waits at most 10 seconds for that data before accepting connections.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("HTTP server will listen on port %d\n", cfg.HTTPPort)
package config
