// Package http provides the HTTP front door of the process.
//
// The server exposes:
//   - /health, answered with "ok" for any method
//   - Prometheus metrics
//   - the relay transport, mounted on every path under the relay prefix
//   - the static page, served for every other path with Cache-Control: no-cache
//
// The router is built by NewServer but the socket is only bound by Start,
// which the startup sequencer calls once the readiness gate fires.
package http
