// Package websocket carries relay peers over WebSocket.
//
// Every upgraded connection becomes one relay peer with a read pump feeding
// frames into the relay and a write pump draining the peer's outbound queue.
// Plain HTTP requests on the relay prefix are answered with 426.
package websocket
