// Package relay implements a graph-sync relay node.
//
// Peers attach to the relay (usually over a websocket, see pkg/api/websocket)
// and exchange JSON messages. A message is an object, or an array of objects,
// using these keys:
//
//	#    message id, used to drop duplicates
//	@    id of the message being answered
//	put  soul -> node, written with HAM conflict resolution
//	get  {"#": soul, ".": field} read request
//	dam  "?" handshake; answered with the relay's pid
//
// Merged puts are written to a ports.GraphStore, broadcast to every other
// peer and published on a ports.EventBus so other relay instances can apply
// them too. Get is the one-shot read used at startup to wait for persisted
// data before the HTTP listener accepts connections.
package relay
