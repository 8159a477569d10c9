// Package graph implements the replicated graph held by the relay.
//
// A graph is a set of nodes addressed by soul. Every field of a node carries
// a state (milliseconds since the Unix epoch) and concurrent writes to the
// same field are resolved with HAM, so replicas that see the same writes in
// any order converge on the same values.
//
// On the wire a node is a JSON object whose "_" field holds its soul and the
// per-field states:
//
//	{"_": {"#": "user/alice", ">": {"name": 1700000000000}}, "name": "Alice"}
package graph
