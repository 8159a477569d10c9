// Package grpc exposes the standard grpc.health.v1 service.
//
// Both the overall status and the "overlap" service report NOT_SERVING until
// the startup gate fires, and SERVING afterwards, so orchestrators probing
// over gRPC see the same readiness the HTTP listener implies.
package grpc
