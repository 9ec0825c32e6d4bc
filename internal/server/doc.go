// Package server hosts the Fiber diagnostics service: the request middleware
// chain (panic recovery, request IDs, JSON errors) and the shared upstream
// HTTP client used by every fetch client. Route groups live in
// internal/server/routes and receive their dependencies explicitly, so tests
// can build an app around a real engine without opening a port.
package server
