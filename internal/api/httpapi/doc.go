// Package httpapi exposes the registry service over HTTP.
//
// The server wires a chi router with request logging, panic recovery,
// timeouts, CORS, and optional Basic Auth on the mutating endpoints. Wire
// payload types and their domain converters live here so the API client can
// reuse them. Prometheus metrics, including the build_info gauge carrying the
// four build metadata values, are served on /metrics.
package httpapi
