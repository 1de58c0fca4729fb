// Package middleware adapts the authorization engine to net/http.
//
// # Handlers
//
//   - [RequestMetadata] copies client IP, User-Agent and a correlation id into
//     the request context so Authenticate can fingerprint the device.
//   - [Guard] runs Engine.Authorize for one registered route and stores the
//     principal and resolved tenant in the request context.
//   - [WriteError] renders engine errors as JSON with the matching status.
//
// This package translates HTTP semantics into engine calls. It never parses
// tokens or makes decisions itself.
package middleware
