// Package middleware adapts portalauth.Engine to net/http.
//
// # Guards
//
//   - [RequireSession] resolves the session token and stores the actor in the
//     request context.
//   - [RequireRole] admits actors holding one of the listed roles.
//   - [RequireGroup] admits actors the engine authorizes for the group named
//     by the request, typically a chi URL parameter.
//
// RequireRole and RequireGroup read the actor set by RequireSession and must
// be mounted after it.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. Authentication
// and authorization decisions stay in the Engine.
//
// # What this package must NOT do
//
//   - Inspect session stores directly.
//   - Decide group access on its own.
//   - Reveal why a token was rejected beyond the status code.
package middleware
