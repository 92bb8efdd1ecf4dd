// Package internal contains helpers that are private to portalauth: secure
// token and one-time code generation plus secret digests.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - clock: injectable time source with a manual fake for tests
//   - rate: Redis-backed fixed-window limiters for login and reset requests
//
// # What this package must NOT do
//
//   - Export types that appear in the public portalauth API.
//   - Be imported by any package outside the portalauth module.
package internal
