// Package authz holds the portal's single authorization predicate.
//
// [Authorize] combines the actor's role, group affiliation and curator
// assignment with the target group:
//
//   - administrators are always allowed;
//   - students and class representatives are allowed on their own group;
//   - teachers are allowed on the one group they curate;
//   - everything else is denied.
//
// # What this package must NOT do
//
//   - Perform I/O or hold state; the predicate is a pure function.
//   - Treat an empty group as a wildcard.
package authz
