// Package portalauth is the identity core of a multi-role university portal:
// account registration with one-time verification codes, password login,
// password reset, idle-timeout sessions and group-scoped authorization.
//
// An [Engine] is assembled once through [Builder] and is safe for concurrent
// use afterwards:
//
//	engine, err := portalauth.New().
//		WithDirectory(directory.NewMemory()).
//		WithDelivery(delivery.NewLogSender(logger)).
//		WithLogger(logger).
//		Build()
//
// # Architecture boundaries
//
// portalauth is the façade. Code issuance and consumption live in challenge,
// sessions in session, hashing in password, the authorization predicate in
// authz and account storage behind directory.Directory. Stores default to
// in-memory implementations; Config selects Redis-backed ones, and the
// optional rate limiter, when a client is supplied with [Builder.WithRedis].
//
// Challenge outcomes and authorization decisions are values. Errors are
// reserved for rejected requests and backend failures; see errors.go.
//
// # What this package must NOT do
//
//   - Reveal whether an account exists through RequestReset.
//   - Return or log plaintext codes, passwords or session tokens, other than
//     handing a code to the configured delivery.Sender.
//   - Hold a store lock while a code is being delivered.
package portalauth
