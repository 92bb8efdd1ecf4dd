// Package session issues opaque bearer tokens and tracks their idle
// lifetime.
//
// A token is 256 bits from crypto/rand, base64url encoded. Stores only ever
// see its SHA-256, so a dump of the store cannot be replayed. A session dies
// once more than its idle timeout passes without a successful Validate; the
// dead record is removed by the next access or by a sweep.
//
// # Binary encoding
//
// [RedisStore] keeps sessions as the compact record produced by [Encode].
//
// # Architecture boundaries
//
// This package owns the [Store] implementations and the [Manager]. It does
// NOT look up accounts or decide authorization; the Engine does.
//
// # What this package must NOT do
//
//   - Import portalauth, directory, or authz (no upward imports).
//   - Persist plaintext tokens.
//   - Move LastActivity backwards.
package session
