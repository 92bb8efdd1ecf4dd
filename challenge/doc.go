// Package challenge issues and validates the six-digit codes that prove
// control of an email address or phone number.
//
// One identifier holds at most one live challenge; issuing again replaces
// it. Every validation is a single atomic step per identifier: the
// remaining-attempts counter is decremented, an expired challenge is
// removed without comparing, and a matching code removes the challenge.
// A mismatch on the last remaining attempt removes it as well.
//
// [MemoryStore] is the default single-process store. [RedisStore] shares
// challenges between processes and runs the same sequence in a Lua script.
//
// # What this package must NOT do
//
//   - Store plaintext codes.
//   - Hold a store lock while the delivery adapter runs.
//   - Touch user accounts; the caller acts on the returned Outcome.
package challenge
