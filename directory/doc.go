// Package directory defines the account store the portal authenticates
// against and ships an in-memory implementation.
//
// SQL-backed implementations live in the postgres and mysql subpackages.
// Both map unique violations to [*DuplicateError] and missing rows to
// [ErrNotFound], so callers never inspect driver errors.
package directory
