// Package goFit provides a coordinated OAuth2 client for fitness providers that
// rotate a single-use refresh token on every renewal. It combines a Redis-backed
// shared token store, a leased refresh lock, and a rate-limit-aware fetcher so
// that any number of processes can share one provider authorization safely.
//
// The package is designed for concurrent server workloads: Client methods are safe
// to call from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// goFit is the public surface. It exposes [Client], [Builder], [Config], the error
// taxonomy ([Error], [ErrorKind]), and value types (MetricsSnapshot, AuditEvent,
// RateLimitState). All internal coordination (lease acquisition, owner-ID
// generation) lives under internal/ and is never exported. The shared token
// store is the token subpackage.
//
// # What this package must NOT do
//
//   - Expose lease mechanics, Redis keys, or refresh-token values in its public API.
//   - Perform I/O outside of Client methods (construction via Builder is
//     allocation-only until Build).
//   - Issue more than one concurrent provider refresh call, in-process or across
//     processes sharing the same store.
//
// # Coordination contract
//
// EnsureValidToken is the choke point. Within one process, concurrent callers
// collapse onto a single in-flight refresh. Across processes, a leased lock in
// the shared store elects exactly one refresher; everyone else polls the store
// for the winner's result. The lease is best-effort mutual exclusion with a TTL
// bound, not consensus. That is acceptable for single-writer token rotation and
// not for safety-critical coordination.
package goFit
