// Package lock implements the leased mutual-exclusion primitive used to elect
// a single token refresher across processes.
//
// The lease is best-effort, not consensus: a holder that stalls past its TTL
// and then resumes can briefly believe it still owns a lease a peer has since
// acquired. That window is acceptable for single-writer token rotation, where
// the store's atomic persist-and-version-bump bounds the damage; it is not
// suitable for safety-critical coordination.
package lock
