// Package token implements the shared token store: a small Redis keyspace
// holding the access-token blob, the single-use refresh token, and a monotonic
// version counter that signals completed refreshes to processes without shared
// memory.
//
// All three keys are written by one Lua script so a peer can never observe a
// new access token paired with a stale refresh token or an unbumped version.
// The store is the authority across processes; in-process caches must defer to
// it whenever its version is ahead of theirs.
package token
