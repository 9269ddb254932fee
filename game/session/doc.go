// Package session stores the shared record of every running match.
//
// The session package implements:
//   - The Store interface used by the lifecycle handler
//   - MemoryStore, a mutex-guarded map for single-process deployments
//   - RedisStore, a hash-per-session layout for shared deployments
//
// Records:
//
// A record is a flat map of string fields (see package state). Writes are
// field-level: Merge only touches the fields it is given, so two clients
// updating their own paddles never clobber each other. Concurrent writes to
// the same field are last-write-wins.
//
// Redis Layout:
//
//	game:<id>:state    hash with the record fields
//	game:<id>:players  set of the two participant ids
//
// Create, Merge and MarkDisconnected run as Lua scripts so the existence
// check and the write happen atomically. Every write refreshes the TTL.
//
// Usage:
//
//	store := session.NewMemoryStore()
//	err := store.Create(ctx, gameID, state.Initial(arena, left, right))
//
//	changed, err := store.MarkDisconnected(ctx, gameID, clientID)
//	if changed {
//		// first time this participant left
//	}
//
// Cleanup:
//
// MemoryStore.CleanupExpired removes records not written for a while.
// RedisStore relies on key expiry instead.
package session
