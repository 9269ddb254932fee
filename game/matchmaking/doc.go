// Package matchmaking holds clients waiting for an opponent and pairs them
// in arrival order.
//
// TryPair is the only operation that removes two entries; it does so in one
// critical section (a mutex for MemoryQueue, a Lua script for RedisQueue), so
// two concurrent pairing attempts never hand out the same client twice.
package matchmaking
