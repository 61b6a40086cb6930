// Package inmemorystore provides an ephemeral, thread-safe, in-memory
// implementation of the nodestore.Store interface.
//
// # Concurrency Model
//
// All state sits behind one sync.RWMutex. Compare-and-set needs the read of
// the current status and the write of the next one to be a single step,
// and Snapshot needs every task plus the aggregate read at one instant, so
// per-key structures such as sync.Map would not give the required
// atomicity. Critical sections are a few map operations long; executor
// calls never happen while the lock is held.
//
// # Persistence
//
// The store itself is memory only. Durability comes from Snapshot, which
// the checkpoint package writes to disk or to badger.
package inmemorystore
