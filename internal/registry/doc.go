// Package registry owns the live dashboard controllers of this process, one
// per channel, and serializes every operation on a channel.
//
// CONCURRENCY MODEL:
//
// Per-Channel Lock:
// Each channel has a lock entry holding a one-slot semaphore. Activate,
// refresh and deactivate acquire it, so at most one of them runs per channel
// and a renderer is never called twice concurrently for the same channel.
// Acquisition honors the caller's context.
//
// Map Mutex:
// The registry mutex guards only membership of the entry map and the
// controller pointer swap. It is never held across a render, so channels
// never block each other.
//
// Entry Lifetime:
// Entries are reference counted by waiters and holders. An entry is removed
// once nobody waits on it and it holds no controller, so a waiter can never
// end up holding a lock that a newer entry for the same channel bypasses.
//
// Races:
// Deactivate and ActivateOrUpdate on the same channel are mutually
// exclusive; whichever acquires first completes first. An activation that
// loses to a deactivation simply creates a fresh controller.
package registry
