// Package lock provides a distributed mutual-exclusion lock backed by a
// single logical Redis endpoint, with automatic lease renewal.
//
// A Manager hands out a Handle for every successful acquisition. Each
// acquisition writes a fresh random Token under the lock key with a TTL;
// only a caller presenting that token may extend or delete the key, and
// both operations run as server-side scripts so no other holder can slip
// in between the check and the act.
//
// When auto-renew is enabled the Handle owns a background goroutine that
// extends the lease every renew interval. If the key no longer carries the
// token, or the lease could have expired while renewals kept failing, the
// Handle moves to StateLost and closes its Lost channel. Callers must check
// for loss before committing side effects that rely on exclusivity.
//
// Waiters are not queued: whoever writes first after the key frees up wins.
// An optional syncbus.Bus lets a release wake waiters immediately instead
// of leaving them to their next poll.
package lock
