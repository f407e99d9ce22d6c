// Package notifier delivers background messages (fired reminders, digests).
//
// Send is synchronous: the caller (one scheduling task per reminder) blocks
// through rate limiting and bounded retries, so the outcome is known when it
// returns. A notification carrying a Key is delivered at most once per dedup
// window; with PersistDedup the marks go to storage and survive restarts.
package notifier
