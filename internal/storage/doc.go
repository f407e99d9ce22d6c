// Package storage persists activated reminders and notifier dedup marks so a
// restart can restore the schedule without firing an occurrence twice.
//
// Backends:
//   - file: JSON snapshot + append-only journal per collection
//   - sqlite: a single database file (modernc.org/sqlite, no cgo)
package storage
