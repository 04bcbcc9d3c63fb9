// Package store persists publications and per-issue workflow records in
// SQLite. It is the single source of truth the worker loops coordinate
// through; every flag transition is idempotent and monotonic so overlapping
// scans are safe.
package store
