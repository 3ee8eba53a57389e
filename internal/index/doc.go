// Package index keeps the full-text indexes in step with the catalog.
//
// The Synchronizer maps catalog rows to index documents and applies
// inserts, deletes, rebuilds and optimization through a store.Transport.
// Rebuilds truncate an index, or create its fixed schema when the service
// reports the index as unknown, and are serialized both within the process
// (per-index guard) and across processes (RebuildLock).
package index
