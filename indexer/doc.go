// Package indexer keeps search indexes in sync with the collections of a
// datastore, incrementally and in real time.
//
// The engine is fed change notifications: "these ids in this collection
// were updated" or "were deleted". For each notification it re-reads the
// surviving rows from the store, rebuilds their documents and writes them
// to the search backend. Ids that no longer come back from the store are
// removed from the index, so a stale notification heals rather than hurts.
//
// Collections the engine has no configuration for are not dead ends. Using
// the store's schema, a change to such a collection fans out one hop along
// foreign keys to the configured collections embedding it, and those parent
// rows are re-indexed instead. An author rename therefore refreshes the
// author's books without anyone having to say so.
//
// Two usage patterns come out of this:
//
// Method 1:
// Feed the engine from your change stream (the feed package does this for
// MQTT, the server package over HTTP), so documents follow writes with at
// most a notification's delay.
//
// Method 2:
// Change streams miss things. Call InitAllIndexes on a schedule or at
// startup to walk every configured collection page by page and rebuild it
// whole, clearing each index once per process run beforehand.
//
// Use both. Method 1 keeps the index fresh, method 2 keeps it honest.
//
// Every failure past configuration loading is written to the log and
// stepped over; a row that cannot be indexed never stops its batch.
package indexer
