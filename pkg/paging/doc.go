// Package paging implements a lazy, restartable cursor over a paginated
// Graph API query.
//
// A Cursor is seeded with the first page of a query and its source URL. Each
// Advance yields the buffered page and prefetches the next one through the
// continuation link (@odata.nextLink), either from the network or from the
// cursor's own per-URL cache. After full exhaustion the cursor can be
// re-started: if more than one distinct URL was visited it rewinds to the
// initial URL and replays the pass, serving cached payloads when retention
// is enabled.
//
// The cursor exclusively owns its cache; the fetcher that spawned it is a
// shared back-reference used only to issue further HTTP calls.
package paging
