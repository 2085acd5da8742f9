// Package view implements filtered projections over an entity store.
//
// A View never owns records. Rows() recomputes lazily from the store
// snapshot each time the store version moves, so rows always equal the
// view predicate applied to the snapshot and no per-view row array is ever
// patched by hand.
//
// Fetches are guarded by a generation token: Begin cancels the previous
// fetch and returns a new token, and Commit only applies a result whose
// token is still current. Closing a view bumps the generation, so a fetch
// that completes after unmount is dropped.
package view
