// Package store provides the identity-keyed entity store behind every
// dashboard view.
//
// A Store keeps at most one record per key, in insertion order. Writes follow
// last-writer-wins on Record.Version: an incoming record replaces the current
// one only when its version is not older. Identical or stale writes are
// no-ops and do not move the version counter.
//
// Filtered fetches are merged with Reconcile rather than ReplaceAll so that a
// push event applied while the request was in flight is never overwritten,
// and a key removed while the request was in flight is never resurrected.
//
// Example Usage:
//
//	s := store.New[types.Package]()
//	since := s.Seq()
//	page, _ := dir.FetchPage(ctx, q)
//	s.Reconcile(store.Baseline[types.Package]{
//	    Records: page.Records,
//	    Since:   since,
//	    Match:   types.MatchPackage(q),
//	})
package store
