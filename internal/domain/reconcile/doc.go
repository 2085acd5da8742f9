// Package reconcile keeps an entity store consistent with the Package
// Directory Service and the Live Update Channel.
//
// A Coordinator is the only writer of its store. Local mutations apply the
// directory response, live pushes apply the pushed record, and fetches merge
// through store.Reconcile with the sequence number observed before the
// request, so neither side can undo the other.
//
// Lifecycle:
//
//	c := reconcile.New(st, client.Packages(), reconcile.Options[types.Package]{
//	    Match: types.MatchPackage,
//	})
//	v, err := c.Open(ctx, "moving", types.Query{Status: types.StatusInTransit})
//	go c.Run(ctx, subscriber.Events(ctx)) // refetches every view on connect
//	rows, _ := v.Rows()
//
// No status transition is ever rejected locally; ordering is decided by the
// record version alone.
package reconcile
