// Package session owns the cache state of one signed-in dashboard user.
//
// A Session is built per login and discarded on logout, so records cached
// for one user are never visible to the next.
//
// Components:
//   - Session: directory client, package and courier stores, their
//     coordinators and the live source
//   - Manager: the set of open sessions, keyed by session ID
//
// Lifecycle:
//  1. New builds the client and the live source from configuration
//  2. Start mounts saved views and begins merging live events
//  3. Close stops the live source and drops every cached record
//
// Example Usage:
//
//	manager := session.NewManager(ctx, cfg, views, log, metrics)
//	s, err := manager.Open(token)
//	v, err := s.Packages().Open(ctx, "in transit", types.Query{Status: types.StatusInTransit})
//	manager.Close(s.ID())
package session
