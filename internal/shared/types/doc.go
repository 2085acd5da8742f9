// Package types provides shared data structures for the courier tracker backend.
//
// This package defines the records exchanged with the Package Directory
// Service and the Live Update Channel, plus the query shape used by
// filtered views.
//
// Core Types:
//   - Package: one shipment, identity-keyed by ID
//   - Courier: a courier referenced weakly by Package.CourierID
//   - Query: filter and pagination parameters of a view
//   - Page: one page of records with the server-side total
//
// Write Types:
//   - PackageDraft, PackagePatch: create and partial-update payloads
//   - CourierDraft, CourierPatch: courier payloads
//   - StatusUpdate: courier-side status/location push
//
// Every record reports an ordering Version; the entity store uses it for
// last-writer-wins merges.
//
// Example Usage:
//
//	q := types.Query{Status: types.StatusInTransit, Limit: 20}
//	match := types.MatchPackage(q)
//	if match(pkg) {
//	    rows = append(rows, pkg)
//	}
package types
