// Package session keeps session-scoped conversation memory for image analysis.
//
// Invariants:
// - Session ids are opaque nanoid tokens minted by the store.
// - Turns are append-only and keep insertion order until Clear.
// - Mutations for the same session are serialized; unrelated sessions do not contend.
// - Expiry is a policy applied by SweepExpired; the store never sweeps itself.
//
// Usage:
//
//	store := session.NewMemoryStore()
//	id, _ := store.ResolveOrCreate(ctx, "")
//	_ = store.AppendTurn(ctx, id, session.RoleUser, "What is on the desk?")
//	stats, _ := store.Stats(ctx, id)
//	_ = stats
package session
