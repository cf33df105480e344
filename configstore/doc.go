// Package configstore is a versioned property store keyed by
// (application, profile, label).
//
// Every Publish creates a new immutable Snapshot; earlier snapshots stay
// valid for whoever holds them. Resolve falls back from the requested
// profile and label to "default" and "main". TriggerRefresh announces the
// latest version on a bus.Bus so clients re-resolve.
//
//	store := configstore.New(hub, configstore.WithLogger(log))
//	_, _ = store.Publish(ctx, "orders", "dev", "", map[string]any{"db.host": "pg"})
//	snap, err := store.Resolve(ctx, "orders", "dev", "main")
//
// Handler serves the store over HTTP, including an SSE stream of refresh
// events. LoadDirectory and Seeder import <application>-<profile> files.
package configstore
