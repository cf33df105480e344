// Package discovery keeps a client-side cache of service membership.
//
// A Cache pulls instance lists from a Source and publishes each result as
// an immutable Snapshot behind an atomic pointer. Reads never wait for a
// refresh once a snapshot exists: stale snapshots are served while a
// background refresh runs, and a failed refresh keeps the last good one.
//
// # Sources
//
//   - RegistrySource: an in-process registry.Registry
//   - registry/client.Client: a registry server over REST
//   - discovery/consul.Source: healthy services from Consul
//   - StaticSource: fixed lists for development and testing
package discovery
