// Package registry tracks live service instances by heartbeat.
//
// Instances register, renew periodically, and are evicted by a background
// sweep once their last renewal is older than the expiry threshold. Every
// membership change bumps a monotonically increasing version that
// consumers can poll to detect change cheaply.
//
// Locking is two-level: a short RWMutex guards the service map, and each
// service entry has its own mutex, so renewals of one service never
// contend with another. Readers copy out under the entry lock.
package registry
