// Package bootstrap drives a meshkit process through its lifecycle:
// validate config, start components in order, run configure callbacks,
// block until a signal or context cancellation, then run stop hooks and
// stop components in reverse.
package bootstrap
