// Package component defines the lifecycle contract shared by meshkit's
// long-running parts: the refresh bus, the registry sweeper, the config
// seeder and the HTTP server.
//
// A Registry starts components in registration order and stops them in
// reverse, so dependencies are registered first.
package component
