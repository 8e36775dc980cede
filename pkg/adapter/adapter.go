// Package adapter defines the lifecycle contract shared by every network
// surface of dittoshare (file API, notifier, identity authority, metrics)
// and the HTTP plumbing those surfaces have in common.
package adapter

import "context"

// Adapter is a network surface managed by server.Server.
//
// Lifecycle:
//  1. Creation: the adapter is built with its configuration and collaborators
//  2. Startup: Serve() binds the listener and blocks until shutdown
//  3. Shutdown: Stop() drains in-flight work bounded by its context
//
// Stop may be called concurrently with Serve and more than once.
type Adapter interface {
	// Serve starts the adapter and blocks until ctx is cancelled or an
	// unrecoverable error occurs. Returning before cancellation is treated
	// as a fatal error by the server, which then stops every other adapter.
	Serve(ctx context.Context) error

	// Stop initiates a graceful shutdown bounded by ctx.
	Stop(ctx context.Context) error

	// Protocol returns a short name used in logs, e.g. "files-api".
	Protocol() string

	// Port returns the TCP port the adapter listens on.
	Port() int
}
