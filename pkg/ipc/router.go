package ipc

import "context"

// Router is a bundle of operation handlers that can be attached to an IPC
// instance as a unit, with lifecycle hooks for setup and teardown of
// router-owned resources.
//
// Load runs after the router's handlers have been merged into the registry;
// Unload runs when the router is removed from the instance. Removing a
// router invokes Unload only — the handlers it contributed stay registered.
type Router interface {
	// Handlers enumerates the operations the router serves. Each entry is
	// registered under its declared name when the router is attached.
	Handlers() map[string]Handler

	Load(ctx context.Context) error
	Unload(ctx context.Context) error
}

// BaseRouter provides no-op lifecycle hooks. Embed it in routers that do
// not need setup or teardown.
type BaseRouter struct{}

// Load implements Router.
func (BaseRouter) Load(context.Context) error { return nil }

// Unload implements Router.
func (BaseRouter) Unload(context.Context) error { return nil }
