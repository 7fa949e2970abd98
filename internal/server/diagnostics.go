package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chanlink/comms-ipc/pkg/ipc"
)

const diagLogPrefix = "server:diagnostics"

// DiagnosticsRouter serves introspection operations for a running listener.
type DiagnosticsRouter struct {
	ipc.BaseRouter

	inst    *ipc.IPC
	started time.Time
}

// NewDiagnosticsRouter creates a diagnostics router bound to an instance.
func NewDiagnosticsRouter(inst *ipc.IPC) *DiagnosticsRouter {
	return &DiagnosticsRouter{inst: inst}
}

// Load records the attach time used for uptime reporting.
func (r *DiagnosticsRouter) Load(_ context.Context) error {
	r.started = time.Now()
	slog.Info(fmt.Sprintf("%s - Diagnostics router loaded", diagLogPrefix))
	return nil
}

// Unload implements the Router teardown hook.
func (r *DiagnosticsRouter) Unload(_ context.Context) error {
	slog.Info(fmt.Sprintf("%s - Diagnostics router unloaded", diagLogPrefix))
	return nil
}

// Handlers implements Router.
func (r *DiagnosticsRouter) Handlers() map[string]ipc.Handler {
	return map[string]ipc.Handler{
		"status": r.handleStatus,
	}
}

// handleStatus reports identity, channel, uptime and handler count. With
// several listeners on the channel, the caller receives the first answer
// unless it addresses one instance via required_identity.
func (r *DiagnosticsRouter) handleStatus(_ context.Context, _ ipc.JSON) (ipc.JSON, error) {
	return map[string]ipc.JSON{
		"identity":       r.inst.Identity(),
		"channel":        r.inst.Channel(),
		"uptime_seconds": time.Since(r.started).Seconds(),
		"handlers":       r.inst.HandlerCount(),
	}, nil
}
