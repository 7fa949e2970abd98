// Package server wires the transport, the IPC facade and signal handling
// for the ipcbus listener.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chanlink/comms-ipc/internal/config"
	"github.com/chanlink/comms-ipc/pkg/commsbus"
	"github.com/chanlink/comms-ipc/pkg/ipc"
)

const logPrefix = "server:server"

// SetupLogging installs the default slog handler at the configured level.
func SetupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

// Run starts the IPC listener, blocks until a shutdown signal, then cleans
// up.
func Run(cfg *config.Config) error {
	SetupLogging(cfg.LogLevel)

	slog.Info(fmt.Sprintf("%s - Starting ipcbus listener", logPrefix))

	// Step 1: Optionally run an in-process broker.
	if cfg.Embedded {
		ns, err := commsbus.StartEmbeddedServer(cfg.EmbeddedHost, cfg.EmbeddedPort)
		if err != nil {
			return fmt.Errorf("%s - failed to start embedded COMMS server: %w", logPrefix, err)
		}
		defer func() {
			ns.Shutdown()
			ns.WaitForShutdown()
		}()
		slog.Info(fmt.Sprintf("%s - Embedded COMMS server on %s:%d", logPrefix, cfg.EmbeddedHost, cfg.EmbeddedPort))
	}

	// Step 2: Connect to the broker under the configured policy.
	nc, err := commsbus.Connect(cfg.COMMSURL, cfg.COMMSName, cfg.ConnectOpts())
	if err != nil {
		return fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
	}
	defer nc.Drain()

	// Step 3: Build the IPC instance with the built-in handlers.
	inst := ipc.New(commsbus.NewBus(nc), &ipc.Options{
		Channel:  cfg.Channel,
		Identity: cfg.Identity,
		Handlers: map[string]ipc.Handler{
			"ping": handlePing,
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := inst.AddRouter(ctx, NewDiagnosticsRouter(inst)); err != nil {
		return fmt.Errorf("%s - failed to attach diagnostics router: %w", logPrefix, err)
	}

	// Step 4: Run the dispatch loop as the main IPC task.
	errCh := make(chan error, 1)
	go func() { errCh <- inst.Start(ctx) }()

	select {
	case <-inst.Ready():
	case err := <-errCh:
		return fmt.Errorf("%s - dispatch loop failed to start: %w", logPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - ipcbus is ready (identity=%s channel=%s)", logPrefix, inst.Identity(), inst.Channel()))

	// Wait for shutdown signal or loop failure.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))
	case err := <-errCh:
		return err
	}

	// Graceful shutdown.
	inst.Close()
	<-errCh

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// handlePing answers liveness probes from peers.
func handlePing(_ context.Context, _ ipc.JSON) (ipc.JSON, error) {
	return map[string]ipc.JSON{"pong": true}, nil
}
