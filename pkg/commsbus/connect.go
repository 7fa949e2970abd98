// Package commsbus adapts a COMMS connection to the ipc transport boundary.
package commsbus

import (
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"
)

const connectLogPrefix = "commsbus:connect"

// Connection policy defaults.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultReconnectWait  = 2 * time.Second
	defaultMaxReconnects  = 60
)

// ConnectOpts configures the broker connection policy. Nil or zero values
// use defaults.
type ConnectOpts struct {
	// Timeout bounds the initial dial.
	Timeout time.Duration

	// ReconnectWait is the pause between reconnection attempts after a
	// broker drop.
	ReconnectWait time.Duration

	// MaxReconnects caps reconnection attempts before the connection is
	// closed for good. Zero uses the default; negative means unlimited.
	MaxReconnects int
}

// withDefaults fills unset policy fields.
func (o *ConnectOpts) withDefaults() ConnectOpts {
	out := ConnectOpts{
		Timeout:       defaultConnectTimeout,
		ReconnectWait: defaultReconnectWait,
		MaxReconnects: defaultMaxReconnects,
	}
	if o == nil {
		return out
	}
	if o.Timeout > 0 {
		out.Timeout = o.Timeout
	}
	if o.ReconnectWait > 0 {
		out.ReconnectWait = o.ReconnectWait
	}
	if o.MaxReconnects != 0 {
		out.MaxReconnects = o.MaxReconnects
	}
	return out
}

// Connect dials the broker under the given policy and installs lifecycle
// logging, so channel peers surface broker drops and recoveries in their
// own logs. Pass nil for opts to use the default policy.
func Connect(url, name string, opts *ConnectOpts) (*comms.Conn, error) {
	policy := opts.withDefaults()
	slog.Info(fmt.Sprintf("%s - Dialing %s as %s (timeout=%s reconnect_wait=%s max_reconnects=%d)",
		connectLogPrefix, url, name, policy.Timeout, policy.ReconnectWait, policy.MaxReconnects))

	nc, err := comms.Connect(url,
		comms.Name(name),
		comms.Timeout(policy.Timeout),
		comms.ReconnectWait(policy.ReconnectWait),
		comms.MaxReconnects(policy.MaxReconnects),
		comms.DisconnectErrHandler(func(_ *comms.Conn, err error) {
			slog.Warn(fmt.Sprintf("%s - Lost broker connection: %v", connectLogPrefix, err))
		}),
		comms.ReconnectHandler(func(nc *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - Reconnected to broker at %s", connectLogPrefix, nc.ConnectedUrl()))
		}),
		comms.ClosedHandler(func(_ *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - Broker connection closed", connectLogPrefix))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%s - dial %s: %w", connectLogPrefix, url, err)
	}

	slog.Info(fmt.Sprintf("%s - Connected to broker at %s", connectLogPrefix, nc.ConnectedUrl()))
	return nc, nil
}
