package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const logPrefix = "ipc:ipc"

// DefaultChannel is the shared pub/sub channel used when Options.Channel is
// empty.
const DefaultChannel = "ipc.bus.v1"

// DefaultGetTimeout bounds Get when GetOpts.Timeout is zero.
const DefaultGetTimeout = 5 * time.Second

// Dispatch loop states.
const (
	stateIdle int32 = iota
	stateSubscribing
	stateListening
	stateClosed
)

// ErrorHandler receives handler failures together with the request payload
// that produced them.
type ErrorHandler func(err error, data JSON)

// Options configures an IPC instance. Nil or zero values use defaults.
type Options struct {
	// Channel is the shared pub/sub channel. Defaults to DefaultChannel.
	Channel string

	// Identity labels outgoing envelopes and is matched against
	// required_identity on inbound requests. Defaults to a random UUID,
	// chosen once per instance lifetime.
	Identity string

	// ErrorHandler receives handler failures. When nil, a failure is
	// logged as the unhandled fault of that handler's goroutine; the
	// dispatch loop is never affected either way.
	ErrorHandler ErrorHandler

	// Handlers seeds the registry at construction. This is the explicit
	// registration step for an owner object's operation handlers.
	Handlers map[string]Handler
}

// IPC is the messaging facade: fire-and-forget publish, request with a
// single awaited reply, handler registry mutation and dispatch loop
// lifecycle.
type IPC struct {
	transport Transport
	channel   string
	identity  string
	errh      ErrorHandler

	registry *handlerRegistry
	pending  *pendingTable

	mu      sync.Mutex
	routers []Router

	state     atomic.Int32
	ready     chan struct{}
	closing   chan struct{}
	closeOnce sync.Once
}

// New creates an IPC instance bound to a transport. Pass nil for opts to
// use defaults.
func New(transport Transport, opts *Options) *IPC {
	if opts == nil {
		opts = &Options{}
	}
	channel := opts.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	identity := opts.Identity
	if identity == "" {
		identity = uuid.NewString()
	}

	i := &IPC{
		transport: transport,
		channel:   channel,
		identity:  identity,
		errh:      opts.ErrorHandler,
		registry:  newHandlerRegistry(opts.Handlers),
		pending:   newPendingTable(),
		ready:     make(chan struct{}),
		closing:   make(chan struct{}),
	}
	slog.Info(fmt.Sprintf("%s - Created IPC instance identity=%s channel=%s handlers=%d",
		logPrefix, i.identity, i.channel, i.registry.len()))
	return i
}

// Identity returns the identity this instance tags outgoing envelopes with.
func (i *IPC) Identity() string { return i.identity }

// Channel returns the channel this instance publishes and listens on.
func (i *IPC) Channel() string { return i.channel }

// HandlerCount returns the number of registered operation handlers.
func (i *IPC) HandlerCount() int { return i.registry.len() }

// Ready returns a channel that is closed once the dispatch loop is
// consuming inbound messages.
func (i *IPC) Ready() <-chan struct{} { return i.ready }

// AddHandler registers a handler under name, replacing any prior handler
// with the same name.
func (i *IPC) AddHandler(name string, h Handler) {
	i.registry.register(name, h)
	slog.Debug(fmt.Sprintf("%s - Added handler %q", logPrefix, name))
}

// RemoveHandler removes the handler registered under name. It returns
// ErrHandlerNotFound when no such handler exists; subsequent requests for
// the name are dropped, not errored.
func (i *IPC) RemoveHandler(name string) error {
	if err := i.registry.unregister(name); err != nil {
		return err
	}
	slog.Debug(fmt.Sprintf("%s - Removed handler %q", logPrefix, name))
	return nil
}

// AddRouter merges the router's handlers into the registry (last writer
// wins on name collisions) and then invokes its Load hook. A Load failure
// is returned to the caller; the merged handlers stay registered.
func (i *IPC) AddRouter(ctx context.Context, router Router) error {
	i.registry.attach(router)
	i.mu.Lock()
	i.routers = append(i.routers, router)
	i.mu.Unlock()

	if err := router.Load(ctx); err != nil {
		return fmt.Errorf("%s - router load: %w", logPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Attached router with %d handlers", logPrefix, len(router.Handlers())))
	return nil
}

// RemoveRouter invokes the router's Unload hook and forgets it. Handlers
// the router contributed are not removed; use RemoveHandler for that.
func (i *IPC) RemoveRouter(ctx context.Context, router Router) error {
	i.mu.Lock()
	for n, r := range i.routers {
		if r == router {
			i.routers = append(i.routers[:n], i.routers[n+1:]...)
			break
		}
	}
	i.mu.Unlock()

	if err := router.Unload(ctx); err != nil {
		return fmt.Errorf("%s - router unload: %w", logPrefix, err)
	}
	return nil
}

// PublishOpts carries the optional fields of a published envelope. Nil uses
// defaults.
type PublishOpts struct {
	// Nonce asks receivers to publish a correlated reply under the same
	// token. Leave empty for fire-and-forget.
	Nonce string

	// RequiredIdentity restricts handling to the one instance with the
	// given identity; all others drop the envelope.
	RequiredIdentity string
}

// Publish encodes and sends one request envelope to the channel. It never
// waits for a reply and fails only when the transport send fails. The loop
// does not need to be running.
func (i *IPC) Publish(ctx context.Context, op string, data JSON, opts *PublishOpts) error {
	env := &Envelope{Op: op, Data: data, Sender: i.identity}
	if opts != nil {
		env.Nonce = opts.Nonce
		env.RequiredIdentity = opts.RequiredIdentity
	}
	return i.send(ctx, env)
}

// send encodes an envelope and hands it to the transport.
func (i *IPC) send(ctx context.Context, env *Envelope) error {
	payload, err := EncodeEnvelope(env)
	if err != nil {
		return fmt.Errorf("%s - encode envelope: %w", logPrefix, err)
	}
	if err := i.transport.Publish(ctx, i.channel, payload); err != nil {
		return fmt.Errorf("%s - publish to %s: %w", logPrefix, i.channel, err)
	}
	slog.Debug(fmt.Sprintf("%s - Published op=%q nonce=%q", logPrefix, env.Op, env.Nonce))
	return nil
}

// GetOpts carries the optional parameters of a Get call. Nil uses defaults.
type GetOpts struct {
	// Timeout bounds the wait for a reply. Defaults to DefaultGetTimeout.
	Timeout time.Duration

	// RequiredIdentity restricts which instance may answer the request.
	// Empty accepts the first reply from any identity.
	RequiredIdentity string
}

// Get publishes a request and suspends until the first correlated reply
// arrives or the timeout elapses.
//
// It fails with ErrNotStarted when the dispatch loop has never been
// started, ErrClosed after Close, and ErrTimeout when no reply arrives in
// time. The pending slot is removed on every exit path, so a reply arriving
// after a timeout is simply dropped as unroutable.
func (i *IPC) Get(ctx context.Context, op string, data JSON, opts *GetOpts) (JSON, error) {
	switch i.state.Load() {
	case stateListening:
	case stateClosed:
		return nil, ErrClosed
	default:
		return nil, ErrNotStarted
	}

	timeout := DefaultGetTimeout
	requiredIdentity := ""
	if opts != nil {
		if opts.Timeout > 0 {
			timeout = opts.Timeout
		}
		requiredIdentity = opts.RequiredIdentity
	}

	nonce := newNonce()
	slot := i.pending.add(nonce)
	defer i.pending.remove(nonce)

	if err := i.Publish(ctx, op, data, &PublishOpts{Nonce: nonce, RequiredIdentity: requiredIdentity}); err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := slot.await(waitCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, ErrTimeout
		}
		return nil, err
	}
	return result, nil
}

// Start subscribes to the channel and runs the dispatch loop until ctx is
// cancelled or Close is called. It blocks for the lifetime of the loop and
// is intended to run as the process's main IPC task.
//
// Calling Start while a loop is already running is a no-op. A subscription
// failure is fatal and surfaced to the caller. Start returns nil on clean
// shutdown.
func (i *IPC) Start(ctx context.Context) error {
	switch {
	case i.state.CompareAndSwap(stateIdle, stateSubscribing):
	case i.state.Load() == stateClosed:
		return ErrClosed
	default:
		return nil
	}

	sub, err := i.transport.Subscribe(ctx, i.channel)
	if err != nil {
		i.state.Store(stateIdle)
		return fmt.Errorf("%s - subscribe to %s: %w", logPrefix, i.channel, err)
	}
	i.state.Store(stateListening)
	close(i.ready)
	slog.Info(fmt.Sprintf("%s - Listening on %s as %s", logPrefix, i.channel, i.identity))

	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			slog.Warn(fmt.Sprintf("%s - unsubscribe: %v", logPrefix, err))
		}
		i.state.Store(stateClosed)
		slog.Info(fmt.Sprintf("%s - Dispatch loop closed", logPrefix))
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-i.closing:
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			i.dispatch(ctx, msg)
		}
	}
}

// Close transitions the dispatch loop to closed. It is idempotent and safe
// to call whether or not Start has run.
func (i *IPC) Close() error {
	i.closeOnce.Do(func() {
		// Loop never started: mark closed directly.
		i.state.CompareAndSwap(stateIdle, stateClosed)
		close(i.closing)
	})
	return nil
}
