package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

const dispatchLogPrefix = "ipc:dispatch"

// dispatch processes one raw transport message: control messages are
// skipped, replies resolve pending calls, requests are routed to a handler
// goroutine. A single bad message never stops the loop.
func (i *IPC) dispatch(ctx context.Context, msg Message) {
	if msg.Type != MessageData {
		return
	}

	env, err := DecodeEnvelope(msg.Payload)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to decode envelope: %v", dispatchLogPrefix, err))
		return
	}
	slog.Debug(fmt.Sprintf("%s - Received op=%q nonce=%q sender=%s",
		dispatchLogPrefix, env.Op, env.Nonce, env.Sender))

	// Unsolicited reply addressed to one of our outstanding calls. Our own
	// replies fan back out to us as well; the sender check keeps an
	// instance from consuming a reply it produced itself.
	if env.IsReply() && env.Sender != i.identity {
		if i.pending.resolve(env.Nonce, env.Data) {
			return
		}
		// Unknown nonce: a late or stale reply. It has no handler either,
		// so it drops below as unroutable.
	}

	handler := i.registry.lookup(env.Op)
	if handler == nil {
		slog.Debug(fmt.Sprintf("%s - No handler for op=%q, dropping", dispatchLogPrefix, env.Op))
		return
	}
	if env.RequiredIdentity != "" && env.RequiredIdentity != i.identity {
		slog.Debug(fmt.Sprintf("%s - op=%q requires identity %s, dropping",
			dispatchLogPrefix, env.Op, env.RequiredIdentity))
		return
	}

	go i.runHandler(ctx, handler, env)
}

// runHandler invokes one handler in its own goroutine, so a slow handler
// never blocks delivery of subsequent messages, and publishes the reply
// when the request asked for one.
func (i *IPC) runHandler(ctx context.Context, handler Handler, env *Envelope) {
	defer func() {
		if r := recover(); r != nil {
			i.handlerFault(fmt.Errorf("%s - handler for op=%q panicked: %v",
				dispatchLogPrefix, env.Op, r), env.Data)
		}
	}()

	result, err := handler(ctx, env.Data)
	if err != nil {
		// Cancellation of the invocation is swallowed.
		if errors.Is(err, context.Canceled) {
			return
		}
		i.handlerFault(fmt.Errorf("%s - handler for op=%q: %w", dispatchLogPrefix, env.Op, err), env.Data)
		return
	}

	if env.Nonce == "" || isEmptyResult(result) {
		return
	}
	reply := &Envelope{Nonce: env.Nonce, Sender: i.identity, Data: result}
	if err := i.send(ctx, reply); err != nil {
		i.handlerFault(err, env.Data)
	}
}

// handlerFault routes a handler failure to the configured error handler,
// or reports it as the unhandled fault of this invocation. It never
// propagates into the dispatch loop.
func (i *IPC) handlerFault(err error, data JSON) {
	if i.errh != nil {
		i.errh(err, data)
		return
	}
	slog.Error(fmt.Sprintf("%s - unhandled handler error: %v", dispatchLogPrefix, err))
}

// isEmptyResult reports whether a handler result suppresses the reply:
// nil, false, zero numbers, and empty strings, maps and slices do.
func isEmptyResult(v JSON) bool {
	switch val := v.(type) {
	case nil:
		return true
	case bool:
		return !val
	case string:
		return val == ""
	case float64:
		return val == 0
	case int:
		return val == 0
	case int64:
		return val == 0
	case []JSON:
		return len(val) == 0
	case map[string]JSON:
		return len(val) == 0
	default:
		return false
	}
}
