package ipc

import "context"

// MessageData marks payload-carrying transport messages. The dispatch loop
// skips everything else (subscription acknowledgements and other
// transport-level control traffic).
const MessageData = "data"

// Message is one delivery from a channel subscription.
type Message struct {
	Type    string
	Payload []byte
}

// Subscription iterates messages delivered on a channel.
type Subscription interface {
	// Messages returns the delivery channel. It is closed when the
	// subscription ends.
	Messages() <-chan Message

	// Unsubscribe tears the subscription down. Safe to call more than
	// once.
	Unsubscribe() error
}

// Transport is the pub/sub boundary the IPC layer runs on. Publishing
// fans a payload out to every instance currently subscribed to the channel.
type Transport interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}
