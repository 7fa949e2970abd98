package commsbus

import (
	"context"
	"fmt"
	"sync"

	comms "github.com/nats-io/nats.go"

	"github.com/chanlink/comms-ipc/pkg/ipc"
)

const busLogPrefix = "commsbus:bus"

// subscribeBuffer sizes the per-subscription delivery channels.
const subscribeBuffer = 256

// Bus implements ipc.Transport over a COMMS connection. Every payload
// published to a channel fans out to all currently subscribed instances.
type Bus struct {
	nc *comms.Conn
}

// NewBus wraps an existing COMMS connection.
func NewBus(nc *comms.Conn) *Bus {
	return &Bus{nc: nc}
}

// Publish sends one payload to the channel.
func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	if err := b.nc.Publish(channel, payload); err != nil {
		return fmt.Errorf("%s - publish to %s: %w", busLogPrefix, channel, err)
	}
	return nil
}

// Subscribe opens a channel subscription and pumps deliveries into
// ipc.Message form until Unsubscribe is called.
func (b *Bus) Subscribe(_ context.Context, channel string) (ipc.Subscription, error) {
	inbox := make(chan *comms.Msg, subscribeBuffer)
	sub, err := b.nc.ChanSubscribe(channel, inbox)
	if err != nil {
		return nil, fmt.Errorf("%s - subscribe to %s: %w", busLogPrefix, channel, err)
	}

	s := &subscription{
		sub:  sub,
		out:  make(chan ipc.Message, subscribeBuffer),
		stop: make(chan struct{}),
	}
	go s.pump(inbox)
	return s, nil
}

type subscription struct {
	sub      *comms.Subscription
	out      chan ipc.Message
	stop     chan struct{}
	stopOnce sync.Once
}

// pump converts broker deliveries to transport messages. COMMS has no
// client-visible control traffic, so everything it delivers is data.
func (s *subscription) pump(inbox <-chan *comms.Msg) {
	defer close(s.out)
	for {
		select {
		case <-s.stop:
			return
		case msg, ok := <-inbox:
			if !ok {
				return
			}
			select {
			case s.out <- ipc.Message{Type: ipc.MessageData, Payload: msg.Data}:
			case <-s.stop:
				return
			}
		}
	}
}

func (s *subscription) Messages() <-chan ipc.Message { return s.out }

func (s *subscription) Unsubscribe() error {
	var err error
	s.stopOnce.Do(func() {
		err = s.sub.Unsubscribe()
		close(s.stop)
	})
	return err
}
