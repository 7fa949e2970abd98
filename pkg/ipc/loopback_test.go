package ipc

import (
	"context"
	"sync"
	"testing"
)

// loopbackTransport delivers every published payload to all local
// subscribers, mimicking pub/sub fan-out (including echo of one's own
// messages) within a single process.
type loopbackTransport struct {
	mu        sync.Mutex
	subs      []*loopbackSub
	published [][]byte
}

func newLoopbackTransport() *loopbackTransport {
	return &loopbackTransport{}
}

func (t *loopbackTransport) Publish(_ context.Context, _ string, payload []byte) error {
	t.inject(Message{Type: MessageData, Payload: payload})
	t.mu.Lock()
	t.published = append(t.published, payload)
	t.mu.Unlock()
	return nil
}

// inject delivers an arbitrary raw message to all subscribers, data or not.
func (t *loopbackTransport) inject(msg Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.subs {
		s.msgs <- msg
	}
}

func (t *loopbackTransport) Subscribe(_ context.Context, _ string) (Subscription, error) {
	s := &loopbackSub{t: t, msgs: make(chan Message, 256)}
	t.mu.Lock()
	t.subs = append(t.subs, s)
	t.mu.Unlock()
	return s, nil
}

// publishedEnvelopes decodes everything published so far.
func (t *loopbackTransport) publishedEnvelopes() []*Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	var envs []*Envelope
	for _, p := range t.published {
		if env, err := DecodeEnvelope(p); err == nil {
			envs = append(envs, env)
		}
	}
	return envs
}

type loopbackSub struct {
	t    *loopbackTransport
	msgs chan Message
	once sync.Once
}

func (s *loopbackSub) Messages() <-chan Message { return s.msgs }

func (s *loopbackSub) Unsubscribe() error {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	for n, sub := range s.t.subs {
		if sub == s {
			s.t.subs = append(s.t.subs[:n], s.t.subs[n+1:]...)
			break
		}
	}
	// No publisher can reach the channel anymore; safe to close.
	s.once.Do(func() { close(s.msgs) })
	return nil
}

// startInstance creates an IPC instance on the shared transport, runs its
// dispatch loop in the background and blocks until it is listening.
// Shutdown is registered as test cleanup.
func startInstance(t *testing.T, tr *loopbackTransport, opts *Options) *IPC {
	t.Helper()

	inst := New(tr, opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- inst.Start(ctx) }()

	select {
	case <-inst.Ready():
	case err := <-done:
		cancel()
		t.Fatalf("dispatch loop failed to start: %v", err)
	}

	t.Cleanup(func() {
		inst.Close()
		cancel()
		if err := <-done; err != nil {
			t.Errorf("dispatch loop exited with error: %v", err)
		}
	})
	return inst
}
