package tests

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/chanlink/comms-ipc/pkg/commsbus"
	"github.com/chanlink/comms-ipc/pkg/ipc"
)

const e2eTestPrefix = "tests:e2e_test"

// startBroker runs an embedded COMMS server on a random port and returns
// its client URL.
func startBroker(t *testing.T) string {
	t.Helper()
	ns, err := commsbus.StartEmbeddedServer("127.0.0.1", -1)
	if err != nil {
		t.Fatalf("%s - failed to start embedded server: %v", e2eTestPrefix, err)
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns.ClientURL()
}

// startPeer connects a fresh IPC instance to the broker and waits until its
// dispatch loop is listening.
func startPeer(t *testing.T, url, channel string, opts *ipc.Options) *ipc.IPC {
	t.Helper()

	nc, err := commsbus.Connect(url, "e2e-peer", nil)
	if err != nil {
		t.Fatalf("%s - connect failed: %v", e2eTestPrefix, err)
	}
	t.Cleanup(nc.Close)

	if opts == nil {
		opts = &ipc.Options{}
	}
	opts.Channel = channel
	inst := ipc.New(commsbus.NewBus(nc), opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- inst.Start(ctx) }()
	select {
	case <-inst.Ready():
	case err := <-done:
		cancel()
		t.Fatalf("%s - dispatch loop failed to start: %v", e2eTestPrefix, err)
	}
	// Make sure the broker has acknowledged the subscription before peers
	// start publishing.
	if err := nc.Flush(); err != nil {
		t.Fatalf("%s - flush failed: %v", e2eTestPrefix, err)
	}

	t.Cleanup(func() {
		inst.Close()
		cancel()
		<-done
	})
	return inst
}

func TestE2E_PingPong(t *testing.T) {
	url := startBroker(t)
	channel := commsbus.BuildChannel("e2e", "pingpong")

	a := startPeer(t, url, channel, &ipc.Options{Identity: "a"})
	startPeer(t, url, channel, &ipc.Options{
		Identity: "b",
		Handlers: map[string]ipc.Handler{
			"ping": func(context.Context, ipc.JSON) (ipc.JSON, error) {
				return map[string]ipc.JSON{"pong": true}, nil
			},
		},
	})

	result, err := a.Get(context.Background(), "ping", map[string]ipc.JSON{}, &ipc.GetOpts{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("%s - get failed: %v", e2eTestPrefix, err)
	}
	want := map[string]interface{}{"pong": true}
	if !reflect.DeepEqual(result, want) {
		t.Fatalf("%s - expected %v, got %v", e2eTestPrefix, want, result)
	}
}

func TestE2E_UnknownOperationTimesOut(t *testing.T) {
	url := startBroker(t)
	channel := commsbus.BuildChannel("e2e", "timeout")

	a := startPeer(t, url, channel, &ipc.Options{Identity: "a"})
	startPeer(t, url, channel, &ipc.Options{Identity: "b"})

	start := time.Now()
	_, err := a.Get(context.Background(), "unknown", map[string]ipc.JSON{}, &ipc.GetOpts{Timeout: time.Second})
	if !errors.Is(err, ipc.ErrTimeout) {
		t.Fatalf("%s - expected ErrTimeout, got %v", e2eTestPrefix, err)
	}
	if elapsed := time.Since(start); elapsed < time.Second || elapsed > 3*time.Second {
		t.Errorf("%s - timeout took %v, expected about 1s", e2eTestPrefix, elapsed)
	}
}

func TestE2E_RequiredIdentity(t *testing.T) {
	url := startBroker(t)
	channel := commsbus.BuildChannel("e2e", "identity")

	a := startPeer(t, url, channel, &ipc.Options{Identity: "a"})
	whoami := func(identity string) ipc.Handler {
		return func(context.Context, ipc.JSON) (ipc.JSON, error) { return identity, nil }
	}
	startPeer(t, url, channel, &ipc.Options{Identity: "b1", Handlers: map[string]ipc.Handler{"whoami": whoami("b1")}})
	startPeer(t, url, channel, &ipc.Options{Identity: "b2", Handlers: map[string]ipc.Handler{"whoami": whoami("b2")}})

	result, err := a.Get(context.Background(), "whoami", nil, &ipc.GetOpts{
		Timeout:          5 * time.Second,
		RequiredIdentity: "b2",
	})
	if err != nil {
		t.Fatalf("%s - get failed: %v", e2eTestPrefix, err)
	}
	if result != "b2" {
		t.Fatalf("%s - expected reply from b2, got %v", e2eTestPrefix, result)
	}
}

func TestE2E_BroadcastReachesAllPeers(t *testing.T) {
	url := startBroker(t)
	channel := commsbus.BuildChannel("e2e", "broadcast")

	a := startPeer(t, url, channel, &ipc.Options{Identity: "a"})
	seen := make(chan string, 2)
	note := func(identity string) ipc.Handler {
		return func(context.Context, ipc.JSON) (ipc.JSON, error) {
			seen <- identity
			return nil, nil
		}
	}
	startPeer(t, url, channel, &ipc.Options{Identity: "b1", Handlers: map[string]ipc.Handler{"note": note("b1")}})
	startPeer(t, url, channel, &ipc.Options{Identity: "b2", Handlers: map[string]ipc.Handler{"note": note("b2")}})

	if err := a.Publish(context.Background(), "note", map[string]ipc.JSON{"text": "hi"}, nil); err != nil {
		t.Fatalf("%s - publish failed: %v", e2eTestPrefix, err)
	}

	got := map[string]bool{}
	for n := 0; n < 2; n++ {
		select {
		case identity := <-seen:
			got[identity] = true
		case <-time.After(5 * time.Second):
			t.Fatalf("%s - broadcast reached %d of 2 peers", e2eTestPrefix, n)
		}
	}
	if !got["b1"] || !got["b2"] {
		t.Fatalf("%s - expected both peers to see the broadcast, got %v", e2eTestPrefix, got)
	}
}
