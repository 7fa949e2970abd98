package ipc

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
)

// resultSlot is a single-assignment future. It is resolved exactly once;
// duplicate resolutions are silently ignored.
type resultSlot struct {
	done chan struct{}
	once sync.Once

	mu   sync.Mutex
	data JSON
}

func newResultSlot() *resultSlot {
	return &resultSlot{done: make(chan struct{})}
}

// resolve completes the slot. Late or duplicate calls are no-ops.
func (s *resultSlot) resolve(data JSON) {
	s.once.Do(func() {
		s.mu.Lock()
		s.data = data
		s.mu.Unlock()
		close(s.done)
	})
}

// await blocks until the slot is resolved or ctx ends, whichever happens
// first.
func (s *resultSlot) await(ctx context.Context) (JSON, error) {
	select {
	case <-s.done:
		s.mu.Lock()
		d := s.data
		s.mu.Unlock()
		return d, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// pendingTable maps correlation nonces to unresolved result slots. Entries
// are created immediately before a request is published and removed on
// every exit path of the call that registered them.
type pendingTable struct {
	mu    sync.Mutex
	slots map[string]*resultSlot
}

func newPendingTable() *pendingTable {
	return &pendingTable{slots: make(map[string]*resultSlot)}
}

func (t *pendingTable) add(nonce string) *resultSlot {
	slot := newResultSlot()
	t.mu.Lock()
	t.slots[nonce] = slot
	t.mu.Unlock()
	return slot
}

func (t *pendingTable) remove(nonce string) {
	t.mu.Lock()
	delete(t.slots, nonce)
	t.mu.Unlock()
}

// resolve completes the slot registered under nonce. It reports false when
// the nonce is unknown, so late or stale replies fall through as
// unroutable.
func (t *pendingTable) resolve(nonce string, data JSON) bool {
	t.mu.Lock()
	slot, ok := t.slots[nonce]
	t.mu.Unlock()
	if !ok {
		return false
	}
	slot.resolve(data)
	return true
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}

// newNonce returns a 32-character random hex token. 128 bits of entropy
// keeps the collision probability negligible over a process lifetime.
func newNonce() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failure is unrecoverable
		panic(err)
	}
	return hex.EncodeToString(b)
}
