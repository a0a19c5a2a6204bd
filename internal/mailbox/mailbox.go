// Package mailbox implements the single-slot command/response handshake
// used for the text REPL between the USB-servicing transport and the
// script core.
package mailbox

import "sync"

// Mailbox holds at most one pending message at a time, with explicit
// ready/consumed flags so neither side ever spin-waits without a signal
// to wait on. It is safe for one producer and one consumer to use
// concurrently.
type Mailbox struct {
	mu      sync.Mutex
	cond    *sync.Cond
	value   string
	ready   bool
	closed  bool
}

// New returns an empty mailbox.
func New() *Mailbox {
	m := &Mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Put deposits a message, overwriting any unread one, and wakes a
// waiting Get. A plain mutex rather than lock-free atomics: the
// mailbox's read/write rate is REPL-line frequency, not per-sample.
func (m *Mailbox) Put(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = msg
	m.ready = true
	m.cond.Broadcast()
}

// TryPut deposits a message only if the previous one has been consumed,
// preserving the ready/consumed handshake for callers that must not lose
// messages (the REPL command path). Returns false when the slot is still
// occupied; the caller retries on its next pass rather than spinning.
func (m *Mailbox) TryPut(msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ready {
		return false
	}
	m.value = msg
	m.ready = true
	m.cond.Broadcast()
	return true
}

// TryGet returns the pending message without blocking, if one is ready,
// and marks it consumed.
func (m *Mailbox) TryGet() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ready {
		return "", false
	}
	v := m.value
	m.ready = false
	return v, true
}

// Get blocks until a message is ready or the mailbox is closed, then
// returns it marked consumed. It is the blocking counterpart to TryGet,
// used by the side that has nothing else to poll between messages.
func (m *Mailbox) Get() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for !m.ready && !m.closed {
		m.cond.Wait()
	}
	if !m.ready {
		return "", false
	}
	v := m.value
	m.ready = false
	return v, true
}

// Close wakes any blocked Get with a false ok, used during shutdown.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cond.Broadcast()
}
