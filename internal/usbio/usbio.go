// Package usbio is the USB-CDC transport stand-in: it assembles inbound
// bytes into protocol messages for the command mailbox, and pumps
// responses and script-emitted ^^event frames back out. On a developer
// machine the "device end" is a raw-mode terminal (see host.go); tests
// drive the same paths through plain byte feeds.
package usbio

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/blackbird-cv/blackbird/internal/mailbox"
	"github.com/blackbird-cv/blackbird/internal/repl"
)

// TxCapacity is the outbound telemetry ring's slot count. ^^event
// frames are best-effort: a full ring drops the frame and counts it,
// never blocking the script core.
const TxCapacity = 64

const txMask = TxCapacity - 1

// TxRing is the outbound USB-TX lock-free ring for script-emitted event
// frames. Single producer (the script core's tell) and single consumer
// (the transport pump).
type TxRing struct {
	buf  [TxCapacity]string
	head atomic.Uint64
	tail atomic.Uint64
	drop atomic.Uint64
}

// Push enqueues a frame, dropping it if the ring is full.
func (r *TxRing) Push(s string) bool {
	head := r.head.Load()
	if head-r.tail.Load() >= TxCapacity {
		r.drop.Add(1)
		return false
	}
	r.buf[head&txMask] = s
	r.head.Store(head + 1)
	return true
}

// Pop dequeues the oldest frame, if any.
func (r *TxRing) Pop() (string, bool) {
	tail := r.tail.Load()
	if tail >= r.head.Load() {
		return "", false
	}
	s := r.buf[tail&txMask]
	r.tail.Store(tail + 1)
	return s, true
}

// Drops returns the count of frames dropped on a full ring.
func (r *TxRing) Drops() uint64 { return r.drop.Load() }

// Transport owns the protocol parser and the three message paths:
// command mailbox in, response mailbox and TX ring out.
type Transport struct {
	parser *repl.Parser
	cmd    *mailbox.Mailbox
	resp   *mailbox.Mailbox
	tx     *TxRing

	mu      sync.Mutex
	pending []string // parsed messages awaiting a free command slot
	out     io.Writer
}

// NewTransport wires a transport to the script core's mailboxes and TX
// ring, writing outbound bytes to out.
func NewTransport(cmd, resp *mailbox.Mailbox, tx *TxRing, out io.Writer) *Transport {
	return &Transport{
		parser: repl.NewParser(),
		cmd:    cmd,
		resp:   resp,
		tx:     tx,
		out:    out,
	}
}

// FeedBytes runs inbound bytes through the protocol parser and queues
// completed messages for the command mailbox.
func (t *Transport) FeedBytes(p []byte) {
	t.mu.Lock()
	for _, b := range p {
		for _, m := range t.parser.Feed(b) {
			t.pending = append(t.pending, repl.Encode(m))
		}
	}
	t.mu.Unlock()
	t.deliver()
}

// deliver moves pending messages into the command mailbox, stopping as
// soon as the slot is occupied; Pump retries on its next pass.
func (t *Transport) deliver() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for len(t.pending) > 0 {
		if !t.cmd.TryPut(t.pending[0]) {
			return
		}
		t.pending = t.pending[1:]
	}
}

// Pump performs one transport pass: retries pending command delivery
// and drains the response mailbox and TX ring to the output writer.
// REPL responses are exact request/response; TX frames are the lossy
// best-effort log channel.
func (t *Transport) Pump() {
	t.deliver()

	if line, ok := t.resp.TryGet(); ok {
		t.writeLine(line)
	}
	for {
		frame, ok := t.tx.Pop()
		if !ok {
			break
		}
		t.writeLine(frame)
	}
}

func (t *Transport) writeLine(s string) {
	if t.out == nil {
		return
	}
	io.WriteString(t.out, s)
	io.WriteString(t.out, "\r\n")
}
