package usbio

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/term"
)

// pumpInterval bounds how long an outbound response or ^^event frame
// can sit queued while no input is arriving.
const pumpInterval = 5 * time.Millisecond

// RunInteractive puts the controlling terminal into raw mode and
// services the transport from stdin until ctx is cancelled, restoring
// the terminal on the way out. Raw mode hands line editing (backspace,
// escape) to the protocol parser, which is where the REPL wants it.
// Only called from cmd/blackbird — tests drive Service directly.
func RunInteractive(ctx context.Context, t *Transport) error {
	fd := int(os.Stdin.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("usb: raw mode: %w", err)
	}
	defer term.Restore(fd, state)

	return Service(ctx, t, os.Stdin)
}

// Service pumps the transport: bytes read from r feed the protocol
// parser, and queued responses/frames flush to the transport's writer
// on every pass. Returns when ctx is cancelled; on EOF it keeps
// flushing output so late frames still reach the host.
func Service(ctx context.Context, t *Transport, r io.Reader) error {
	in := make(chan []byte)
	go func() {
		defer close(in)
		buf := make([]byte, 256)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case in <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if err != io.EOF {
					fmt.Fprintf(os.Stderr, "usb: %v\n", err)
				}
				return
			}
		}
	}()

	tick := time.NewTicker(pumpInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-in:
			if ok {
				t.FeedBytes(chunk)
			} else {
				in = nil // EOF: output-only from here on
			}
		case <-tick.C:
		}
		t.Pump()
	}
}
