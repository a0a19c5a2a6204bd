package audio

import (
	"context"
	"time"
)

// RunTicker paces the core from the wall clock instead of an audio
// device: one block per block-duration. Used with -headless, where
// sample-accurate relative timing matters but no DAC exists. Returns
// when ctx is cancelled.
func RunTicker(ctx context.Context, core *Core, sampleRate float64) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		began := time.Now()
		n := core.RenderBlock()
		d := time.Duration(float64(n) / sampleRate * float64(time.Second))
		elapsed := time.Since(began)
		if elapsed >= d {
			core.NoteOverrun()
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d - elapsed):
		}
	}
}
