//go:build !headless

package audio

import (
	"encoding/binary"
	"math"

	"github.com/ebitengine/oto/v3"
)

// OtoBackend paces the audio core from the OS audio clock: oto's player
// pulls mono float32 frames through Read, and each frame pulled
// advances the core by exactly one sample. The core is bound at
// construction and never swapped, so Read carries no synchronisation at
// all — it is only ever called from oto's playback goroutine.
type OtoBackend struct {
	ctx    *oto.Context
	player *oto.Player
	core   *Core
}

// NewOtoBackend opens the OS audio device at sampleRate and binds it to
// core. The device is not started until Start.
func NewOtoBackend(sampleRate int, core *Core) (*OtoBackend, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatFloat32LE,
	})
	if err != nil {
		return nil, err
	}
	<-ready

	b := &OtoBackend{ctx: ctx, core: core}
	b.player = ctx.NewPlayer(b)
	return b, nil
}

// Read encodes monitor-mix samples directly into the device buffer,
// little-endian float32, one frame at a time. Partial trailing frames
// are left for the next callback rather than zero-padded, so the
// sample stream never tears mid-frame.
func (b *OtoBackend) Read(p []byte) (int, error) {
	n := len(p) &^ 3 // whole float32 frames only
	for off := 0; off < n; off += 4 {
		bits := math.Float32bits(b.core.NextSample())
		binary.LittleEndian.PutUint32(p[off:off+4], bits)
	}
	return n, nil
}

// Start begins playback; the core advances from here on.
func (b *OtoBackend) Start() {
	b.player.Play()
}

// Stop halts playback and releases the player.
func (b *OtoBackend) Stop() {
	b.player.Close()
}
