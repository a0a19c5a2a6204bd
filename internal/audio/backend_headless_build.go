//go:build headless

package audio

// OtoBackend's headless twin: same surface, no audio device, so the
// binary builds on CI machines without ALSA/CoreAudio. The ticker
// backend paces the core instead.
type OtoBackend struct {
	core *Core
}

func NewOtoBackend(sampleRate int, core *Core) (*OtoBackend, error) {
	return &OtoBackend{core: core}, nil
}

func (b *OtoBackend) Read(p []byte) (int, error) {
	return len(p), nil
}

func (b *OtoBackend) Start() {}

func (b *OtoBackend) Stop() {}
