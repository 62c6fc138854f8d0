package coretest

import (
	"sync"

	"github.com/dkeye/LiveView/internal/core"
)

// Target records what the controller attached.
type Target struct {
	mu       sync.Mutex
	video    core.RemoteTrack
	audio    core.RemoteTrack
	attaches int
	detaches int
}

func NewTarget() *Target { return &Target{} }

func (t *Target) AttachVideo(tr core.RemoteTrack) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.video = tr
	t.attaches++
}

func (t *Target) DetachVideo() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.video = nil
	t.detaches++
}

func (t *Target) PlayAudio(tr core.RemoteTrack) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.audio = tr
	t.attaches++
}

func (t *Target) StopAudio() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.audio = nil
	t.detaches++
}

func (t *Target) Video() core.RemoteTrack {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.video
}

func (t *Target) Audio() core.RemoteTrack {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.audio
}

func (t *Target) Attaches() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attaches
}

var (
	_ core.RenderTarget    = (*Target)(nil)
	_ core.Transport       = (*Transport)(nil)
	_ core.TransportClient = (*Client)(nil)
	_ core.Gateway         = (*Gateway)(nil)
)
