// Package sink is where a viewer's media ends up: one relay per media kind
// fanning RTP out to a packet counter and, optionally, a recorder.
package sink

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dkeye/LiveView/internal/core"
	"github.com/dkeye/LiveView/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	outStats    = "stats"
	outRecorder = "recorder"
)

type attached struct {
	relay     *Relay
	counter   *Counter
	recording string
}

type Options struct {
	// Name tags logs and recording files.
	Name string
	// RecordDir enables recording when non-empty.
	RecordDir string
}

// Target implements core.RenderTarget for a headless viewer.
type Target struct {
	opts     Options
	attaches atomic.Uint64

	mu     sync.Mutex
	kinds  map[domain.MediaKind]*attached
	muted  bool
	closed bool
}

func NewTarget(opts Options) *Target {
	return &Target{
		opts:  opts,
		kinds: make(map[domain.MediaKind]*attached),
	}
}

func (t *Target) AttachVideo(tr core.RemoteTrack) { t.attach(domain.MediaVideo, tr) }
func (t *Target) DetachVideo()                    { t.detach(domain.MediaVideo) }
func (t *Target) PlayAudio(tr core.RemoteTrack)   { t.attach(domain.MediaAudio, tr) }
func (t *Target) StopAudio()                      { t.detach(domain.MediaAudio) }

func (t *Target) attach(kind domain.MediaKind, tr core.RemoteTrack) {
	logger := log.With().
		Str("module", "sink").
		Str("viewer", t.opts.Name).
		Str("kind", string(kind)).
		Str("user", string(tr.User())).
		Logger()

	ctx, cancel := context.WithCancel(context.Background())
	relay := NewRelay(tr, cancel)
	a := &attached{relay: relay, counter: &Counter{}}
	relay.AddOutTrack(outStats, NewOutTrack(a.counter))

	if t.opts.RecordDir != "" {
		rec, path, ok, err := openRecorder(t.opts.RecordDir, t.opts.Name, tr.User(), tr.MimeType(), t.attaches.Add(1))
		switch {
		case err != nil:
			logger.Error().Err(err).Msg("recorder unavailable")
		case !ok:
			logger.Info().Str("mime", tr.MimeType()).Msg("no recorder for codec")
		default:
			relay.AddOutTrack(outRecorder, NewOutTrack(rec))
			a.recording = path
		}
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		cancel()
		relay.loop(ctx, &logger)
		return
	}
	if old, ok := t.kinds[kind]; ok {
		logger.Info().Msg("replacing existing relay")
		old.relay.Stop()
	}
	t.kinds[kind] = a
	if kind == domain.MediaAudio && t.muted {
		if ot, ok := relay.OutTrack(outRecorder); ok {
			ot.MarkMuted()
		}
	}
	t.mu.Unlock()

	logger.Info().Str("mime", tr.MimeType()).Str("recording", a.recording).Msg("starting relay loop")
	go relay.loop(ctx, &logger)
}

func (t *Target) detach(kind domain.MediaKind) {
	t.mu.Lock()
	a, ok := t.kinds[kind]
	delete(t.kinds, kind)
	t.mu.Unlock()
	if !ok {
		return
	}
	a.relay.Stop()
	log.Info().Str("module", "sink").Str("viewer", t.opts.Name).Str("kind", string(kind)).Msg("relay detached")
}

// SetAudioMuted pauses audio recording. Packets are still counted.
func (t *Target) SetAudioMuted(muted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.muted = muted
	a, ok := t.kinds[domain.MediaAudio]
	if !ok {
		return
	}
	if ot, ok := a.relay.OutTrack(outRecorder); ok {
		if muted {
			ot.MarkMuted()
		} else {
			ot.MarkOk()
		}
	}
}

func (t *Target) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	var s Stats
	for kind, a := range t.kinds {
		ks := &KindStats{
			User:      string(a.relay.Src.User()),
			MimeType:  a.relay.Src.MimeType(),
			Packets:   a.counter.Packets(),
			Bytes:     a.counter.Bytes(),
			Recording: a.recording,
		}
		switch kind {
		case domain.MediaVideo:
			s.Video = ks
		case domain.MediaAudio:
			ks.Muted = t.muted
			s.Audio = ks
		}
	}
	return s
}

// Close detaches everything; later attaches are dropped.
func (t *Target) Close() {
	t.mu.Lock()
	t.closed = true
	kinds := t.kinds
	t.kinds = make(map[domain.MediaKind]*attached)
	t.mu.Unlock()
	for _, a := range kinds {
		a.relay.Stop()
	}
}

var _ core.RenderTarget = (*Target)(nil)
