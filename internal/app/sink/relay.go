package sink

import (
	"context"
	"maps"
	"sync"

	"github.com/dkeye/LiveView/internal/core"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

type Relay struct {
	Src core.RemoteTrack

	mu        sync.RWMutex
	outTracks map[string]*OutTrack

	cancel context.CancelFunc
	done   chan struct{}
}

func NewRelay(src core.RemoteTrack, cancel context.CancelFunc) *Relay {
	return &Relay{
		Src:       src,
		outTracks: make(map[string]*OutTrack),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// loop reads RTP packets from the source track and forwards them to all OutTracks.
func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) {
	defer close(r.done)
	defer r.closeAll(logger)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done")
			return
		default:
		}
		pkt, err := r.Src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("relay source ended")
			return
		}
		if ctx.Err() != nil {
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := make(map[string]*OutTrack, len(r.outTracks))
	maps.Copy(snapshot, r.outTracks)
	r.mu.RUnlock()

	dirty := make([]string, 0, len(snapshot))
	for name, ot := range snapshot {
		switch ot.GetState() {
		case TrackStateDelete:
			dirty = append(dirty, name)
		case TrackStateMuted:
		case TrackStateOk:
			if err := ot.W.WriteRTP(pkt); err != nil {
				logger.Error().
					Err(err).
					Str("out", name).
					Msg("relay write RTP error, marking outtrack as delete")
				ot.MarkDelete()
				dirty = append(dirty, name)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty, logger)
	}
}

func (r *Relay) cleanupDeleted(dirty []string, logger *zerolog.Logger) {
	r.mu.Lock()
	removed := make([]*OutTrack, 0, len(dirty))
	for _, name := range dirty {
		if ot, ok := r.outTracks[name]; ok {
			removed = append(removed, ot)
			delete(r.outTracks, name)
		}
	}
	r.mu.Unlock()
	for _, ot := range removed {
		if err := ot.close(); err != nil {
			logger.Error().Err(err).Msg("close outtrack")
		}
	}
}

func (r *Relay) closeAll(logger *zerolog.Logger) {
	r.mu.Lock()
	outs := r.outTracks
	r.outTracks = make(map[string]*OutTrack)
	r.mu.Unlock()
	for name, ot := range outs {
		ot.MarkDelete()
		if err := ot.close(); err != nil {
			logger.Error().Err(err).Str("out", name).Msg("close outtrack")
		}
	}
}

func (r *Relay) AddOutTrack(name string, ot *OutTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outTracks[name] = ot
}

func (r *Relay) OutTrack(name string) (*OutTrack, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ot, ok := r.outTracks[name]
	return ot, ok
}

// Stop cancels the loop. The loop exits on the next packet or when the
// source ends; Done reports that.
func (r *Relay) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Relay) Done() <-chan struct{} { return r.done }
