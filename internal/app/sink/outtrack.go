package sink

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
	TrackStateDelete
)

// PacketWriter is anything a relay can feed: recorders, counters, local
// tracks.
type PacketWriter interface {
	WriteRTP(pkt *rtp.Packet) error
}

// OutTrack is one destination of a relay.
type OutTrack struct {
	W     PacketWriter
	state atomic.Int32 // Zero by default (TrackStateOk)
	once  sync.Once
}

func NewOutTrack(w PacketWriter) *OutTrack {
	return &OutTrack{W: w}
}

func (ot *OutTrack) GetState() TrackState {
	return TrackState(ot.state.Load())
}

func (ot *OutTrack) MarkOk() {
	ot.state.CompareAndSwap(int32(TrackStateMuted), int32(TrackStateOk))
}

func (ot *OutTrack) MarkMuted() {
	ot.state.CompareAndSwap(int32(TrackStateOk), int32(TrackStateMuted))
}

func (ot *OutTrack) MarkDelete() {
	ot.state.Store(int32(TrackStateDelete))
}

// close releases the writer if it holds a file or similar.
func (ot *OutTrack) close() error {
	var err error
	ot.once.Do(func() {
		if c, ok := ot.W.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}
