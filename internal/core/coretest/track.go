package coretest

import (
	"io"
	"sync"

	"github.com/dkeye/LiveView/internal/core"
	"github.com/dkeye/LiveView/internal/domain"
	"github.com/pion/rtp"
)

// Track is a core.RemoteTrack fed by Push.
type Track struct {
	user    domain.UserID
	kind    domain.MediaKind
	mime    string
	packets chan *rtp.Packet
	stop    chan struct{}
	once    sync.Once
}

func NewTrack(user domain.UserID, kind domain.MediaKind) *Track {
	mime := "video/VP8"
	if kind == domain.MediaAudio {
		mime = "audio/opus"
	}
	return &Track{
		user:    user,
		kind:    kind,
		mime:    mime,
		packets: make(chan *rtp.Packet, 64),
		stop:    make(chan struct{}),
	}
}

func (t *Track) User() domain.UserID    { return t.user }
func (t *Track) Kind() domain.MediaKind { return t.kind }
func (t *Track) MimeType() string       { return t.mime }

// Push queues a packet for ReadRTP.
func (t *Track) Push(pkt *rtp.Packet) {
	select {
	case t.packets <- pkt:
	case <-t.stop:
	}
}

func (t *Track) ReadRTP() (*rtp.Packet, error) {
	select {
	case <-t.stop:
		return nil, io.EOF
	default:
	}
	select {
	case pkt := <-t.packets:
		return pkt, nil
	case <-t.stop:
		return nil, io.EOF
	}
}

func (t *Track) Stop() { t.once.Do(func() { close(t.stop) }) }

func (t *Track) Stopped() bool {
	select {
	case <-t.stop:
		return true
	default:
		return false
	}
}

var _ core.RemoteTrack = (*Track)(nil)
