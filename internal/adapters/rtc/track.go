package rtc

import (
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/dkeye/LiveView/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type trackKey struct {
	user domain.UserID
	kind domain.MediaKind
}

// rtpSource is the part of a pion remote track a handle reads from.
type rtpSource interface {
	ReadRTP() (*rtp.Packet, error)
	SetReadDeadline(t time.Time) error
	MimeType() string
}

type pionSource struct {
	track *webrtc.TrackRemote
}

func (s pionSource) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := s.track.ReadRTP()
	return pkt, err
}

func (s pionSource) SetReadDeadline(t time.Time) error { return s.track.SetReadDeadline(t) }
func (s pionSource) MimeType() string                  { return s.track.Codec().MimeType }

// RemoteTrack is a subscription handle on a pion remote track. Several
// handles may share one source over time; only the newest reads from it.
type RemoteTrack struct {
	key     trackKey
	src     rtpSource
	stopped atomic.Bool
}

func newRemoteTrack(key trackKey, src *webrtc.TrackRemote) *RemoteTrack {
	return newSourceTrack(key, pionSource{track: src})
}

func newSourceTrack(key trackKey, src rtpSource) *RemoteTrack {
	return &RemoteTrack{key: key, src: src}
}

func (t *RemoteTrack) User() domain.UserID    { return t.key.user }
func (t *RemoteTrack) Kind() domain.MediaKind { return t.key.kind }
func (t *RemoteTrack) MimeType() string       { return t.src.MimeType() }

// ReadRTP returns io.EOF once the handle is stopped. A read interrupted by
// another handle's Stop on the same source is retried.
func (t *RemoteTrack) ReadRTP() (*rtp.Packet, error) {
	for {
		if t.stopped.Load() {
			return nil, io.EOF
		}
		pkt, err := t.src.ReadRTP()
		if t.stopped.Load() {
			return nil, io.EOF
		}
		if err == nil {
			return pkt, nil
		}
		if !isTimeout(err) {
			return nil, err
		}
		if err := t.src.SetReadDeadline(time.Time{}); err != nil {
			return nil, err
		}
	}
}

// Stop ends the handle and wakes a reader blocked on the source.
func (t *RemoteTrack) Stop() {
	if t.stopped.Swap(true) {
		return
	}
	_ = t.src.SetReadDeadline(time.Now())
}

func (t *RemoteTrack) Stopped() bool { return t.stopped.Load() }

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
