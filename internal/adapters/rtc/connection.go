package rtc

import (
	"context"

	"github.com/dkeye/LiveView/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// peerConn is the receive-only PeerConnection behind one transport client.
type peerConn struct {
	pc  *webrtc.PeerConnection
	cid string

	onTrack func(track *webrtc.TrackRemote)
	onLost  func(state webrtc.PeerConnectionState)
}

func DefaultWebRTCConfig(iceURLs []string) webrtc.Configuration {
	if len(iceURLs) == 0 {
		iceURLs = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: iceURLs,
			},
		},
	}
}

func newPeerConn(cfg webrtc.Configuration, cid string) (*peerConn, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	p := &peerConn{pc: pc, cid: cid}
	if err := p.addRecvOnlyTransceivers(); err != nil {
		_ = pc.Close()
		return nil, err
	}
	p.bind()
	return p, nil
}

// addRecvOnlyTransceivers makes the offer carry video and audio m-lines
// even though this side never sends media.
func (p *peerConn) addRecvOnlyTransceivers() error {
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		if _, err := p.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (p *peerConn) bind() {
	p.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "webrtc").Str("client", p.cid).Str("ice_state", s.String()).Msg("ICE state")
	})

	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("client", p.cid).Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed {
			if p.onLost != nil {
				p.onLost(s)
			}
		}
	})

	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("client", p.cid).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if p.onTrack != nil {
			p.onTrack(track)
		}
	})
}

// createOffer sets the local offer and waits until ICE gathering completes
// so the SDP carries every candidate.
func (p *peerConn) createOffer(ctx context.Context) (*webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return nil, domain.FromContext(ctx.Err())
	}
	return p.pc.LocalDescription(), nil
}

func (p *peerConn) applyAnswer(sdp string) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
}

func (p *peerConn) addICECandidate(ci webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(ci)
}

func (p *peerConn) close() error {
	err := p.pc.Close()
	if err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("client", p.cid).Msg("close error")
	} else {
		log.Info().Str("module", "webrtc").Str("client", p.cid).Msg("closed")
	}
	return err
}

func mediaKindOf(k webrtc.RTPCodecType) (domain.MediaKind, bool) {
	switch k {
	case webrtc.RTPCodecTypeVideo:
		return domain.MediaVideo, true
	case webrtc.RTPCodecTypeAudio:
		return domain.MediaAudio, true
	}
	return "", false
}
