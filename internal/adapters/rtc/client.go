// Package rtc is the media transport used by viewer sessions: a receive-only
// pion PeerConnection negotiated over a websocket signaling channel.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/LiveView/internal/core"
	"github.com/dkeye/LiveView/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const defaultLeaveWait = 2 * time.Second

type Config struct {
	SignalURL        string
	ICEServers       []string
	HandshakeTimeout time.Duration
	ReadLimit        int64
}

// Transport implements core.Transport.
type Transport struct {
	cfg    Config
	dialer *websocket.Dialer
	rtc    webrtc.Configuration
}

func NewTransport(cfg Config) *Transport {
	handshake := cfg.HandshakeTimeout
	if handshake <= 0 {
		handshake = 10 * time.Second
	}
	return &Transport{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: handshake},
		rtc:    DefaultWebRTCConfig(cfg.ICEServers),
	}
}

func (t *Transport) CreateClient(mode core.ClientMode) (core.TransportClient, error) {
	return t.newClient(mode)
}

func (t *Transport) newClient(mode core.ClientMode) (*Client, error) {
	cid := uuid.NewString()
	pc, err := newPeerConn(t.rtc, cid)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	c := &Client{
		id:        cid,
		mode:      mode,
		cfg:       t.cfg,
		dialer:    t.dialer,
		pc:        pc,
		listeners: newListeners(),
		published: make(map[trackKey]*webrtc.TrackRemote),
		subs:      make(map[trackKey]*RemoteTrack),
		replies:   make(chan signalMessage, 4),
		left:      make(chan struct{}),
	}
	pc.onTrack = c.onTrack
	pc.onLost = c.onPeerLost
	log.Info().Str("module", "rtc").Str("client", cid).Str("mode", string(mode)).Msg("client created")
	return c, nil
}

type clientState int

const (
	stateIdle clientState = iota
	stateJoining
	stateJoined
	stateLeft
)

// Client implements core.TransportClient.
type Client struct {
	id     string
	mode   core.ClientMode
	cfg    Config
	dialer *websocket.Dialer
	pc     *peerConn

	listeners *listeners

	mu        sync.Mutex
	state     clientState
	sig       *signalConn
	published map[trackKey]*webrtc.TrackRemote
	subs      map[trackKey]*RemoteTrack

	replies   chan signalMessage
	left      chan struct{}
	leaveOnce sync.Once
}

func (c *Client) ID() string { return c.id }

func (c *Client) Join(ctx context.Context, p core.JoinParams) error {
	c.mu.Lock()
	switch c.state {
	case stateLeft:
		c.mu.Unlock()
		return domain.ErrAborted
	case stateJoining, stateJoined:
		c.mu.Unlock()
		return fmt.Errorf("%w: client already joined", domain.ErrJoin)
	}
	c.state = stateJoining
	c.mu.Unlock()

	logger := log.With().
		Str("module", "rtc").
		Str("client", c.id).
		Str("channel", p.Channel).
		Logger()

	rawURL, err := signalURL(c.cfg.SignalURL, p.AppID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrJoin, err)
	}
	sig, err := dialSignal(ctx, c.dialer, rawURL, c.cfg.ReadLimit)
	if err != nil {
		return c.joinError(ctx, "dial signaling", err)
	}

	c.mu.Lock()
	if c.state == stateLeft {
		c.mu.Unlock()
		sig.Close()
		return domain.ErrAborted
	}
	c.sig = sig
	c.mu.Unlock()
	go c.readLoop(sig)

	if err := sig.send(signalMessage{
		Type:    "join",
		Mode:    string(c.mode),
		Channel: p.Channel,
		Token:   p.Token,
		UID:     p.ViewerID,
	}); err != nil {
		return c.joinError(ctx, "send join", err)
	}
	if _, err := c.await(ctx, "joined"); err != nil {
		return err
	}
	logger.Info().Msg("joined channel, negotiating")

	offer, err := c.pc.createOffer(ctx)
	if err != nil {
		return c.joinError(ctx, "create offer", err)
	}
	if err := sig.send(signalMessage{Type: "offer", SDP: offer.SDP}); err != nil {
		return c.joinError(ctx, "send offer", err)
	}
	answer, err := c.await(ctx, "answer")
	if err != nil {
		return err
	}
	if err := c.pc.applyAnswer(answer.SDP); err != nil {
		return c.joinError(ctx, "apply answer", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateLeft {
		return domain.ErrAborted
	}
	c.state = stateJoined
	logger.Info().Msg("join complete")
	return nil
}

// await blocks for the next reply from the signaling server.
func (c *Client) await(ctx context.Context, want string) (signalMessage, error) {
	select {
	case <-ctx.Done():
		return signalMessage{}, c.joinError(ctx, "await "+want, ctx.Err())
	case <-c.left:
		return signalMessage{}, domain.ErrAborted
	case msg, ok := <-c.replies:
		if !ok {
			return signalMessage{}, c.joinError(ctx, "await "+want, errors.New("signaling closed"))
		}
		if msg.Type == "error" {
			return msg, fmt.Errorf("%w: %s", domain.ErrJoin, msg.Reason)
		}
		if msg.Type != want {
			return msg, fmt.Errorf("%w: expected %s, got %s", domain.ErrJoin, want, msg.Type)
		}
		return msg, nil
	}
}

// joinError normalizes a failed join step: a leave or a cancelled ctx wins
// over whatever the step itself reported.
func (c *Client) joinError(ctx context.Context, step string, err error) error {
	if c.isLeft() {
		return domain.ErrAborted
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %s", domain.FromContext(ctxErr), step)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrJoin, step, err)
}

func (c *Client) isLeft() bool {
	select {
	case <-c.left:
		return true
	default:
		return false
	}
}

func (c *Client) readLoop(sig *signalConn) {
	logger := log.With().Str("module", "rtc").Str("client", c.id).Logger()
	defer close(c.replies)

	for {
		msg, err := sig.read()
		if errors.Is(err, errBadSignal) {
			logger.Warn().Err(err).Msg("ignoring signal message")
			continue
		}
		if err != nil {
			if c.isLeft() {
				return
			}
			logger.Warn().Err(err).Msg("signaling read error")
			c.lost(fmt.Errorf("%w: signaling: %v", domain.ErrConnectionLost, err))
			return
		}

		switch msg.Type {
		case "joined", "answer", "error":
			if msg.Type == "error" && c.joined() {
				logger.Warn().Str("reason", msg.Reason).Msg("server error after join")
				c.lost(fmt.Errorf("%w: %s", domain.ErrConnectionLost, msg.Reason))
				continue
			}
			select {
			case c.replies <- msg:
			case <-c.left:
				return
			}
		case "candidate":
			if err := c.pc.addICECandidate(msg.iceCandidate()); err != nil {
				logger.Error().Err(err).Msg("add ice candidate")
			}
		case "unpublished":
			c.onUnpublished(msg)
		case "pong":
		default:
			logger.Warn().Str("type", msg.Type).Msg("unknown signal")
		}
	}
}

func (c *Client) joined() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateJoined
}

func (c *Client) onTrack(track *webrtc.TrackRemote) {
	kind, ok := mediaKindOf(track.Kind())
	if !ok {
		return
	}
	key := trackKey{user: domain.UserID(track.StreamID()), kind: kind}

	c.mu.Lock()
	if c.state == stateLeft {
		c.mu.Unlock()
		return
	}
	c.published[key] = track
	c.mu.Unlock()

	c.listeners.emit(core.EventUserPublished, core.TrackEvent{User: key.user, Kind: key.kind})
}

func (c *Client) onUnpublished(msg signalMessage) {
	user, err := domain.ParseUserID(msg.User)
	kind := domain.MediaKind(msg.Kind)
	if err != nil || !kind.Valid() {
		log.Warn().Str("module", "rtc").Str("client", c.id).Str("user", msg.User).Str("kind", msg.Kind).Msg("bad unpublished")
		return
	}
	key := trackKey{user: user, kind: kind}

	c.mu.Lock()
	delete(c.published, key)
	sub := c.subs[key]
	delete(c.subs, key)
	c.mu.Unlock()

	if sub != nil {
		sub.Stop()
	}
	c.listeners.emit(core.EventUserUnpublished, core.TrackEvent{User: user, Kind: kind})
}

func (c *Client) onPeerLost(s webrtc.PeerConnectionState) {
	if c.isLeft() {
		return
	}
	c.lost(fmt.Errorf("%w: peer connection %s", domain.ErrConnectionLost, s.String()))
}

func (c *Client) lost(err error) {
	if !c.joined() {
		return
	}
	c.listeners.emit(core.EventConnectionLost, core.TrackEvent{Err: err})
}

func (c *Client) Subscribe(ctx context.Context, user domain.UserID, kind domain.MediaKind) (core.RemoteTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.FromContext(err)
	}
	key := trackKey{user: user, kind: kind}

	c.mu.Lock()
	if c.state == stateLeft {
		c.mu.Unlock()
		return nil, domain.ErrAborted
	}
	src, ok := c.published[key]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrNotPublished, user, kind)
	}
	old := c.subs[key]
	sub := newRemoteTrack(key, src)
	c.subs[key] = sub
	c.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	log.Info().Str("module", "rtc").Str("client", c.id).Str("user", string(user)).Str("kind", string(kind)).Msg("subscribed")
	return sub, nil
}

func (c *Client) On(event core.EventName, h core.EventHandler) core.ListenerID {
	return c.listeners.on(event, h)
}

func (c *Client) Off(event core.EventName, id core.ListenerID) {
	c.listeners.off(event, id)
}

func (c *Client) RemoveAllListeners() {
	c.listeners.removeAll()
}

// Leave tears the client down. Only the first call does work; later calls
// return nil.
func (c *Client) Leave(ctx context.Context) error {
	var err error
	c.leaveOnce.Do(func() {
		c.mu.Lock()
		prev := c.state
		c.state = stateLeft
		sig := c.sig
		subs := c.subs
		c.subs = make(map[trackKey]*RemoteTrack)
		c.published = make(map[trackKey]*webrtc.TrackRemote)
		c.mu.Unlock()

		close(c.left)
		for _, s := range subs {
			s.Stop()
		}

		if sig != nil {
			if prev == stateJoined {
				deadline := time.Now().Add(defaultLeaveWait)
				if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
					deadline = d
				}
				if werr := sig.write(signalMessage{Type: "leave"}, deadline); werr != nil {
					log.Debug().Err(werr).Str("module", "rtc").Str("client", c.id).Msg("leave not delivered")
				}
			}
			sig.Close()
		}
		err = c.pc.close()
		c.listeners.close()
		log.Info().Str("module", "rtc").Str("client", c.id).Msg("left")
	})
	return err
}
