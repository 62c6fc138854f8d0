// Package viewer drives one viewer's session against a live broadcast:
// join-info fetch, transport join, media subscription, presence heartbeat
// and teardown.
package viewer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/LiveView/internal/core"
	"github.com/dkeye/LiveView/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type registration struct {
	event core.EventName
	id    core.ListenerID
}

// session is one Start attempt. Everything it owns is released exactly
// once, by whichever of Stop or a failure gets there first.
type session struct {
	id        string
	broadcast domain.BroadcastID
	ctx       context.Context
	cancel    context.CancelFunc
	log       zerolog.Logger

	// guarded by Controller.mu
	client core.TransportClient
	regs   []registration
	tracks map[domain.MediaKind]core.RemoteTrack
	hbDone chan struct{}

	firstTrack chan struct{}
	firstOnce  sync.Once

	done        chan struct{}
	released    chan struct{}
	releaseOnce sync.Once
}

func (s *session) markFirstTrack() {
	s.firstOnce.Do(func() { close(s.firstTrack) })
}

// Controller is the state machine behind a viewer. Start and Stop may be
// called from any goroutine; they are serialized.
type Controller struct {
	gw     core.Gateway
	tr     core.Transport
	target core.RenderTarget
	opts   Options

	opMu sync.Mutex

	mu       sync.Mutex
	state    State
	seq      uint64
	sess     *session
	draining *session

	notifyMu sync.Mutex
	notified uint64
	watchers []func(State)
}

func New(gw core.Gateway, tr core.Transport, target core.RenderTarget, opts Options) *Controller {
	return &Controller{
		gw:     gw,
		tr:     tr,
		target: target,
		opts:   opts.withDefaults(),
		state:  State{Phase: PhaseIdle},
	}
}

// State returns the current snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnChange registers fn for every state change. Snapshots are delivered in
// Seq order; a snapshot older than one already delivered is dropped. fn
// must not call Start or Stop.
func (c *Controller) OnChange(fn func(State)) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.watchers = append(c.watchers, fn)
}

func (c *Controller) notify(s State) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if s.Seq <= c.notified {
		return
	}
	c.notified = s.Seq
	for _, fn := range c.watchers {
		fn(s)
	}
}

// setLocked applies fn and stamps the next Seq. Caller holds c.mu.
func (c *Controller) setLocked(fn func(*State)) State {
	fn(&c.state)
	c.seq++
	c.state.Seq = c.seq
	return c.state
}

func (c *Controller) current(s *session) bool {
	return c.sess == s && s.ctx.Err() == nil
}

// Start tears down any existing session, then begins connecting to id in
// the background. Only an invalid id is reported here; everything else
// surfaces through State.
func (c *Controller) Start(id domain.BroadcastID) error {
	if err := id.Validate(); err != nil {
		return err
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.stop()

	ctx, cancel := context.WithCancel(context.Background())
	attempt := uuid.NewString()
	s := &session{
		id:         attempt,
		broadcast:  id,
		ctx:        ctx,
		cancel:     cancel,
		tracks:     make(map[domain.MediaKind]core.RemoteTrack),
		firstTrack: make(chan struct{}),
		done:       make(chan struct{}),
		released:   make(chan struct{}),
		log: log.With().
			Str("module", "viewer").
			Str("viewer", c.opts.Name).
			Str("attempt", attempt).
			Int64("broadcast", int64(id)).
			Logger(),
	}

	c.mu.Lock()
	c.sess = s
	snap := c.setLocked(func(st *State) {
		*st = State{Phase: PhaseConnecting, BroadcastID: id}
	})
	c.mu.Unlock()
	c.notify(snap)

	s.log.Info().Msg("connecting")
	go c.run(s)
	return nil
}

// Stop ends the current session and returns once its transport client has
// been left. Safe to call repeatedly and from any phase.
func (c *Controller) Stop() {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.stop()
}

func (c *Controller) stop() {
	c.mu.Lock()
	s, d := c.sess, c.draining
	if s == nil {
		c.mu.Unlock()
		if d != nil {
			<-d.released
			<-d.done
		}
		c.mu.Lock()
		if c.state.Phase == PhaseIdle {
			c.mu.Unlock()
			return
		}
		snap := c.setLocked(func(st *State) { *st = State{Phase: PhaseIdle} })
		c.mu.Unlock()
		c.notify(snap)
		return
	}
	c.sess = nil
	s.cancel()
	snap := c.setLocked(func(st *State) {
		st.Phase = PhaseClosing
		st.Error = ""
	})
	c.mu.Unlock()
	c.notify(snap)

	s.log.Info().Msg("closing")
	c.release(s)
	<-s.done

	c.mu.Lock()
	snap = c.setLocked(func(st *State) { *st = State{Phase: PhaseIdle} })
	c.mu.Unlock()
	c.notify(snap)
	s.log.Info().Msg("closed")
}

func (c *Controller) run(s *session) {
	defer close(s.done)

	err := c.connect(s)
	if err == nil {
		return
	}
	if s.ctx.Err() != nil {
		s.log.Debug().Err(err).Msg("attempt cancelled")
		return
	}
	c.fail(s, err)
}

func (c *Controller) connect(s *session) error {
	ctx, cancel := context.WithTimeout(s.ctx, c.opts.JoinTimeout)
	defer cancel()

	info, err := c.gw.FetchJoinInfo(ctx, s.broadcast)
	if err != nil {
		return fmt.Errorf("fetch join info: %w", err)
	}
	if err := info.Validate(); err != nil {
		return err
	}
	if !c.isCurrent(s) {
		return domain.ErrAborted
	}

	client, err := c.tr.CreateClient(c.opts.Mode)
	if err != nil {
		return fmt.Errorf("%w: create client: %v", domain.ErrJoin, err)
	}
	regs := []registration{
		{core.EventUserPublished, client.On(core.EventUserPublished, func(ev core.TrackEvent) {
			c.onPublished(s, client, ev)
		})},
		{core.EventUserUnpublished, client.On(core.EventUserUnpublished, func(ev core.TrackEvent) {
			c.onUnpublished(s, ev)
		})},
		{core.EventConnectionLost, client.On(core.EventConnectionLost, func(ev core.TrackEvent) {
			c.onConnectionLost(s, ev)
		})},
	}

	c.mu.Lock()
	if !c.current(s) {
		c.mu.Unlock()
		c.discard(s, client)
		return domain.ErrAborted
	}
	s.client, s.regs = client, regs
	c.mu.Unlock()

	err = client.Join(ctx, core.JoinParams{
		AppID:    info.AppID,
		Channel:  info.ChannelName,
		Token:    info.Token(),
		ViewerID: info.ViewerID,
	})
	if err != nil {
		return fmt.Errorf("join %s: %w", info.ChannelName, err)
	}
	s.log.Info().Str("channel", info.ChannelName).Msg("joined")

	if c.opts.FirstTrackWait > 0 {
		t := time.NewTimer(c.opts.FirstTrackWait)
		select {
		case <-s.firstTrack:
		case <-t.C:
			s.log.Info().Msg("no track yet, going live")
		case <-ctx.Done():
		}
		t.Stop()
		if err := ctx.Err(); err != nil {
			return domain.FromContext(err)
		}
	}
	return c.goLive(s)
}

func (c *Controller) isCurrent(s *session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current(s)
}

func (c *Controller) goLive(s *session) error {
	c.mu.Lock()
	if !c.current(s) {
		c.mu.Unlock()
		return domain.ErrAborted
	}
	snap := c.setLocked(func(st *State) { st.Phase = PhaseLive })
	s.hbDone = make(chan struct{})
	go c.heartbeat(s, s.hbDone)
	c.mu.Unlock()

	c.notify(snap)
	s.log.Info().Msg("live")
	return nil
}

// fail moves a still-current session to Failed and releases it.
func (c *Controller) fail(s *session, err error) {
	msg := domain.UserMessage(err)
	if msg == "" {
		msg = domain.UserMessage(domain.ErrJoin)
	}

	c.mu.Lock()
	if !c.current(s) {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	c.draining = s
	s.cancel()
	snap := c.setLocked(func(st *State) {
		st.Phase = PhaseFailed
		st.Error = msg
	})
	c.mu.Unlock()
	c.notify(snap)

	s.log.Error().Err(err).Msg("session failed")
	c.release(s)

	c.mu.Lock()
	if c.draining == s {
		c.draining = nil
	}
	c.mu.Unlock()
}

// release undoes everything s acquired: heartbeat, handlers, track
// handles, render target, transport client.
func (c *Controller) release(s *session) {
	s.releaseOnce.Do(func() {
		defer close(s.released)
		s.cancel()

		c.mu.Lock()
		hb := s.hbDone
		client, regs := s.client, s.regs
		c.mu.Unlock()

		if hb != nil {
			<-hb
		}
		if client != nil {
			for _, r := range regs {
				client.Off(r.event, r.id)
			}
			client.RemoveAllListeners()
		}

		c.mu.Lock()
		for kind, tr := range s.tracks {
			c.detachLocked(kind)
			tr.Stop()
		}
		s.tracks = make(map[domain.MediaKind]core.RemoteTrack)
		s.client, s.regs = nil, nil
		c.mu.Unlock()

		if client != nil {
			c.leave(s, client)
		}
	})
}

// discard drops a client that never became part of the session.
func (c *Controller) discard(s *session, client core.TransportClient) {
	client.RemoveAllListeners()
	c.leave(s, client)
}

func (c *Controller) leave(s *session, client core.TransportClient) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.LeaveTimeout)
	defer cancel()
	if err := client.Leave(ctx); err != nil {
		s.log.Warn().Err(err).Msg("leave failed")
		return
	}
	s.log.Debug().Msg("left channel")
}

func (c *Controller) detachLocked(kind domain.MediaKind) {
	switch kind {
	case domain.MediaVideo:
		c.target.DetachVideo()
	case domain.MediaAudio:
		c.target.StopAudio()
	}
}

func (c *Controller) onPublished(s *session, client core.TransportClient, ev core.TrackEvent) {
	if !ev.Kind.Valid() || !c.isCurrent(s) {
		return
	}
	tr, err := client.Subscribe(s.ctx, ev.User, ev.Kind)
	if err != nil {
		if !domain.IsAborted(err) {
			s.log.Warn().Err(err).Str("user", string(ev.User)).Str("kind", string(ev.Kind)).Msg("subscribe failed")
		}
		return
	}

	c.mu.Lock()
	if !c.current(s) {
		c.mu.Unlock()
		tr.Stop()
		return
	}
	if old := s.tracks[ev.Kind]; old != nil {
		c.detachLocked(ev.Kind)
		old.Stop()
	}
	s.tracks[ev.Kind] = tr
	switch ev.Kind {
	case domain.MediaVideo:
		c.target.AttachVideo(tr)
	case domain.MediaAudio:
		c.target.PlayAudio(tr)
	}
	c.mu.Unlock()

	s.log.Info().Str("user", string(ev.User)).Str("kind", string(ev.Kind)).Msg("track attached")
	s.markFirstTrack()
}

func (c *Controller) onUnpublished(s *session, ev core.TrackEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.current(s) {
		return
	}
	tr := s.tracks[ev.Kind]
	if tr == nil || tr.User() != ev.User {
		return
	}
	delete(s.tracks, ev.Kind)
	c.detachLocked(ev.Kind)
	tr.Stop()
	s.log.Info().Str("user", string(ev.User)).Str("kind", string(ev.Kind)).Msg("track detached")
}

func (c *Controller) onConnectionLost(s *session, ev core.TrackEvent) {
	err := ev.Err
	if err == nil {
		err = domain.ErrConnectionLost
	}
	c.fail(s, err)
}

// heartbeat ticks until the session's ctx ends. A tick is only scheduled
// after the previous one returned.
func (c *Controller) heartbeat(s *session, done chan struct{}) {
	defer close(done)
	t := time.NewTimer(c.opts.HeartbeatInterval)
	defer t.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
		}

		n, err := c.gw.SendHeartbeat(s.ctx, s.broadcast)
		if s.ctx.Err() != nil {
			return
		}
		if err != nil {
			s.log.Warn().Err(err).Msg("heartbeat failed")
		} else {
			c.mu.Lock()
			if c.current(s) && c.state.ViewerCount != n {
				snap := c.setLocked(func(st *State) { st.ViewerCount = n })
				c.mu.Unlock()
				c.notify(snap)
			} else {
				c.mu.Unlock()
			}
		}
		t.Reset(c.opts.HeartbeatInterval)
	}
}
