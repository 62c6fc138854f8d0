package coretest

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/LiveView/internal/core"
	"github.com/dkeye/LiveView/internal/domain"
)

// Transport is an in-memory core.Transport. Every client it creates
// appends to a shared call log ("join:<n>", "leave:<n>", ...) so tests can
// assert ordering across clients.
type Transport struct {
	mu        sync.Mutex
	clients   []*Client
	calls     []string
	createErr error
	joinErr   error
	joinGate  chan struct{}
	leaveGate chan struct{}
	publish   []core.TrackEvent
}

func NewTransport() *Transport {
	return &Transport{}
}

func (t *Transport) SetCreateErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.createErr = err
}

func (t *Transport) SetJoinErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.joinErr = err
}

// HoldJoin makes Join block until released, the ctx ends, or Leave runs.
func (t *Transport) HoldJoin() (release func()) {
	gate := make(chan struct{})
	t.mu.Lock()
	t.joinGate = gate
	t.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// HoldLeave makes Leave block after it has been recorded, until released
// or the ctx ends.
func (t *Transport) HoldLeave() (release func()) {
	gate := make(chan struct{})
	t.mu.Lock()
	t.leaveGate = gate
	t.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// PublishOnJoin makes every successful Join announce these tracks.
func (t *Transport) PublishOnJoin(evs ...core.TrackEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.publish = evs
}

func (t *Transport) CreateClient(mode core.ClientMode) (core.TransportClient, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.createErr != nil {
		return nil, t.createErr
	}
	c := &Client{
		t:         t,
		n:         len(t.clients) + 1,
		Mode:      mode,
		handlers:  make(map[core.EventName][]handler),
		published: make(map[core.TrackEvent]bool),
		left:      make(chan struct{}),
	}
	t.clients = append(t.clients, c)
	t.calls = append(t.calls, fmt.Sprintf("create:%d", c.n))
	return c, nil
}

func (t *Transport) record(call string, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, fmt.Sprintf("%s:%d", call, n))
}

// Calls returns a copy of the call log.
func (t *Transport) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

func (t *Transport) Clients() []*Client {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Client(nil), t.clients...)
}

// Last returns the most recently created client, or nil.
func (t *Transport) Last() *Client {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.clients) == 0 {
		return nil
	}
	return t.clients[len(t.clients)-1]
}

// Joins counts successful joins across all clients.
func (t *Transport) Joins() int {
	n := 0
	for _, c := range t.Clients() {
		if c.Joined() {
			n++
		}
	}
	return n
}

// Leaves counts Leave calls across all clients.
func (t *Transport) Leaves() int {
	n := 0
	for _, c := range t.Clients() {
		n += c.LeaveCalls()
	}
	return n
}

type handler struct {
	id core.ListenerID
	h  core.EventHandler
}

// Client is the core.TransportClient handed out by Transport.
type Client struct {
	t    *Transport
	n    int
	Mode core.ClientMode

	mu         sync.Mutex
	next       core.ListenerID
	handlers   map[core.EventName][]handler
	published  map[core.TrackEvent]bool
	tracks     []*Track
	joinCalls  int
	leaveCalls int
	joined     bool
	params     core.JoinParams
	left       chan struct{}
	leaveOnce  sync.Once
}

func (c *Client) isLeft() bool {
	select {
	case <-c.left:
		return true
	default:
		return false
	}
}

func (c *Client) Join(ctx context.Context, p core.JoinParams) error {
	c.mu.Lock()
	c.joinCalls++
	c.mu.Unlock()
	c.t.record("join", c.n)
	if c.isLeft() {
		return domain.ErrAborted
	}

	c.t.mu.Lock()
	gate, joinErr, publish := c.t.joinGate, c.t.joinErr, c.t.publish
	c.t.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.FromContext(ctx.Err())
		case <-c.left:
			return domain.ErrAborted
		}
	}
	if err := ctx.Err(); err != nil {
		return domain.FromContext(err)
	}
	if c.isLeft() {
		return domain.ErrAborted
	}
	if joinErr != nil {
		return joinErr
	}

	c.mu.Lock()
	c.joined = true
	c.params = p
	c.mu.Unlock()
	c.t.record("joined", c.n)

	for _, ev := range publish {
		c.Publish(ev.User, ev.Kind)
	}
	return nil
}

// Publish marks a track as available and fires user-published on the
// calling goroutine.
func (c *Client) Publish(user domain.UserID, kind domain.MediaKind) {
	ev := core.TrackEvent{User: user, Kind: kind}
	c.mu.Lock()
	c.published[ev] = true
	c.mu.Unlock()
	c.Emit(core.EventUserPublished, ev)
}

// Unpublish withdraws a track and fires user-unpublished.
func (c *Client) Unpublish(user domain.UserID, kind domain.MediaKind) {
	ev := core.TrackEvent{User: user, Kind: kind}
	c.mu.Lock()
	delete(c.published, ev)
	c.mu.Unlock()
	c.Emit(core.EventUserUnpublished, ev)
}

// Emit runs the handlers registered for event synchronously.
func (c *Client) Emit(event core.EventName, ev core.TrackEvent) {
	c.mu.Lock()
	hs := append([]handler(nil), c.handlers[event]...)
	c.mu.Unlock()
	for _, h := range hs {
		h.h(ev)
	}
}

func (c *Client) Subscribe(ctx context.Context, user domain.UserID, kind domain.MediaKind) (core.RemoteTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.FromContext(err)
	}
	if c.isLeft() {
		return nil, domain.ErrAborted
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.published[core.TrackEvent{User: user, Kind: kind}] {
		return nil, domain.ErrNotPublished
	}
	tr := NewTrack(user, kind)
	c.tracks = append(c.tracks, tr)
	return tr, nil
}

func (c *Client) On(event core.EventName, h core.EventHandler) core.ListenerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	c.handlers[event] = append(c.handlers[event], handler{id: c.next, h: h})
	return c.next
}

func (c *Client) Off(event core.EventName, id core.ListenerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hs := c.handlers[event]
	for i, h := range hs {
		if h.id == id {
			c.handlers[event] = append(hs[:i:i], hs[i+1:]...)
			return
		}
	}
}

func (c *Client) RemoveAllListeners() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = make(map[core.EventName][]handler)
}

func (c *Client) Leave(ctx context.Context) error {
	c.mu.Lock()
	c.leaveCalls++
	c.mu.Unlock()
	c.t.record("leave", c.n)
	c.leaveOnce.Do(func() { close(c.left) })

	c.t.mu.Lock()
	gate := c.t.leaveGate
	c.t.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.FromContext(ctx.Err())
		}
	}
	return nil
}

// Listeners counts registered handlers.
func (c *Client) Listeners() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, hs := range c.handlers {
		n += len(hs)
	}
	return n
}

func (c *Client) Joined() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined
}

func (c *Client) JoinCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joinCalls
}

func (c *Client) LeaveCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leaveCalls
}

func (c *Client) Params() core.JoinParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

// Tracks returns every handle this client ever handed out.
func (c *Client) Tracks() []*Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Track(nil), c.tracks...)
}

// ActiveTracks returns the handles that have not been stopped.
func (c *Client) ActiveTracks() []*Track {
	var out []*Track
	for _, t := range c.Tracks() {
		if !t.Stopped() {
			out = append(out, t)
		}
	}
	return out
}
