// Package coretest holds in-memory doubles for the core capability
// interfaces. They are safe for concurrent use and honour ctx the way the
// real adapters do.
package coretest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dkeye/LiveView/internal/domain"
)

// Gateway is a scriptable core.Gateway.
type Gateway struct {
	mu           sync.Mutex
	info         domain.JoinInfo
	fetchErr     error
	viewers      domain.ViewerCount
	heartbeatErr error
	fetchGate    chan struct{}
	beatGate     chan struct{}

	fetches    atomic.Int32
	heartbeats atomic.Int32
	inflight   atomic.Int32
	maxFlight  atomic.Int32
}

// NewGateway returns a gateway that serves info for every broadcast.
func NewGateway(info domain.JoinInfo) *Gateway {
	return &Gateway{info: info}
}

// ValidInfo is a join info that passes validation.
func ValidInfo() domain.JoinInfo {
	token := "tok-1"
	return domain.JoinInfo{AppID: "app-1", ChannelName: "live-42", ViewerID: 7, AccessToken: &token}
}

func (g *Gateway) SetInfo(info domain.JoinInfo) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.info = info
}

func (g *Gateway) SetFetchErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchErr = err
}

func (g *Gateway) SetViewers(n domain.ViewerCount) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.viewers = n
}

func (g *Gateway) SetHeartbeatErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.heartbeatErr = err
}

// HoldFetch makes FetchJoinInfo block until the returned func is called
// or the caller's ctx ends.
func (g *Gateway) HoldFetch() (release func()) {
	gate := make(chan struct{})
	g.mu.Lock()
	g.fetchGate = gate
	g.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// HoldHeartbeat is HoldFetch for SendHeartbeat.
func (g *Gateway) HoldHeartbeat() (release func()) {
	gate := make(chan struct{})
	g.mu.Lock()
	g.beatGate = gate
	g.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (g *Gateway) FetchJoinInfo(ctx context.Context, id domain.BroadcastID) (domain.JoinInfo, error) {
	if err := id.Validate(); err != nil {
		return domain.JoinInfo{}, err
	}
	g.fetches.Add(1)
	g.mu.Lock()
	gate, info, err := g.fetchGate, g.info, g.fetchErr
	g.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.JoinInfo{}, domain.FromContext(ctx.Err())
		}
	}
	if err != nil {
		return domain.JoinInfo{}, err
	}
	return info, nil
}

func (g *Gateway) SendHeartbeat(ctx context.Context, id domain.BroadcastID) (domain.ViewerCount, error) {
	g.heartbeats.Add(1)
	n := g.inflight.Add(1)
	defer g.inflight.Add(-1)
	for {
		m := g.maxFlight.Load()
		if n <= m || g.maxFlight.CompareAndSwap(m, n) {
			break
		}
	}

	g.mu.Lock()
	gate, viewers, err := g.beatGate, g.viewers, g.heartbeatErr
	g.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return 0, domain.FromContext(ctx.Err())
		}
	}
	if err != nil {
		return 0, err
	}
	return viewers, nil
}

func (g *Gateway) Fetches() int    { return int(g.fetches.Load()) }
func (g *Gateway) Heartbeats() int { return int(g.heartbeats.Load()) }

// MaxInFlight is the highest number of concurrent heartbeats observed.
func (g *Gateway) MaxInFlight() int { return int(g.maxFlight.Load()) }
