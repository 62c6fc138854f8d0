package viewer

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/LiveView/internal/core"
	"github.com/dkeye/LiveView/internal/core/coretest"
	"github.com/dkeye/LiveView/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type harness struct {
	c  *Controller
	gw *coretest.Gateway
	tr *coretest.Transport
	tg *coretest.Target

	mu     sync.Mutex
	states []State
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = 20 * time.Millisecond
	}
	if opts.JoinTimeout == 0 {
		opts.JoinTimeout = waitFor
	}
	h := &harness{
		gw: coretest.NewGateway(coretest.ValidInfo()),
		tr: coretest.NewTransport(),
		tg: coretest.NewTarget(),
	}
	h.c = New(h.gw, h.tr, h.tg, opts)
	h.c.OnChange(func(s State) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.states = append(h.states, s)
	})
	t.Cleanup(h.c.Stop)
	return h
}

// phases returns the observed phases with consecutive repeats collapsed.
func (h *harness) phases() []Phase {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Phase
	for _, s := range h.states {
		if len(out) == 0 || out[len(out)-1] != s.Phase {
			out = append(out, s.Phase)
		}
	}
	return out
}

func (h *harness) waitPhase(t *testing.T, p Phase) {
	t.Helper()
	require.Eventually(t, func() bool { return h.c.State().Phase == p }, waitFor, tick,
		"phase %s not reached, at %s", p, h.c.State().Phase)
}

func (h *harness) client(t *testing.T) *coretest.Client {
	t.Helper()
	c := h.tr.Last()
	require.NotNil(t, c)
	return c
}

func TestStart_GoesLive(t *testing.T) {
	h := newHarness(t, Options{})
	h.gw.SetViewers(17)

	require.NoError(t, h.c.Start(42))
	h.waitPhase(t, PhaseLive)

	assert.Equal(t, []Phase{PhaseConnecting, PhaseLive}, h.phases())
	assert.Equal(t, domain.BroadcastID(42), h.c.State().BroadcastID)

	p := h.client(t).Params()
	assert.Equal(t, core.JoinParams{AppID: "app-1", Channel: "live-42", Token: "tok-1", ViewerID: 7}, p)
	assert.Equal(t, core.ModeLive, h.client(t).Mode)

	require.Eventually(t, func() bool { return h.c.State().ViewerCount == 17 }, waitFor, tick)
	assert.Equal(t, PhaseLive, h.c.State().Phase)
}

func TestStart_ClientMode(t *testing.T) {
	h := newHarness(t, Options{Mode: core.ModeRTC})
	require.NoError(t, h.c.Start(42))
	h.waitPhase(t, PhaseLive)
	assert.Equal(t, core.ModeRTC, h.client(t).Mode)
}

func TestStart_MalformedJoinInfoFails(t *testing.T) {
	h := newHarness(t, Options{})
	h.gw.SetInfo(domain.JoinInfo{AppID: "", ChannelName: "", ViewerID: 7})

	require.NoError(t, h.c.Start(42))
	h.waitPhase(t, PhaseFailed)

	assert.Equal(t, domain.UserMessage(domain.ErrMalformedResponse), h.c.State().Error)
	assert.Empty(t, h.tr.Clients(), "no client may be created for bad join info")
	assert.Zero(t, h.tr.Joins())
}

func TestStop_BeforeJoinInfo(t *testing.T) {
	h := newHarness(t, Options{})
	release := h.gw.HoldFetch()

	require.NoError(t, h.c.Start(42))
	require.Eventually(t, func() bool { return h.gw.Fetches() == 1 }, waitFor, tick)

	h.c.Stop()
	release()
	time.Sleep(50 * time.Millisecond)

	st := h.c.State()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Empty(t, st.Error)
	assert.Empty(t, h.tr.Clients())
	assert.NotContains(t, h.phases(), PhaseFailed)
}

func TestPublish_DuplicateReplaces(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.c.Start(42))
	h.waitPhase(t, PhaseLive)

	cl := h.client(t)
	cl.Publish("host", domain.MediaVideo)
	cl.Publish("host", domain.MediaVideo)

	active := cl.ActiveTracks()
	require.Len(t, active, 1)
	assert.Same(t, active[0], h.tg.Video())

	all := cl.Tracks()
	require.Len(t, all, 2)
	assert.True(t, all[0].Stopped())
}

func TestStart_RestartWhileLive(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.c.Start(42))
	h.waitPhase(t, PhaseLive)

	require.NoError(t, h.c.Start(43))
	require.Eventually(t, func() bool {
		st := h.c.State()
		return st.Phase == PhaseLive && st.BroadcastID == 43
	}, waitFor, tick)

	clients := h.tr.Clients()
	require.Len(t, clients, 2)
	assert.Equal(t, 1, clients[0].LeaveCalls())
	assert.Zero(t, clients[1].LeaveCalls())

	calls := h.tr.Calls()
	leaveOld := slices.Index(calls, "leave:1")
	joinNew := slices.Index(calls, "join:2")
	require.NotEqual(t, -1, leaveOld)
	require.NotEqual(t, -1, joinNew)
	assert.Less(t, leaveOld, joinNew, "calls: %v", calls)
}

func TestStop_Idempotent(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.c.Start(42))
	h.waitPhase(t, PhaseLive)

	h.c.Stop()
	first := h.c.State()
	require.NotPanics(t, h.c.Stop)
	second := h.c.State()

	assert.Equal(t, PhaseIdle, first.Phase)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, h.client(t).LeaveCalls())
	assert.Equal(t, []Phase{PhaseConnecting, PhaseLive, PhaseClosing, PhaseIdle}, h.phases())
}

func TestStop_WhenIdle(t *testing.T) {
	h := newHarness(t, Options{})
	h.c.Stop()
	assert.Equal(t, PhaseIdle, h.c.State().Phase)
	assert.Empty(t, h.phases())
}

func TestStop_DuringJoin(t *testing.T) {
	h := newHarness(t, Options{})
	h.tr.HoldJoin()

	require.NoError(t, h.c.Start(42))
	require.Eventually(t, func() bool {
		c := h.tr.Last()
		return c != nil && c.JoinCalls() == 1
	}, waitFor, tick)

	h.c.Stop()

	cl := h.client(t)
	assert.False(t, cl.Joined())
	assert.Equal(t, 1, cl.LeaveCalls())
	assert.Zero(t, cl.Listeners())
	st := h.c.State()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Empty(t, st.Error)
}

func TestStop_ReleasesTracksAndHandlers(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.c.Start(42))
	h.waitPhase(t, PhaseLive)

	cl := h.client(t)
	cl.Publish("host", domain.MediaVideo)
	cl.Publish("host", domain.MediaAudio)
	require.Len(t, cl.ActiveTracks(), 2)

	h.c.Stop()

	assert.Empty(t, cl.ActiveTracks())
	assert.Nil(t, h.tg.Video())
	assert.Nil(t, h.tg.Audio())
	assert.Zero(t, cl.Listeners())
	assert.Zero(t, h.c.State().ViewerCount)
}

func TestStart_InvalidBroadcast(t *testing.T) {
	h := newHarness(t, Options{})

	err := h.c.Start(0)
	require.ErrorIs(t, err, domain.ErrInvalidBroadcast)
	assert.Equal(t, PhaseIdle, h.c.State().Phase)
	assert.Zero(t, h.gw.Fetches())
}

func TestFailure_Mapping(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
		want  error
	}{
		{
			name:  "network",
			setup: func(h *harness) { h.gw.SetFetchErr(fmt.Errorf("%w: connection refused", domain.ErrNetwork)) },
			want:  domain.ErrNetwork,
		},
		{
			name:  "join rejected",
			setup: func(h *harness) { h.tr.SetJoinErr(fmt.Errorf("%w: channel full", domain.ErrJoin)) },
			want:  domain.ErrJoin,
		},
		{
			name:  "create client",
			setup: func(h *harness) { h.tr.SetCreateErr(errors.New("no codecs")) },
			want:  domain.ErrJoin,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			tt.setup(h)

			require.NoError(t, h.c.Start(42))
			h.waitPhase(t, PhaseFailed)
			assert.Equal(t, domain.UserMessage(tt.want), h.c.State().Error)

			for _, cl := range h.tr.Clients() {
				require.Eventually(t, func() bool { return cl.LeaveCalls() == 1 }, waitFor, tick)
			}

			h.c.Stop()
			st := h.c.State()
			assert.Equal(t, PhaseIdle, st.Phase)
			assert.Empty(t, st.Error)
		})
	}
}

func TestJoinTimeout(t *testing.T) {
	h := newHarness(t, Options{JoinTimeout: 50 * time.Millisecond})
	h.tr.HoldJoin()

	require.NoError(t, h.c.Start(42))
	h.waitPhase(t, PhaseFailed)

	assert.Equal(t, domain.UserMessage(domain.ErrTimeout), h.c.State().Error)
	cl := h.client(t)
	require.Eventually(t, func() bool { return cl.LeaveCalls() == 1 }, waitFor, tick)
}

func TestFirstTrackWait(t *testing.T) {
	t.Run("track arrives", func(t *testing.T) {
		h := newHarness(t, Options{FirstTrackWait: time.Minute})
		h.tr.PublishOnJoin(core.TrackEvent{User: "host", Kind: domain.MediaVideo})

		require.NoError(t, h.c.Start(42))
		h.waitPhase(t, PhaseLive)
		assert.NotNil(t, h.tg.Video())
	})
	t.Run("no track", func(t *testing.T) {
		h := newHarness(t, Options{FirstTrackWait: 30 * time.Millisecond})

		require.NoError(t, h.c.Start(42))
		h.waitPhase(t, PhaseLive)
		assert.Nil(t, h.tg.Video())
	})
}

func TestHeartbeat_OneInFlight(t *testing.T) {
	h := newHarness(t, Options{HeartbeatInterval: 10 * time.Millisecond})
	release := h.gw.HoldHeartbeat()

	require.NoError(t, h.c.Start(42))
	h.waitPhase(t, PhaseLive)
	require.Eventually(t, func() bool { return h.gw.Heartbeats() == 1 }, waitFor, tick)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, h.gw.Heartbeats())

	release()
	require.Eventually(t, func() bool { return h.gw.Heartbeats() >= 3 }, waitFor, tick)
	assert.Equal(t, 1, h.gw.MaxInFlight())
}

func TestHeartbeat_NoneAfterStop(t *testing.T) {
	h := newHarness(t, Options{HeartbeatInterval: 10 * time.Millisecond})
	require.NoError(t, h.c.Start(42))
	require.Eventually(t, func() bool { return h.gw.Heartbeats() >= 2 }, waitFor, tick)

	h.c.Stop()
	n := h.gw.Heartbeats()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, n, h.gw.Heartbeats())
}

func TestHeartbeat_FailureKeepsLive(t *testing.T) {
	h := newHarness(t, Options{HeartbeatInterval: 10 * time.Millisecond})
	h.gw.SetHeartbeatErr(fmt.Errorf("%w: 503", domain.ErrNetwork))

	require.NoError(t, h.c.Start(42))
	require.Eventually(t, func() bool { return h.gw.Heartbeats() >= 3 }, waitFor, tick)

	st := h.c.State()
	assert.Equal(t, PhaseLive, st.Phase)
	assert.Empty(t, st.Error)
}

func TestUnpublish_Detaches(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.c.Start(42))
	h.waitPhase(t, PhaseLive)

	cl := h.client(t)
	cl.Publish("host", domain.MediaVideo)
	cl.Publish("host", domain.MediaAudio)

	cl.Unpublish("someone-else", domain.MediaVideo)
	assert.NotNil(t, h.tg.Video())

	cl.Unpublish("host", domain.MediaVideo)
	assert.Nil(t, h.tg.Video())
	assert.NotNil(t, h.tg.Audio())

	active := cl.ActiveTracks()
	require.Len(t, active, 1)
	assert.Equal(t, domain.MediaAudio, active[0].Kind())
}

func TestConnectionLost_Fails(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.c.Start(42))
	h.waitPhase(t, PhaseLive)

	cl := h.client(t)
	cl.Publish("host", domain.MediaVideo)
	cl.Emit(core.EventConnectionLost, core.TrackEvent{Err: domain.ErrConnectionLost})

	h.waitPhase(t, PhaseFailed)
	assert.Equal(t, domain.UserMessage(domain.ErrConnectionLost), h.c.State().Error)
	assert.Equal(t, 1, cl.LeaveCalls())
	assert.Zero(t, cl.Listeners())
	assert.Empty(t, cl.ActiveTracks())

	require.NoError(t, h.c.Start(42))
	require.Eventually(t, func() bool { return len(h.tr.Clients()) == 2 }, waitFor, tick)
	h.waitPhase(t, PhaseLive)
	assert.Equal(t, 1, cl.LeaveCalls())
}

func TestStop_WaitsForFailureRelease(t *testing.T) {
	h := newHarness(t, Options{LeaveTimeout: 5 * time.Second})
	require.NoError(t, h.c.Start(42))
	h.waitPhase(t, PhaseLive)

	cl := h.client(t)
	cl.Publish("host", domain.MediaVideo)
	release := h.tr.HoldLeave()
	defer release()

	go cl.Emit(core.EventConnectionLost, core.TrackEvent{Err: domain.ErrConnectionLost})
	require.Eventually(t, func() bool { return cl.LeaveCalls() == 1 }, waitFor, tick)
	assert.Equal(t, PhaseFailed, h.c.State().Phase)

	stopped := make(chan struct{})
	go func() {
		h.c.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned before the failed session left")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, PhaseFailed, h.c.State().Phase)

	release()
	select {
	case <-stopped:
	case <-time.After(waitFor):
		t.Fatal("Stop did not return after leave completed")
	}

	st := h.c.State()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Empty(t, st.Error)
	assert.Equal(t, 1, cl.LeaveCalls())
	assert.Zero(t, cl.Listeners())
	assert.Empty(t, cl.ActiveTracks())
	phases := h.phases()
	require.GreaterOrEqual(t, len(phases), 2)
	assert.Equal(t, []Phase{PhaseFailed, PhaseIdle}, phases[len(phases)-2:])
}

func TestLeaveJoinBalance(t *testing.T) {
	h := newHarness(t, Options{})

	for i := 1; i <= 30; i++ {
		require.NoError(t, h.c.Start(domain.BroadcastID(i)))
		switch i % 3 {
		case 0:
			h.c.Stop()
		case 1:
			h.waitPhase(t, PhaseLive)
		}
	}
	h.c.Stop()

	for i, cl := range h.tr.Clients() {
		assert.LessOrEqual(t, cl.LeaveCalls(), 1, "client %d", i+1)
		if cl.Joined() {
			assert.Equal(t, 1, cl.LeaveCalls(), "client %d joined without leave", i+1)
		}
	}
	assert.Equal(t, PhaseIdle, h.c.State().Phase)
}

func TestOnChange_SeqIncreases(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.c.Start(42))
	h.waitPhase(t, PhaseLive)
	h.c.Stop()

	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(t, h.states)
	for i := 1; i < len(h.states); i++ {
		assert.Greater(t, h.states[i].Seq, h.states[i-1].Seq)
	}
}
