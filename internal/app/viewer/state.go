package viewer

import (
	"time"

	"github.com/dkeye/LiveView/internal/core"
	"github.com/dkeye/LiveView/internal/domain"
)

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseConnecting Phase = "connecting"
	PhaseLive       Phase = "live"
	PhaseClosing    Phase = "closing"
	PhaseFailed     Phase = "failed"
)

// State is an observable snapshot of a controller. Seq grows by one with
// every change.
type State struct {
	Phase       Phase              `json:"phase"`
	Error       string             `json:"error,omitempty"`
	ViewerCount domain.ViewerCount `json:"viewerCount"`
	BroadcastID domain.BroadcastID `json:"broadcastId,omitempty"`
	Seq         uint64             `json:"seq"`
}

const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultJoinTimeout       = 15 * time.Second
	DefaultFirstTrackWait    = 3 * time.Second
	DefaultLeaveTimeout      = 3 * time.Second
)

type Options struct {
	// Name tags log lines, usually the mount id.
	Name string
	Mode core.ClientMode

	HeartbeatInterval time.Duration
	// JoinTimeout bounds everything between Start and Live.
	JoinTimeout time.Duration
	// FirstTrackWait is how long to hold Connecting for the first
	// subscription after join. Zero goes Live as soon as join returns.
	FirstTrackWait time.Duration
	LeaveTimeout   time.Duration
}

func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = core.ModeLive
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = DefaultJoinTimeout
	}
	if o.FirstTrackWait < 0 {
		o.FirstTrackWait = 0
	}
	if o.LeaveTimeout <= 0 {
		o.LeaveTimeout = DefaultLeaveTimeout
	}
	return o
}
