package core

import (
	"context"

	"github.com/dkeye/LiveView/internal/domain"
	"github.com/pion/rtp"
)

type ClientMode string

const (
	// ModeLive joins as audience of a one-to-many broadcast.
	ModeLive ClientMode = "live"
	// ModeRTC joins as a full participant of a many-to-many call.
	ModeRTC ClientMode = "rtc"
)

func (m ClientMode) Valid() bool {
	return m == ModeLive || m == ModeRTC
}

type EventName string

const (
	EventUserPublished   EventName = "user-published"
	EventUserUnpublished EventName = "user-unpublished"
	EventConnectionLost  EventName = "connection-lost"
)

// TrackEvent is delivered for publish/unpublish. Kind is empty for
// connection-lost.
type TrackEvent struct {
	User domain.UserID
	Kind domain.MediaKind
	Err  error
}

type EventHandler func(TrackEvent)

// ListenerID is returned by On and is the handle Off takes back.
type ListenerID uint64

type JoinParams struct {
	AppID    string
	Channel  string
	Token    string
	ViewerID int64
}

// Transport allocates clients. CreateClient does no network I/O.
type Transport interface {
	CreateClient(mode ClientMode) (TransportClient, error)
}

// TransportClient is exclusively owned by one viewer session, which must
// RemoveAllListeners() and Leave() before dropping it.
type TransportClient interface {
	// Join fails with domain.ErrJoin on rejection and domain.ErrAborted when
	// ctx is cancelled or Leave was issued concurrently.
	Join(ctx context.Context, p JoinParams) error
	// Subscribe replaces any earlier handle for the same user and kind.
	Subscribe(ctx context.Context, user domain.UserID, kind domain.MediaKind) (RemoteTrack, error)
	On(event EventName, h EventHandler) ListenerID
	Off(event EventName, id ListenerID)
	RemoveAllListeners()
	// Leave is idempotent and never fails on a never-joined client.
	Leave(ctx context.Context) error
}

// RemoteTrack is a subscribed remote stream. The session only calls Stop;
// sinks read from it.
type RemoteTrack interface {
	User() domain.UserID
	Kind() domain.MediaKind
	MimeType() string
	ReadRTP() (*rtp.Packet, error)
	Stop()
}
