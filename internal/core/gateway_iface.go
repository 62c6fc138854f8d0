package core

import (
	"context"

	"github.com/dkeye/LiveView/internal/domain"
)

// Gateway is the backend surface a viewer session needs.
// A cancelled ctx must resolve to domain.ErrAborted, not a network error.
type Gateway interface {
	FetchJoinInfo(ctx context.Context, id domain.BroadcastID) (domain.JoinInfo, error)
	SendHeartbeat(ctx context.Context, id domain.BroadcastID) (domain.ViewerCount, error)
}
