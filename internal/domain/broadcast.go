package domain

import "fmt"

// BroadcastID identifies a single live broadcast.
type BroadcastID int64

func (id BroadcastID) Validate() error {
	if id <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBroadcast, id)
	}
	return nil
}

// ViewerCount is the last value reported by the heartbeat endpoint.
type ViewerCount int

// JoinInfo holds short-lived credentials for one join attempt.
// It is fetched fresh per attempt and never cached.
type JoinInfo struct {
	AppID       string  `json:"appId"`
	ChannelName string  `json:"channelName"`
	ViewerID    int64   `json:"viewerId"`
	AccessToken *string `json:"token"`
}

// Validate reports ErrMalformedResponse when a required field is missing.
func (ji JoinInfo) Validate() error {
	switch {
	case ji.AppID == "":
		return fmt.Errorf("%w: missing appId", ErrMalformedResponse)
	case ji.ChannelName == "":
		return fmt.Errorf("%w: missing channelName", ErrMalformedResponse)
	case ji.ViewerID == 0:
		return fmt.Errorf("%w: missing viewerId", ErrMalformedResponse)
	case ji.ViewerID < 0:
		return fmt.Errorf("%w: viewerId %d", ErrMalformedResponse, ji.ViewerID)
	}
	return nil
}

// Token returns the access token or "" when the channel is unauthenticated.
func (ji JoinInfo) Token() string {
	if ji.AccessToken == nil {
		return ""
	}
	return *ji.AccessToken
}
