package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastID_Validate(t *testing.T) {
	assert.NoError(t, BroadcastID(42).Validate())
	assert.ErrorIs(t, BroadcastID(0).Validate(), ErrInvalidBroadcast)
	assert.ErrorIs(t, BroadcastID(-7).Validate(), ErrInvalidBroadcast)
}

func TestJoinInfo_Validate(t *testing.T) {
	token := "tok"
	tests := []struct {
		name    string
		info    JoinInfo
		wantErr bool
	}{
		{"complete", JoinInfo{AppID: "app", ChannelName: "live-42", ViewerID: 9, AccessToken: &token}, false},
		{"no token", JoinInfo{AppID: "app", ChannelName: "live-42", ViewerID: 9}, false},
		{"empty app", JoinInfo{ChannelName: "live-42", ViewerID: 9}, true},
		{"empty channel", JoinInfo{AppID: "app", ViewerID: 9}, true},
		{"zero viewer", JoinInfo{AppID: "app", ChannelName: "live-42"}, true},
		{"negative viewer", JoinInfo{AppID: "app", ChannelName: "live-42", ViewerID: -5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.info.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedResponse)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestJoinInfo_Token(t *testing.T) {
	token := "secret"
	assert.Equal(t, "", JoinInfo{}.Token())
	assert.Equal(t, "secret", JoinInfo{AccessToken: &token}.Token())
}

func TestFromContext(t *testing.T) {
	assert.NoError(t, FromContext(nil))
	assert.ErrorIs(t, FromContext(context.Canceled), ErrAborted)
	assert.ErrorIs(t, FromContext(fmt.Errorf("dial: %w", context.DeadlineExceeded)), ErrTimeout)

	other := errors.New("boom")
	assert.Equal(t, other, FromContext(other))
}

func TestUserMessage(t *testing.T) {
	assert.Empty(t, UserMessage(nil))
	assert.Empty(t, UserMessage(fmt.Errorf("%w: join", ErrAborted)))
	assert.Empty(t, UserMessage(context.Canceled))

	for _, err := range []error{ErrMalformedResponse, ErrJoin, ErrTimeout, ErrNetwork, ErrConnectionLost} {
		msg := UserMessage(fmt.Errorf("%w: detail", err))
		require.NotEmpty(t, msg, err.Error())
		assert.NotContains(t, msg, "detail")
	}
}

func TestParseUserID(t *testing.T) {
	id, err := ParseUserID("broadcaster-1")
	require.NoError(t, err)
	assert.Equal(t, UserID("broadcaster-1"), id)

	_, err = ParseUserID("")
	assert.ErrorIs(t, err, ErrUserIDEmpty)

	long := make([]byte, MaxUserIDLen+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = ParseUserID(string(long))
	assert.ErrorIs(t, err, ErrUserIDTooLong)
}
