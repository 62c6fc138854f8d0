package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

const writeWait = 5 * time.Second

var errBadSignal = errors.New("bad signal json")

// signalMessage is the envelope exchanged with the signaling server.
// Fields are populated per Type.
type signalMessage struct {
	Type string `json:"type"`

	// join
	Mode    string `json:"mode,omitempty"`
	Channel string `json:"channel,omitempty"`
	Token   string `json:"token,omitempty"`
	UID     int64  `json:"uid,omitempty"`

	// offer / answer
	SDP string `json:"sdp,omitempty"`

	// candidate
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        string  `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`

	// unpublished
	User string `json:"user,omitempty"`
	Kind string `json:"kind,omitempty"`

	// error
	Reason string `json:"reason,omitempty"`
}

func (m signalMessage) iceCandidate() webrtc.ICECandidateInit {
	ci := webrtc.ICECandidateInit{
		Candidate:     m.Candidate,
		SDPMLineIndex: m.SDPMLineIndex,
	}
	if m.SDPMid != "" {
		mid := m.SDPMid
		ci.SDPMid = &mid
	}
	return ci
}

// signalConn wraps the websocket to the signaling server.
// gorilla allows one concurrent writer, so writes are serialized.
type signalConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	once    sync.Once
}

func signalURL(base, appID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse signal url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("signal url %q: unsupported scheme", base)
	}
	q := u.Query()
	q.Set("app", appID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func dialSignal(ctx context.Context, dialer *websocket.Dialer, rawURL string, readLimit int64) (*signalConn, error) {
	ws, resp, err := dialer.DialContext(ctx, rawURL, http.Header{})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, err
	}
	if readLimit > 0 {
		ws.SetReadLimit(readLimit)
	}
	return &signalConn{conn: ws}, nil
}

func (s *signalConn) write(msg signalMessage, deadline time.Time) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

func (s *signalConn) send(msg signalMessage) error {
	return s.write(msg, time.Now().Add(writeWait))
}

func (s *signalConn) read() (signalMessage, error) {
	var msg signalMessage
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return msg, err
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", errBadSignal, err)
	}
	return msg, nil
}

func (s *signalConn) Close() {
	s.once.Do(func() {
		_ = s.conn.Close()
	})
}
