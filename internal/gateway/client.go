// Package gateway talks to the live backend: join credentials and
// presence heartbeats.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dkeye/LiveView/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTimeout   = 10 * time.Second
	DefaultUserAgent = "liveview/1.0"

	joinInfoPath  = "/live/join-info"
	heartbeatPath = "/live/heartbeat"

	// maxBodyBytes bounds how much of a response is read.
	maxBodyBytes = 64 << 10
)

// StatusError is returned (wrapped in domain.ErrNetwork) on non-2xx replies.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

type Config struct {
	BaseURL   string
	Token     string
	UserAgent string
	Timeout   time.Duration
	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// Client implements core.Gateway over HTTP.
type Client struct {
	base      *url.URL
	token     string
	userAgent string
	http      *http.Client
}

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse gateway url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("gateway url %q must be absolute", cfg.BaseURL)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	return &Client{base: base, token: cfg.Token, userAgent: ua, http: hc}, nil
}

type joinInfoResponse struct {
	AppID       string  `json:"appId"`
	ChannelName string  `json:"channelName"`
	ViewerID    int64   `json:"viewerId"`
	Token       *string `json:"token"`
}

func (c *Client) FetchJoinInfo(ctx context.Context, id domain.BroadcastID) (domain.JoinInfo, error) {
	if err := id.Validate(); err != nil {
		return domain.JoinInfo{}, err
	}
	q := url.Values{}
	q.Set("broadcastId", strconv.FormatInt(int64(id), 10))

	var resp joinInfoResponse
	if err := c.do(ctx, http.MethodGet, joinInfoPath, q, nil, &resp); err != nil {
		return domain.JoinInfo{}, err
	}
	info := domain.JoinInfo{
		AppID:       resp.AppID,
		ChannelName: resp.ChannelName,
		ViewerID:    resp.ViewerID,
		AccessToken: resp.Token,
	}
	if err := info.Validate(); err != nil {
		log.Warn().Err(err).Str("module", "gateway").Int64("broadcast", int64(id)).Msg("join-info rejected")
		return domain.JoinInfo{}, err
	}
	log.Debug().Str("module", "gateway").Int64("broadcast", int64(id)).Str("channel", info.ChannelName).Msg("join-info fetched")
	return info, nil
}

func (c *Client) SendHeartbeat(ctx context.Context, id domain.BroadcastID) (domain.ViewerCount, error) {
	if err := id.Validate(); err != nil {
		return 0, err
	}
	body := struct {
		BroadcastID int64 `json:"broadcastId"`
	}{int64(id)}
	var resp struct {
		Viewers *int `json:"viewers"`
	}
	if err := c.do(ctx, http.MethodPost, heartbeatPath, nil, body, &resp); err != nil {
		return 0, err
	}
	if resp.Viewers == nil {
		return 0, fmt.Errorf("%w: missing viewers", domain.ErrMalformedResponse)
	}
	return domain.ViewerCount(*resp.Viewers), nil
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, in, out any) error {
	u := *c.base
	u.Path = u.Path + path
	if q != nil {
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return c.transportError(ctx, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return c.transportError(ctx, err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("%w: %s %s: %w", domain.ErrNetwork, method, path,
			&StatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(data))})
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrMalformedResponse, path, err)
	}
	return nil
}

// transportError keeps a caller cancel distinguishable from a real failure.
func (c *Client) transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", domain.FromContext(ctxErr), err)
	}
	return fmt.Errorf("%w: %v", domain.ErrNetwork, err)
}
