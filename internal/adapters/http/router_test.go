package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/LiveView/internal/adapters/shell"
	"github.com/dkeye/LiveView/internal/app"
	"github.com/dkeye/LiveView/internal/app/orch"
	"github.com/dkeye/LiveView/internal/app/viewer"
	"github.com/dkeye/LiveView/internal/config"
	"github.com/dkeye/LiveView/internal/core/coretest"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type routerEnv struct {
	srv    *httptest.Server
	orch   *orch.Orchestrator
	tr     *coretest.Transport
	client *nethttp.Client
}

func newRouterEnv(t *testing.T) *routerEnv {
	t.Helper()
	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "index.html"), []byte("<h1>LiveView</h1>"), 0o644))

	cfg := &config.Config{Mode: "test", Secret: "test-secret", StaticPath: static}
	tr := coretest.NewTransport()
	o := &orch.Orchestrator{
		Registry:  app.NewRegistry(),
		Policy:    app.SimplePolicy{MaxDropped: 8},
		Gateway:   coretest.NewGateway(coretest.ValidInfo()),
		Transport: tr,
		Viewer:    viewer.Options{HeartbeatInterval: 20 * time.Millisecond, JoinTimeout: waitFor},
	}
	ctrl := shell.NewShellWSController(o, shell.NewOpenRateLimiter(10, time.Minute), shell.Config{})

	srv := httptest.NewServer(SetupRouter(context.Background(), cfg, o, ctrl))
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &routerEnv{srv: srv, orch: o, tr: tr, client: &nethttp.Client{Jar: jar}}
}

func (e *routerEnv) do(t *testing.T, method, path string, body any) (*nethttp.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := nethttp.NewRequest(method, e.srv.URL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestRouter_Healthz(t *testing.T) {
	e := newRouterEnv(t)

	resp, body := e.do(t, nethttp.MethodGet, "/api/healthz", nil)
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","viewers":0}`, string(body))

	var token string
	for _, c := range resp.Cookies() {
		if c.Name == "ct" {
			token = c.Value
		}
	}
	assert.NotEmpty(t, token, "client token cookie issued")
}

func TestRouter_Index(t *testing.T) {
	e := newRouterEnv(t)
	resp, body := e.do(t, nethttp.MethodGet, "/", nil)
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "LiveView")
}

func TestRouter_KickUnknown(t *testing.T) {
	e := newRouterEnv(t)
	resp, _ := e.do(t, nethttp.MethodDelete, "/api/viewers/nope", nil)
	assert.Equal(t, nethttp.StatusNotFound, resp.StatusCode)
}

func TestRouter_Session(t *testing.T) {
	e := newRouterEnv(t)

	resp, _ := e.do(t, nethttp.MethodPut, "/api/session", map[string]any{"lastBroadcast": -3})
	assert.Equal(t, nethttp.StatusBadRequest, resp.StatusCode)

	resp, _ = e.do(t, nethttp.MethodPut, "/api/session", map[string]any{"lastBroadcast": 42})
	require.Equal(t, nethttp.StatusNoContent, resp.StatusCode)

	resp, body := e.do(t, nethttp.MethodGet, "/api/session", nil)
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)
	var got struct {
		ClientToken   string `json:"clientToken"`
		LastBroadcast int64  `json:"lastBroadcast"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	assert.NotEmpty(t, got.ClientToken)
	assert.Equal(t, int64(42), got.LastBroadcast)
}

func TestNewSessionStore_CookieAttributes(t *testing.T) {
	for _, secure := range []bool{false, true} {
		t.Run(fmt.Sprintf("secure=%v", secure), func(t *testing.T) {
			r := gin.New()
			r.Use(sessions.Sessions("LiveViewSessions", NewSessionStore([]byte("k"), secure)))
			r.GET("/", func(c *gin.Context) {
				s := sessions.Default(c)
				s.Set("k", int64(1))
				require.NoError(t, s.Save())
				c.Status(nethttp.StatusNoContent)
			})

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(nethttp.MethodGet, "/", nil))

			var got *nethttp.Cookie
			for _, c := range rec.Result().Cookies() {
				if c.Name == "LiveViewSessions" {
					got = c
				}
			}
			require.NotNil(t, got)
			assert.Equal(t, secure, got.Secure)
			assert.True(t, got.HttpOnly)
			assert.Equal(t, nethttp.SameSiteLaxMode, got.SameSite)
			assert.Equal(t, "/", got.Path)
		})
	}
}

func TestRouter_ViewerLifecycle(t *testing.T) {
	e := newRouterEnv(t)
	resp, _ := e.do(t, nethttp.MethodPut, "/api/session", map[string]any{"lastBroadcast": 42})
	require.Equal(t, nethttp.StatusNoContent, resp.StatusCode)

	dialer := websocket.Dialer{Jar: e.client.Jar}
	ws, _, err := dialer.Dial("ws"+strings.TrimPrefix(e.srv.URL, "http")+"/api/ws/viewer", nil)
	require.NoError(t, err)
	defer ws.Close()

	read := func(pred func(map[string]any) bool) map[string]any {
		t.Helper()
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(waitFor)))
		for {
			var m map[string]any
			require.NoError(t, ws.ReadJSON(&m))
			if pred(m) {
				return m
			}
		}
	}

	hello := read(func(m map[string]any) bool { return m["type"] == "hello" })
	assert.EqualValues(t, 42, hello["lastBroadcast"])

	require.NoError(t, ws.WriteJSON(map[string]any{"type": "open", "broadcastId": hello["lastBroadcast"]}))
	read(func(m map[string]any) bool { return m["type"] == "state" && m["phase"] == "live" })

	resp, body := e.do(t, nethttp.MethodGet, "/api/viewers", nil)
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)
	var list struct {
		Viewers []app.MountSnapshot `json:"viewers"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Viewers, 1)
	assert.Equal(t, viewer.PhaseLive, list.Viewers[0].State.Phase)

	resp, _ = e.do(t, nethttp.MethodDelete, "/api/viewers/"+string(list.Viewers[0].ID), nil)
	require.Equal(t, nethttp.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 1, e.tr.Last().LeaveCalls())

	require.Eventually(t, func() bool { return e.orch.Registry.Len() == 0 }, waitFor, 5*time.Millisecond)
}
