// Package shell is the websocket face of a viewer: every connection is one
// mount, opening and closing a live session on request and pushing its
// state back.
package shell

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/LiveView/internal/app/orch"
	"github.com/dkeye/LiveView/internal/core"
	"github.com/dkeye/LiveView/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// SessionLastBroadcast is the cookie-session key holding the last opened
// broadcast id.
const SessionLastBroadcast = "last_broadcast"

type Config struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendQueue  int
	// MountsPerToken caps open shells per client token; 0 disables.
	MountsPerToken int
}

type ShellWSController struct {
	Orch    *orch.Orchestrator
	Limiter *OpenRateLimiter
	cfg     Config
}

func NewShellWSController(o *orch.Orchestrator, limiter *OpenRateLimiter, cfg Config) *ShellWSController {
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = 32
	}
	return &ShellWSController{
		Orch:    o,
		Limiter: limiter,
		cfg:     cfg,
	}
}

type WsShellConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsShellConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsShellConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// lastBroadcast reads the cookie session, if the router installed one.
func lastBroadcast(c *gin.Context) domain.BroadcastID {
	if _, ok := c.Get(sessions.DefaultKey); !ok {
		return 0
	}
	if v, ok := sessions.Default(c).Get(SessionLastBroadcast).(int64); ok {
		return domain.BroadcastID(v)
	}
	return 0
}

func (ctl *ShellWSController) HandleShell(ctx context.Context, c *gin.Context) {
	token := core.ClientToken(c.GetString("client_token"))
	last := lastBroadcast(c)
	log.Info().Str("module", "shell").Str("token", string(token)).Msg("new WS connection")

	if limit := ctl.cfg.MountsPerToken; limit > 0 {
		if n := len(ctl.Orch.Registry.MountsOf(token)); n >= limit {
			log.Warn().Str("module", "shell").Str("token", string(token)).Int("mounts", n).Msg("too many mounts")
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too_many_mounts"})
			return
		}
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	if ctl.cfg.ReadLimit > 0 {
		ws.SetReadLimit(ctl.cfg.ReadLimit)
	}

	conn := &WsShellConn{
		conn: ws,
		send: make(chan core.Frame, ctl.cfg.SendQueue),
	}

	m, mctx := ctl.Orch.Mount(ctx, token, conn, ctl.pushState)
	go func() {
		<-mctx.Done()
		conn.Close()
	}()

	ctl.sendJSON(m, helloMessage{Type: "hello", Mount: m.ID, LastBroadcast: last})
	ctl.pushState(m, m.Viewer.State())

	go ctl.writePump(mctx, conn)
	go ctl.readPump(mctx, m, conn)
}
