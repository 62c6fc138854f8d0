package shell

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/LiveView/internal/app"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *ShellWSController) writePump(ctx context.Context, c *WsShellConn) {
	var ping <-chan time.Time
	if ctl.cfg.PingPeriod > 0 {
		t := time.NewTicker(ctl.cfg.PingPeriod)
		defer t.Stop()
		ping = t.C
	}
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "shell").Msg("writePump ctx done")
			return
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debug().Err(err).Str("module", "shell").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "shell").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "shell").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "shell").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump owns the mount: when the socket goes away the viewer is stopped
// and the mount dropped.
func (ctl *ShellWSController) readPump(ctx context.Context, m *app.Mount, c *WsShellConn) {
	sid := string(m.ID)
	defer func() {
		log.Info().Str("module", "shell").Str("sid", sid).Msg("readPump closing")
		ctl.Orch.Unmount(m.ID)
		c.Close()
	}()

	if ctl.cfg.PingPeriod > 0 {
		pongWait := ctl.cfg.PingPeriod * 10 / 9
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "shell").Str("sid", sid).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Info().Str("module", "shell").Str("sid", sid).Msg("shell closed")
				} else {
					log.Warn().Err(err).Str("module", "shell").Str("sid", sid).Msg("readPump read error")
				}
				return
			}
			ctl.handleMessage(m, data)
		}
	}
}

func (ctl *ShellWSController) handleMessage(m *app.Mount, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "shell").Msg("bad json")
		ctl.sendError(m, "bad_json")
		return
	}

	switch env.Type {
	case "open":
		ctl.handleOpen(m, data)
	case "close":
		ctl.handleClose(m)
	case "key":
		ctl.handleKey(m, data)
	case "mute":
		ctl.handleMute(m, data)
	case "state":
		ctl.pushState(m, m.Viewer.State())
	case "stats":
		ctl.handleStats(m)
	case "ping":
		ctl.handlePing(m)
	default:
		log.Warn().Str("module", "shell").Str("type", env.Type).Msg("unknown message")
		ctl.sendError(m, "unknown_type")
	}
}

func (ctl *ShellWSController) sendJSON(m *app.Mount, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "shell").Msg("sendJSON marshal")
		return
	}
	ctl.Orch.Deliver(m, b)
}

func (ctl *ShellWSController) sendError(m *app.Mount, code string) {
	ctl.sendJSON(m, map[string]any{
		"type":  "error",
		"error": code,
	})
}
