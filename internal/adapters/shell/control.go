package shell

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/LiveView/internal/app"
	"github.com/dkeye/LiveView/internal/app/viewer"
	"github.com/dkeye/LiveView/internal/core"
	"github.com/dkeye/LiveView/internal/domain"
	"github.com/rs/zerolog/log"
)

type helloMessage struct {
	Type          string             `json:"type"`
	Mount         core.SessionID     `json:"mount"`
	LastBroadcast domain.BroadcastID `json:"lastBroadcast,omitempty"`
}

type stateMessage struct {
	Type string `json:"type"`
	viewer.State
}

func (ctl *ShellWSController) pushState(m *app.Mount, s viewer.State) {
	ctl.sendJSON(m, stateMessage{Type: "state", State: s})
}

func (ctl *ShellWSController) handleOpen(m *app.Mount, data []byte) {
	var p struct {
		BroadcastID int64 `json:"broadcastId"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "shell").Msg("bad open payload")
		ctl.sendError(m, "bad_payload")
		return
	}
	if ctl.Limiter != nil && !ctl.Limiter.Allow(m.Token) {
		log.Warn().Str("module", "shell").Str("sid", string(m.ID)).Msg("open rate limited")
		ctl.sendError(m, "too_many_opens")
		return
	}
	if err := ctl.Orch.Open(m.ID, domain.BroadcastID(p.BroadcastID)); err != nil {
		if errors.Is(err, domain.ErrInvalidBroadcast) {
			ctl.sendError(m, "invalid_broadcast")
			return
		}
		log.Error().Err(err).Str("module", "shell").Str("sid", string(m.ID)).Msg("open")
		ctl.sendError(m, "open_failed")
	}
}

// handleClose is the close button.
func (ctl *ShellWSController) handleClose(m *app.Mount) {
	if err := ctl.Orch.Close(m.ID); err != nil {
		log.Error().Err(err).Str("module", "shell").Str("sid", string(m.ID)).Msg("close")
	}
}

// handleKey binds Escape to the close path.
func (ctl *ShellWSController) handleKey(m *app.Mount, data []byte) {
	var p struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(m, "bad_payload")
		return
	}
	if p.Key == "Escape" {
		ctl.handleClose(m)
	}
}

func (ctl *ShellWSController) handleMute(m *app.Mount, data []byte) {
	var p struct {
		Muted bool `json:"muted"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(m, "bad_payload")
		return
	}
	if err := ctl.Orch.SetMuted(m.ID, p.Muted); err != nil {
		log.Error().Err(err).Str("module", "shell").Str("sid", string(m.ID)).Msg("mute")
	}
}

func (ctl *ShellWSController) handleStats(m *app.Mount) {
	stats, err := ctl.Orch.MediaStats(m.ID)
	if err != nil {
		ctl.sendError(m, "unknown_mount")
		return
	}
	ctl.sendJSON(m, map[string]any{
		"type":  "stats",
		"media": stats,
	})
}

func (ctl *ShellWSController) handlePing(m *app.Mount) {
	resp := struct {
		Type string `json:"type"`
	}{
		Type: "pong",
	}
	ctl.sendJSON(m, resp)
}
