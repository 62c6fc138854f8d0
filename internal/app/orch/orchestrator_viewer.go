package orch

import (
	"github.com/dkeye/LiveView/internal/core"
	"github.com/dkeye/LiveView/internal/domain"
	"github.com/rs/zerolog/log"
)

// Open starts (or restarts) the mount's viewer on broadcast b.
func (o *Orchestrator) Open(id core.SessionID, b domain.BroadcastID) error {
	m, ok := o.Registry.Get(id)
	if !ok {
		return ErrUnknownMount
	}
	log.Info().Str("module", "orch").Str("sid", string(id)).Int64("broadcast", int64(b)).Msg("open")
	return m.Viewer.Start(b)
}

// Close stops the mount's viewer but keeps the mount.
func (o *Orchestrator) Close(id core.SessionID) error {
	m, ok := o.Registry.Get(id)
	if !ok {
		return ErrUnknownMount
	}
	log.Info().Str("module", "orch").Str("sid", string(id)).Msg("close")
	m.Viewer.Stop()
	return nil
}

// Kick stops the viewer and ends the mount's context so the shell
// disconnects.
func (o *Orchestrator) Kick(id core.SessionID) bool {
	m, ok := o.Registry.Get(id)
	if !ok {
		return false
	}
	m.Viewer.Stop()
	return o.Registry.Cancel(id)
}
