package orch

import (
	"github.com/dkeye/LiveView/internal/app/sink"
	"github.com/dkeye/LiveView/internal/core"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) SetMuted(id core.SessionID, muted bool) error {
	m, ok := o.Registry.Get(id)
	if !ok {
		return ErrUnknownMount
	}
	m.Target.SetAudioMuted(muted)
	log.Info().Str("module", "orch").Str("sid", string(id)).Bool("muted", muted).Msg("audio mute")
	return nil
}

func (o *Orchestrator) MediaStats(id core.SessionID) (sink.Stats, error) {
	m, ok := o.Registry.Get(id)
	if !ok {
		return sink.Stats{}, ErrUnknownMount
	}
	return m.Target.Stats(), nil
}
