// Package orch ties shell mounts to viewer controllers and their sinks.
package orch

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/LiveView/internal/app"
	"github.com/dkeye/LiveView/internal/app/sink"
	"github.com/dkeye/LiveView/internal/app/viewer"
	"github.com/dkeye/LiveView/internal/core"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var ErrUnknownMount = errors.New("unknown mount")

type Orchestrator struct {
	Registry  *app.Registry
	Policy    app.Policy
	Gateway   core.Gateway
	Transport core.Transport
	Viewer    viewer.Options
	Sink      sink.Options
}

// Mount creates the controller and media target for a new shell connection.
// onState sees every state change of the mount's controller and must not
// block. The returned ctx ends when the mount is kicked.
func (o *Orchestrator) Mount(
	ctx context.Context,
	token core.ClientToken,
	conn core.ShellConnection,
	onState func(*app.Mount, viewer.State),
) (*app.Mount, context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	id := core.SessionID(uuid.NewString())
	m := app.NewMount(id, token, conn, cancel)

	vopts := o.Viewer
	vopts.Name = string(id)
	sopts := o.Sink
	sopts.Name = string(id)

	m.Target = sink.NewTarget(sopts)
	m.Viewer = viewer.New(o.Gateway, o.Transport, m.Target, vopts)
	if onState != nil {
		m.Viewer.OnChange(func(s viewer.State) { onState(m, s) })
	}
	o.Registry.Bind(m)

	log.Info().Str("module", "orch").Str("sid", string(id)).Str("token", string(token)).Msg("mounted")
	return m, ctx
}

// Unmount stops the viewer and forgets the mount. Safe to call twice.
func (o *Orchestrator) Unmount(id core.SessionID) {
	m, ok := o.Registry.Unbind(id)
	if !ok {
		return
	}
	start := time.Now()
	m.Viewer.Stop()
	m.Target.Close()
	m.Cancel()
	log.Info().Str("module", "orch").Str("sid", string(id)).Dur("took", time.Since(start)).Msg("unmounted")
}

// Deliver pushes a frame to the mount's shell, applying the backpressure
// policy when the shell is behind.
func (o *Orchestrator) Deliver(m *app.Mount, f core.Frame) {
	err := m.Conn.TrySend(f)
	if err == nil {
		m.NoteSent()
		return
	}
	if !errors.Is(err, core.ErrBackpressure) {
		log.Debug().Err(err).Str("module", "orch").Str("sid", string(m.ID)).Msg("deliver failed")
		return
	}
	dropped := m.NoteDropped()
	if o.Policy == nil {
		return
	}
	switch o.Policy.OnBackPressure(m, dropped) {
	case app.KickMount:
		log.Warn().Str("module", "orch").Str("sid", string(m.ID)).Int("dropped", dropped).Msg("shell too slow, kicking")
		// Deliver may run inside a state callback, which must not stop
		// the controller synchronously.
		go o.Kick(m.ID)
	case app.DropFrame, app.NoAction:
	}
}
