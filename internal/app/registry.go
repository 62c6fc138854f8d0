package app

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/LiveView/internal/app/sink"
	"github.com/dkeye/LiveView/internal/app/viewer"
	"github.com/dkeye/LiveView/internal/core"
	"github.com/rs/zerolog/log"
)

// Mount is one mounted viewer: a shell connection with its controller and
// media target.
type Mount struct {
	ID        core.SessionID
	Token     core.ClientToken
	Viewer    *viewer.Controller
	Target    *sink.Target
	Conn      core.ShellConnection
	MountedAt time.Time

	cancel  context.CancelFunc
	dropped atomic.Int32
}

func NewMount(id core.SessionID, token core.ClientToken, conn core.ShellConnection, cancel context.CancelFunc) *Mount {
	return &Mount{
		ID:        id,
		Token:     token,
		Conn:      conn,
		MountedAt: time.Now(),
		cancel:    cancel,
	}
}

// Dropped counts consecutive frames lost to backpressure.
func (m *Mount) Dropped() int { return int(m.dropped.Load()) }

// NoteDropped records a frame lost to backpressure and returns the run length.
func (m *Mount) NoteDropped() int { return int(m.dropped.Add(1)) }

// NoteSent resets the dropped run.
func (m *Mount) NoteSent() { m.dropped.Store(0) }

// Cancel ends the mount's context.
func (m *Mount) Cancel() {
	if m.cancel != nil {
		m.cancel()
	}
}

// MountSnapshot is the admin view of a mount.
type MountSnapshot struct {
	ID        core.SessionID `json:"id"`
	MountedAt time.Time      `json:"mountedAt"`
	State     viewer.State   `json:"state"`
	Media     sink.Stats     `json:"media"`
}

type Registry struct {
	mu     sync.RWMutex
	mounts map[core.SessionID]*Mount
}

func NewRegistry() *Registry {
	return &Registry{
		mounts: make(map[core.SessionID]*Mount),
	}
}

func (r *Registry) Bind(m *Mount) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mounts[m.ID] = m
	log.Info().Str("module", "app.registry").Str("sid", string(m.ID)).Msg("bound mount")
}

// Unbind removes id and reports whether it was present.
func (r *Registry) Unbind(id core.SessionID) (*Mount, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.mounts[id]
	if ok {
		delete(r.mounts, id)
		log.Info().Str("module", "app.registry").Str("sid", string(id)).Msg("unbind mount")
	}
	return m, ok
}

func (r *Registry) Get(id core.SessionID) (*Mount, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mounts[id]
	return m, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mounts)
}

// MountsOf lists the mounts opened by one client token.
func (r *Registry) MountsOf(token core.ClientToken) []*Mount {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Mount
	for _, m := range r.mounts {
		if m.Token == token {
			out = append(out, m)
		}
	}
	return out
}

// Snapshot returns every mount, oldest first.
func (r *Registry) Snapshot() []MountSnapshot {
	r.mu.RLock()
	mounts := make([]*Mount, 0, len(r.mounts))
	for _, m := range r.mounts {
		mounts = append(mounts, m)
	}
	r.mu.RUnlock()

	sort.Slice(mounts, func(i, j int) bool {
		if mounts[i].MountedAt.Equal(mounts[j].MountedAt) {
			return mounts[i].ID < mounts[j].ID
		}
		return mounts[i].MountedAt.Before(mounts[j].MountedAt)
	})
	out := make([]MountSnapshot, 0, len(mounts))
	for _, m := range mounts {
		s := MountSnapshot{ID: m.ID, MountedAt: m.MountedAt}
		if m.Viewer != nil {
			s.State = m.Viewer.State()
		}
		if m.Target != nil {
			s.Media = m.Target.Stats()
		}
		out = append(out, s)
	}
	return out
}

// Cancel ends the mount's context; the shell adapter notices and unmounts.
func (r *Registry) Cancel(id core.SessionID) bool {
	r.mu.RLock()
	m, ok := r.mounts[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	m.Cancel()
	log.Info().Str("module", "app.registry").Str("sid", string(id)).Msg("canceled mount")
	return true
}
