package app

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMount
)

// Policy decides what happens to a mount whose shell cannot keep up.
type Policy interface {
	OnBackPressure(m *Mount, dropped int) BackpressureAction
}

// SimplePolicy drops state frames and kicks the mount after MaxDropped in a
// row. State frames are snapshots, so a dropped one is superseded by the
// next.
type SimplePolicy struct {
	MaxDropped int
}

func (p SimplePolicy) OnBackPressure(_ *Mount, dropped int) BackpressureAction {
	if p.MaxDropped > 0 && dropped >= p.MaxDropped {
		return KickMount
	}
	return DropFrame
}
