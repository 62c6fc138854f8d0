package sink

import (
	"sync/atomic"

	"github.com/pion/rtp"
)

// Counter is a PacketWriter that only counts.
type Counter struct {
	packets atomic.Uint64
	bytes   atomic.Uint64
}

func (c *Counter) WriteRTP(pkt *rtp.Packet) error {
	c.packets.Add(1)
	c.bytes.Add(uint64(len(pkt.Payload)))
	return nil
}

func (c *Counter) Packets() uint64 { return c.packets.Load() }
func (c *Counter) Bytes() uint64   { return c.bytes.Load() }

// KindStats describes what is attached for one media kind.
type KindStats struct {
	User      string `json:"user"`
	MimeType  string `json:"mimeType"`
	Packets   uint64 `json:"packets"`
	Bytes     uint64 `json:"bytes"`
	Muted     bool   `json:"muted,omitempty"`
	Recording string `json:"recording,omitempty"`
}

type Stats struct {
	Video *KindStats `json:"video,omitempty"`
	Audio *KindStats `json:"audio,omitempty"`
}
