package sink

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dkeye/LiveView/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

type recorder interface {
	PacketWriter
	Close() error
}

// openRecorder picks a container for the codec. ok is false when the codec
// has no container. seq keeps files of one target apart when the same user
// republishes within a second.
func openRecorder(dir, name string, user domain.UserID, mime string, seq uint64) (rec recorder, path string, ok bool, err error) {
	stamp := time.Now().UTC().Format("20060102T150405")
	base := fmt.Sprintf("%s-%s-%s-%d", safeName(name), safeName(string(user)), stamp, seq)

	switch {
	case strings.EqualFold(mime, webrtc.MimeTypeVP8):
		path = filepath.Join(dir, base+".ivf")
		rec, err = ivfwriter.New(path)
	case strings.EqualFold(mime, webrtc.MimeTypeOpus):
		path = filepath.Join(dir, base+".ogg")
		rec, err = oggwriter.New(path, 48000, 2)
	default:
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", true, fmt.Errorf("open recorder %s: %w", path, err)
	}
	return rec, path, true, nil
}

func safeName(s string) string {
	if s == "" {
		return "anon"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}
