package sink

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

// Discard drops every packet. It keeps the inbound stream drained when
// nothing records it.
type Discard struct{}

func (Discard) Render(*rtp.Packet, float64) error { return nil }

func (Discard) Close() error { return nil }

// OggRecorder writes the remote Opus stream to an Ogg file. Encoded audio
// cannot be scaled, so any volume above zero records and zero mutes.
type OggRecorder struct {
	w *oggwriter.OggWriter
}

func NewOggRecorder(path string) (*OggRecorder, error) {
	w, err := oggwriter.New(path, 48000, 2)
	if err != nil {
		return nil, fmt.Errorf("ogg recorder %s: %w", path, err)
	}
	return &OggRecorder{w: w}, nil
}

func (o *OggRecorder) Render(pkt *rtp.Packet, volume float64) error {
	if volume == 0 {
		return nil
	}
	return o.w.WriteRTP(pkt)
}

func (o *OggRecorder) Close() error { return o.w.Close() }

// RecorderFactory records each remote to dir/<remoteID>.ogg.
func RecorderFactory(dir string) (RendererFactory, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return func(remoteID string) (Renderer, error) {
		return NewOggRecorder(filepath.Join(dir, filepath.Base(remoteID)+".ogg"))
	}, nil
}
