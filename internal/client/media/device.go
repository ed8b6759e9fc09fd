package media

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const (
	sampleRate   = 48000
	defaultFrame = 20 * time.Millisecond
)

// silenceFrame is an Opus packet that decodes to 20 ms of silence.
var silenceFrame = []byte{0xf8, 0xff, 0xfe}

// Device is a capture source that can be held by one user at a time.
type Device interface {
	Name() string
	Acquire() (Capture, error)
}

// Capture yields encoded Opus frames with their playout duration.
type Capture interface {
	NextFrame() ([]byte, time.Duration, error)
	Close() error
}

// OggDevice plays an Opus-in-Ogg file as if it were a microphone.
// An exclusive lock next to the file stands in for device ownership.
type OggDevice struct {
	Path string
	Loop bool
}

func NewOggDevice(path string, loop bool) *OggDevice {
	return &OggDevice{Path: path, Loop: loop}
}

func (d *OggDevice) Name() string { return d.Path }

func (d *OggDevice) Acquire() (Capture, error) {
	fi, err := os.Stat(d.Path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, ErrDeviceNotFound
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	case fi.IsDir():
		return nil, fmt.Errorf("%w: %s is a directory", ErrCaptureUnavailable, d.Path)
	}

	lock := flock.New(d.Path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}
	if !locked {
		return nil, ErrDeviceBusy
	}

	f, err := os.Open(d.Path)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}
	r, _, err := oggreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}
	return &oggCapture{f: f, r: r, lock: lock, loop: d.Loop}, nil
}

type oggCapture struct {
	f       *os.File
	r       *oggreader.OggReader
	lock    *flock.Flock
	loop    bool
	granule uint64
}

func (c *oggCapture) NextFrame() ([]byte, time.Duration, error) {
	rewound := false
	for {
		page, hdr, err := c.r.ParseNextPage()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			// a file with no audio pages must not spin forever
			if !c.loop || rewound {
				return nil, 0, io.EOF
			}
			if err := c.rewind(); err != nil {
				return nil, 0, err
			}
			rewound = true
			continue
		}
		if err != nil {
			return nil, 0, err
		}
		if isHeaderPage(page) {
			continue
		}

		samples := hdr.GranulePosition - c.granule
		c.granule = hdr.GranulePosition
		d := time.Duration(samples) * time.Second / sampleRate
		if d < time.Millisecond || d > time.Second {
			d = defaultFrame
		}
		return page, d, nil
	}
}

func (c *oggCapture) rewind() error {
	if _, err := c.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	c.r.ResetReader(func(int64) io.Reader { return c.f })
	c.granule = 0
	return nil
}

func (c *oggCapture) Close() error {
	err := c.f.Close()
	if uerr := c.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}

func isHeaderPage(p []byte) bool {
	s := string(p[:min(len(p), 8)])
	return strings.HasPrefix(s, "OpusHead") || strings.HasPrefix(s, "OpusTags")
}

// SilenceDevice never fails and only produces silence.
type SilenceDevice struct{}

func (SilenceDevice) Name() string { return "silence" }

func (SilenceDevice) Acquire() (Capture, error) { return silence{}, nil }

type silence struct{}

func (silence) NextFrame() ([]byte, time.Duration, error) { return silenceFrame, defaultFrame, nil }

func (silence) Close() error { return nil }
