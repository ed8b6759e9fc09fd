// Package media owns the local microphone: acquisition, gating and the
// outbound Opus track shared by every peer link.
package media

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

// TrackAttacher adds the outbound track to every open and future link.
type TrackAttacher interface {
	AttachTrack(webrtc.TrackLocal)
}

type Controller struct {
	dev   Device
	peers TrackAttacher

	mu      sync.Mutex
	capture Capture
	track   *webrtc.TrackLocalStaticSample
	cancel  context.CancelFunc
	done    chan struct{}

	enabled atomic.Bool
}

func NewController(dev Device, peers TrackAttacher) *Controller {
	return &Controller{dev: dev, peers: peers}
}

// EnableMicrophone acquires the device on first use and unmutes it.
// A later call only unmutes.
func (c *Controller) EnableMicrophone(ctx context.Context) error {
	c.mu.Lock()
	if c.capture != nil {
		c.mu.Unlock()
		c.enabled.Store(true)
		return nil
	}
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		return &Error{Op: "acquire", Device: c.dev.Name(), Err: err}
	}

	capture, err := c.dev.Acquire()
	if err != nil {
		c.mu.Unlock()
		if !isMediaErr(err) {
			err = errors.Join(ErrCaptureUnavailable, err)
		}
		return &Error{Op: "acquire", Device: c.dev.Name(), Err: err}
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: sampleRate, Channels: 2},
		"audio", "meshvoice-mic",
	)
	if err != nil {
		_ = capture.Close()
		c.mu.Unlock()
		return &Error{Op: "track", Device: c.dev.Name(), Err: errors.Join(ErrCaptureUnavailable, err)}
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	c.capture, c.track, c.cancel = capture, track, cancel
	c.done = make(chan struct{})
	c.enabled.Store(true)
	go c.pump(pumpCtx, capture, track, c.done)
	c.mu.Unlock()

	log.Info().Str("module", "client.media").Str("device", c.dev.Name()).Msg("microphone acquired")
	if c.peers != nil {
		c.peers.AttachTrack(track)
	}
	return nil
}

// DisableMicrophone mutes the track. The device stays acquired and
// silence keeps the RTP clock running.
func (c *Controller) DisableMicrophone() {
	if c.enabled.Swap(false) {
		log.Info().Str("module", "client.media").Msg("microphone muted")
	}
}

func (c *Controller) Enabled() bool { return c.enabled.Load() }

func (c *Controller) Acquired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capture != nil
}

// Track returns the outbound track, or nil before acquisition.
func (c *Controller) Track() webrtc.TrackLocal {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.track == nil {
		return nil
	}
	return c.track
}

// Release stops the capture. Calling it again is a no-op.
func (c *Controller) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capture == nil {
		return nil
	}
	c.cancel()
	<-c.done
	err := c.capture.Close()
	c.capture, c.track, c.cancel, c.done = nil, nil, nil, nil
	c.enabled.Store(false)
	log.Info().Str("module", "client.media").Str("device", c.dev.Name()).Msg("microphone released")
	if err != nil {
		return &Error{Op: "release", Device: c.dev.Name(), Err: err}
	}
	return nil
}

func (c *Controller) pump(ctx context.Context, capture Capture, track *webrtc.TrackLocalStaticSample, done chan struct{}) {
	defer close(done)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		data, d, err := capture.NextFrame()
		if errors.Is(err, io.EOF) {
			log.Info().Str("module", "client.media").Msg("capture ended")
			return
		}
		if err != nil {
			log.Error().Str("module", "client.media").Err(err).Msg("capture read")
			return
		}
		if !c.enabled.Load() {
			data, d = silenceFrame, defaultFrame
		}
		if err := track.WriteSample(pionmedia.Sample{Data: data, Duration: d}); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			log.Warn().Str("module", "client.media").Err(err).Msg("write sample")
		}
		timer.Reset(d)
	}
}

func isMediaErr(err error) bool {
	return errors.Is(err, ErrCaptureUnavailable) || errors.Is(err, ErrDeviceNotFound) || errors.Is(err, ErrDeviceBusy)
}
