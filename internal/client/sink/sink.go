// Package sink keeps one playback sink per remote participant that has
// produced an inbound audio stream.
package sink

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"
)

const DefaultVolume = 100

var (
	ErrNoSuchSink  = errors.New("no such sink")
	ErrVolumeRange = errors.New("volume must be within 0..100")
)

// Track is the inbound side of a media stream. *webrtc.TrackRemote
// satisfies it.
type Track interface {
	ID() string
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Renderer consumes packets of one remote stream. volume is in [0,1].
type Renderer interface {
	Render(pkt *rtp.Packet, volume float64) error
	Close() error
}

type RendererFactory func(remoteID string) (Renderer, error)

type Sink struct {
	remoteID string
	track    Track
	volume   atomic.Int32
	quit     chan struct{}
	done     chan struct{}
	once     sync.Once

	// mu serializes Render with Close. The reader may sit in ReadRTP long
	// after a stop, so stop closes the renderer itself.
	mu       sync.Mutex
	renderer Renderer
	closed   bool
}

func (s *Sink) stop() {
	s.once.Do(func() {
		close(s.quit)
		s.closeRenderer()
	})
}

func (s *Sink) closeRenderer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if err := s.renderer.Close(); err != nil {
		log.Warn().Err(err).Str("module", "client.sink").Str("remote", s.remoteID).Msg("renderer close")
	}
}

func (s *Sink) render(pkt *rtp.Packet) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, nil
	}
	vol := float64(s.volume.Load()) / 100
	return true, s.renderer.Render(pkt, vol)
}

func (s *Sink) read() {
	defer close(s.done)
	defer s.closeRenderer()
	for {
		pkt, _, err := s.track.ReadRTP()
		if err != nil {
			log.Debug().Err(err).Str("module", "client.sink").Str("remote", s.remoteID).Msg("track ended")
			return
		}
		select {
		case <-s.quit:
			return
		default:
		}
		ok, err := s.render(pkt)
		if !ok {
			return
		}
		if err != nil {
			log.Warn().Err(err).Str("module", "client.sink").Str("remote", s.remoteID).Msg("render")
			return
		}
	}
}

type Registry struct {
	mu      sync.Mutex
	sinks   map[string]*Sink
	factory RendererFactory
}

func NewRegistry(factory RendererFactory) *Registry {
	if factory == nil {
		factory = func(string) (Renderer, error) { return Discard{}, nil }
	}
	return &Registry{sinks: make(map[string]*Sink), factory: factory}
}

// Bind starts rendering track for remoteID, replacing any previous sink.
// The previous renderer is closed before the new one is created, so both
// never hold the same output.
func (r *Registry) Bind(remoteID string, track Track) error {
	r.mu.Lock()
	volume := int32(DefaultVolume)
	if old, ok := r.sinks[remoteID]; ok {
		volume = old.volume.Load()
		delete(r.sinks, remoteID)
		old.stop()
	}
	renderer, err := r.factory(remoteID)
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("renderer for %s: %w", remoteID, err)
	}
	s := &Sink{
		remoteID: remoteID,
		track:    track,
		renderer: renderer,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.volume.Store(volume)
	r.sinks[remoteID] = s
	r.mu.Unlock()

	go s.read()
	log.Info().Str("module", "client.sink").Str("remote", remoteID).Str("track", track.ID()).Msg("sink bound")
	return nil
}

func (r *Registry) SetVolume(remoteID string, pct int) error {
	if pct < 0 || pct > 100 {
		return ErrVolumeRange
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sinks[remoteID]
	if !ok {
		return ErrNoSuchSink
	}
	s.volume.Store(int32(pct))
	return nil
}

func (r *Registry) Volume(remoteID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sinks[remoteID]
	if !ok {
		return 0, ErrNoSuchSink
	}
	return int(s.volume.Load()), nil
}

// Release stops the sink for remoteID and closes its renderer.
func (r *Registry) Release(remoteID string) bool {
	r.mu.Lock()
	s, ok := r.sinks[remoteID]
	delete(r.sinks, remoteID)
	r.mu.Unlock()
	if ok {
		s.stop()
		log.Info().Str("module", "client.sink").Str("remote", remoteID).Msg("sink released")
	}
	return ok
}

func (r *Registry) ReleaseAll() int {
	r.mu.Lock()
	sinks := r.sinks
	r.sinks = make(map[string]*Sink)
	r.mu.Unlock()
	for _, s := range sinks {
		s.stop()
	}
	return len(sinks)
}

func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sinks))
	for id := range r.sinks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
