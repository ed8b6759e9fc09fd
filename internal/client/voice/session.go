// Package voice drives one participant: room membership, voice
// participation and the dispatch of relay frames to the peer mesh.
package voice

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/dkeye/meshvoice/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrTransportClosed = errors.New("transport closed")
	ErrNotInVoice      = errors.New("not in voice")
	ErrNotJoined       = errors.New("not joined to a room")
	ErrInvalidJoin     = errors.New("username and room are required")
)

type Transport interface {
	Send(protocol.Message) error
	Incoming() <-chan protocol.Message
	Close()
}

type Peers interface {
	SetLocalID(id string)
	Connect(remoteID, username string) error
	HandleOffer(from, username string, sd webrtc.SessionDescription) error
	HandleAnswer(from string, sd webrtc.SessionDescription) error
	HandleCandidate(from string, c webrtc.ICECandidateInit) error
	HandleRenegotiate(from string) error
	Disconnect(remoteID string) bool
	CloseAll() int
}

type Mic interface {
	EnableMicrophone(ctx context.Context) error
	DisableMicrophone()
	Enabled() bool
	Release() error
}

type Sinks interface {
	SetVolume(remoteID string, pct int) error
	Release(remoteID string) bool
	ReleaseAll() int
}

type EventKind string

const (
	EventRoster     EventKind = "roster"
	EventUserJoined EventKind = "user-joined"
	EventUserLeft   EventKind = "user-left"
	EventError      EventKind = "error"
)

type Event struct {
	Kind     EventKind
	UserID   string
	Username string
	Code     string
}

type Options struct {
	// MicOnJoin acquires the microphone as part of JoinVoice.
	MicOnJoin bool
	OnEvent   func(Event)
}

type Session struct {
	tr    Transport
	peers Peers
	mic   Mic
	sinks Sinks
	opts  Options

	mu       sync.Mutex
	selfID   string
	username string
	room     string
	roster   map[string]string
	inVoice  bool

	// ready closes with the first room snapshot, gone when Run returns.
	ready     chan struct{}
	readyOnce sync.Once
	gone      chan struct{}
	goneOnce  sync.Once
}

func NewSession(tr Transport, peers Peers, mic Mic, sinks Sinks, opts Options) *Session {
	return &Session{
		tr:     tr,
		peers:  peers,
		mic:    mic,
		sinks:  sinks,
		opts:   opts,
		roster: make(map[string]string),
		ready:  make(chan struct{}),
		gone:   make(chan struct{}),
	}
}

func (s *Session) JoinRoom(username, room string) error {
	username, room = strings.TrimSpace(username), strings.TrimSpace(room)
	if username == "" || room == "" {
		return ErrInvalidJoin
	}
	s.mu.Lock()
	s.username, s.room = username, room
	s.mu.Unlock()
	return s.tr.Send(protocol.Join{Username: username, RoomID: room})
}

// JoinVoice enters voice and initiates a link to every known member.
// Called right after JoinRoom it blocks until the room snapshot arrived,
// so Run has to be dispatching. A microphone failure keeps the session out
// of voice.
func (s *Session) JoinVoice(ctx context.Context) error {
	s.mu.Lock()
	room := s.room
	s.mu.Unlock()
	if room == "" {
		return ErrNotJoined
	}

	select {
	case <-s.ready:
	case <-s.gone:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	if s.inVoice {
		s.mu.Unlock()
		return nil
	}
	username := s.username
	s.mu.Unlock()

	if s.opts.MicOnJoin {
		if err := s.mic.EnableMicrophone(ctx); err != nil {
			return err
		}
	}
	if err := s.tr.Send(protocol.JoinVoice{Username: username}); err != nil {
		_ = s.mic.Release()
		return err
	}

	s.mu.Lock()
	s.inVoice = true
	members := s.rosterLocked()
	s.mu.Unlock()

	for _, u := range members {
		if err := s.peers.Connect(u.UserID, u.Username); err != nil {
			log.Error().Str("module", "client.voice").Str("remote", u.UserID).Err(err).Msg("connect")
		}
	}
	log.Info().Str("module", "client.voice").Int("peers", len(members)).Msg("joined voice")
	return nil
}

func (s *Session) EnableMicrophone(ctx context.Context) error {
	if !s.InVoice() {
		return ErrNotInVoice
	}
	return s.mic.EnableMicrophone(ctx)
}

func (s *Session) DisableMicrophone() { s.mic.DisableMicrophone() }

func (s *Session) MicEnabled() bool { return s.mic.Enabled() }

func (s *Session) SetVolume(remoteID string, pct int) error {
	return s.sinks.SetVolume(remoteID, pct)
}

// LeaveVoice closes every link and releases the microphone. A second
// call is a no-op.
func (s *Session) LeaveVoice() error {
	if !s.teardown() {
		return nil
	}
	s.mu.Lock()
	username := s.username
	s.mu.Unlock()
	return s.tr.Send(protocol.LeaveVoice{Username: username})
}

func (s *Session) teardown() bool {
	s.mu.Lock()
	if !s.inVoice {
		s.mu.Unlock()
		return false
	}
	s.inVoice = false
	s.mu.Unlock()

	links := s.peers.CloseAll()
	sinks := s.sinks.ReleaseAll()
	if err := s.mic.Release(); err != nil {
		log.Warn().Str("module", "client.voice").Err(err).Msg("release microphone")
	}
	log.Info().Str("module", "client.voice").Int("links", links).Int("sinks", sinks).Msg("left voice")
	return true
}

func (s *Session) InVoice() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inVoice
}

// SelfID is empty until the room snapshot arrived.
func (s *Session) SelfID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfID
}

// Roster lists the other room members ordered by id.
func (s *Session) Roster() []protocol.UserInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rosterLocked()
}

func (s *Session) rosterLocked() []protocol.UserInfo {
	out := make([]protocol.UserInfo, 0, len(s.roster))
	for id, name := range s.roster {
		out = append(out, protocol.UserInfo{UserID: id, Username: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Run dispatches relay frames until ctx ends or the transport closes.
// Either way the session leaves voice; a lost transport is reported as
// ErrTransportClosed.
func (s *Session) Run(ctx context.Context) error {
	defer s.goneOnce.Do(func() { close(s.gone) })
	for {
		select {
		case <-ctx.Done():
			_ = s.LeaveVoice()
			s.tr.Close()
			return ctx.Err()
		case msg, ok := <-s.tr.Incoming():
			if !ok {
				s.teardown()
				return ErrTransportClosed
			}
			s.dispatch(msg)
		}
	}
}

func (s *Session) dispatch(msg protocol.Message) {
	logger := log.With().Str("module", "client.voice").Str("type", string(msg.Kind())).Logger()

	switch m := msg.(type) {
	case protocol.RoomUsers:
		s.mu.Lock()
		if m.UserID != "" {
			s.selfID = m.UserID
		}
		self := s.selfID
		for _, u := range m.Users {
			if u.UserID != self {
				s.roster[u.UserID] = u.Username
			}
		}
		s.mu.Unlock()
		if self != "" {
			s.peers.SetLocalID(self)
		}
		s.readyOnce.Do(func() { close(s.ready) })
		s.emit(Event{Kind: EventRoster, UserID: self})

	case protocol.UserJoined:
		s.mu.Lock()
		s.roster[m.UserID] = m.Username
		inVoice := s.inVoice
		s.mu.Unlock()
		s.emit(Event{Kind: EventUserJoined, UserID: m.UserID, Username: m.Username})
		if inVoice {
			if err := s.peers.Connect(m.UserID, m.Username); err != nil {
				logger.Error().Err(err).Str("remote", m.UserID).Msg("connect")
			}
		}

	case protocol.UserLeft:
		s.mu.Lock()
		delete(s.roster, m.UserID)
		s.mu.Unlock()
		s.peers.Disconnect(m.UserID)
		s.sinks.Release(m.UserID)
		s.emit(Event{Kind: EventUserLeft, UserID: m.UserID, Username: m.Username})

	case protocol.Offer:
		if !s.addressed(m.From, m.To) {
			return
		}
		sd, err := m.Description()
		if err != nil {
			logger.Warn().Err(err).Msg("bad offer")
			return
		}
		s.mu.Lock()
		if _, ok := s.roster[m.From]; !ok {
			s.roster[m.From] = m.Username
		}
		s.mu.Unlock()
		if err := s.peers.HandleOffer(m.From, m.Username, sd); err != nil {
			logger.Warn().Err(err).Str("remote", m.From).Msg("offer")
		}

	case protocol.Answer:
		if !s.addressed(m.From, m.To) {
			return
		}
		sd, err := m.Description()
		if err != nil {
			logger.Warn().Err(err).Msg("bad answer")
			return
		}
		if err := s.peers.HandleAnswer(m.From, sd); err != nil {
			logger.Warn().Err(err).Str("remote", m.From).Msg("answer dropped")
		}

	case protocol.ICECandidate:
		if !s.addressed(m.From, m.To) {
			return
		}
		c, err := m.Init()
		if err != nil {
			logger.Warn().Err(err).Msg("bad candidate")
			return
		}
		if err := s.peers.HandleCandidate(m.From, c); err != nil {
			logger.Debug().Err(err).Str("remote", m.From).Msg("candidate dropped")
		}

	case protocol.Renegotiate:
		if !s.addressed(m.From, m.To) {
			return
		}
		if err := s.peers.HandleRenegotiate(m.From); err != nil {
			logger.Debug().Err(err).Str("remote", m.From).Msg("renegotiation request dropped")
		}

	case protocol.Error:
		logger.Warn().Str("code", m.Code).Msg("server error")
		s.emit(Event{Kind: EventError, Code: m.Code})

	case protocol.Pong:
	default:
		logger.Debug().Msg("ignored")
	}
}

// addressed drops frames without a sender and frames meant for another
// member, which only arrive if the relay broadcast them.
func (s *Session) addressed(from, to string) bool {
	if from == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if from == s.selfID {
		return false
	}
	return to == "" || s.selfID == "" || to == s.selfID
}

func (s *Session) emit(ev Event) {
	if s.opts.OnEvent != nil {
		s.opts.OnEvent(ev)
	}
}
