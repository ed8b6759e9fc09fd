package peer

import (
	"sort"
	"sync"

	"github.com/dkeye/meshvoice/internal/client/sink"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

// Manager keeps at most one link per remote participant.
type Manager struct {
	mu      sync.Mutex
	links   map[string]*Link
	localID string
	track   webrtc.TrackLocal

	newConn ConnFactory
	sig     Signaler
	sinks   SinkBinder
}

func NewManager(factory ConnFactory, sig Signaler, sinks SinkBinder) *Manager {
	return &Manager{
		links:   make(map[string]*Link),
		newConn: factory,
		sig:     sig,
		sinks:   sinks,
	}
}

// SetLocalID records the id the server assigned to this client.
func (m *Manager) SetLocalID(id string) {
	m.mu.Lock()
	m.localID = id
	m.mu.Unlock()
}

// Connect opens a link as initiator. It is a no-op if a link exists.
func (m *Manager) Connect(remoteID, username string) error {
	_, err := m.ensure(remoteID, username, Initiator)
	return err
}

// HandleOffer routes a remote offer, creating a responder link when the
// sender is not known yet.
func (m *Manager) HandleOffer(from, username string, sd webrtc.SessionDescription) error {
	l, err := m.ensure(from, username, Responder)
	if err != nil {
		return err
	}
	return l.post(evRemoteOffer{sd: sd})
}

func (m *Manager) HandleAnswer(from string, sd webrtc.SessionDescription) error {
	l, ok := m.link(from)
	if !ok {
		return ErrUnknownPeer
	}
	return l.post(evRemoteAnswer{sd: sd})
}

func (m *Manager) HandleCandidate(from string, c webrtc.ICECandidateInit) error {
	l, ok := m.link(from)
	if !ok {
		return ErrUnknownPeer
	}
	return l.post(evRemoteCandidate{c: c})
}

// HandleRenegotiate asks the link to from for another offer round.
func (m *Manager) HandleRenegotiate(from string) error {
	l, ok := m.link(from)
	if !ok {
		return ErrUnknownPeer
	}
	return l.post(evRenegotiate{})
}

// Disconnect closes the link to remoteID, if any.
func (m *Manager) Disconnect(remoteID string) bool {
	l, ok := m.link(remoteID)
	if !ok {
		return false
	}
	l.Close()
	return true
}

// AttachTrack adds the local outbound track to every open link and to
// links created later.
func (m *Manager) AttachTrack(track webrtc.TrackLocal) {
	m.mu.Lock()
	m.track = track
	links := m.snapshotLocked()
	m.mu.Unlock()

	for _, l := range links {
		if err := l.post(evAttach{track: track}); err != nil {
			log.Debug().Str("module", "client.peer").Str("remote", l.remoteID).Err(err).Msg("attach skipped")
		}
	}
}

// CloseAll closes every link concurrently and returns how many were open.
func (m *Manager) CloseAll() int {
	m.mu.Lock()
	links := m.snapshotLocked()
	m.track = nil
	m.mu.Unlock()

	var wg conc.WaitGroup
	for _, l := range links {
		wg.Go(l.Close)
	}
	wg.Wait()
	return len(links)
}

func (m *Manager) State(remoteID string) (State, bool) {
	l, ok := m.link(remoteID)
	if !ok {
		return StateClosed, false
	}
	return l.State(), true
}

// Snapshot lists open links ordered by remote id.
func (m *Manager) Snapshot() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.links))
	for id, l := range m.links {
		out = append(out, Info{RemoteID: id, Username: l.username, Role: l.initialRole(), State: l.State()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RemoteID < out[j].RemoteID })
	return out
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.links)
}

func (m *Manager) link(id string) (*Link, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[id]
	return l, ok
}

func (m *Manager) snapshotLocked() []*Link {
	out := make([]*Link, 0, len(m.links))
	for _, l := range m.links {
		out = append(out, l)
	}
	return out
}

func (m *Manager) ensure(remoteID, username string, role Role) (*Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.links[remoteID]; ok {
		return l, nil
	}

	conn, err := m.newConn(remoteID)
	if err != nil {
		return nil, err
	}
	l := newLink(remoteID, username, m.localID, role, conn, m.newConn, m.sig)
	l.onClosed = m.forget
	l.onTrack = m.bindTrack
	l.bind(conn)
	m.links[remoteID] = l

	// events is buffered and empty here, so this never blocks.
	l.events <- evStart{track: m.track}
	go l.run()
	l.logger.Info().Str("role", role.String()).Msg("link opened")
	return l, nil
}

// bindTrack and forget both run under mu, so a stream never gets bound
// after its link was released.
func (m *Manager) bindTrack(l *Link, t sink.Track) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.links[l.remoteID]; !ok || cur != l {
		return
	}
	if err := m.sinks.Bind(l.remoteID, t); err != nil {
		l.logger.Warn().Err(err).Msg("bind sink")
	}
}

func (m *Manager) forget(l *Link) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.links[l.remoteID]; ok && cur == l {
		m.sinks.Release(l.remoteID)
		delete(m.links, l.remoteID)
	}
}
