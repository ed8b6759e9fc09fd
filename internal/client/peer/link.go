package peer

import (
	"sync"
	"sync/atomic"

	"github.com/dkeye/meshvoice/internal/client/sink"
	"github.com/dkeye/meshvoice/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type event interface{ isEvent() }

type evStart struct{ track webrtc.TrackLocal }
type evRemoteOffer struct{ sd webrtc.SessionDescription }
type evRemoteAnswer struct{ sd webrtc.SessionDescription }
type evRemoteCandidate struct{ c webrtc.ICECandidateInit }
type evRenegotiate struct{}
type evAttach struct{ track webrtc.TrackLocal }

// Events raised by a connection carry the generation of that connection so
// that a replaced one cannot affect the link.
type evLocalCandidate struct {
	gen uint64
	c   webrtc.ICECandidateInit
}

type evTransport struct {
	gen   uint64
	state webrtc.PeerConnectionState
}

func (evStart) isEvent()           {}
func (evRemoteOffer) isEvent()     {}
func (evRemoteAnswer) isEvent()    {}
func (evRemoteCandidate) isEvent() {}
func (evLocalCandidate) isEvent()  {}
func (evRenegotiate) isEvent()     {}
func (evAttach) isEvent()          {}
func (evTransport) isEvent()       {}

// Link is one end of a media connection to a single remote participant.
// All negotiation state is owned by the run goroutine; other goroutines
// only post events.
//
// Once a link has negotiated, only its initiator sends offers. A responder
// that needs another round asks for one with a renegotiate message, so two
// offers can only cross before the first exchange. That collision is
// resolved by user id: the greater id discards its connection and answers
// on a fresh one.
type Link struct {
	remoteID string
	username string
	localID  string
	conn     Conn
	newConn  ConnFactory
	sig      Signaler
	logger   zerolog.Logger

	state  atomic.Int32
	gen    atomic.Uint64
	events chan event
	quit   chan struct{}
	done   chan struct{}
	stop   sync.Once

	onClosed func(*Link)
	onTrack  func(*Link, sink.Track)

	startRole Role

	// owned by run
	role        Role
	hasRemote   bool
	transportUp bool
	renegotiate bool
	pending     []webrtc.ICECandidateInit
	attached    map[string]webrtc.TrackLocal
}

func newLink(remoteID, username, localID string, role Role, conn Conn, newConn ConnFactory, sig Signaler) *Link {
	l := &Link{
		remoteID:  remoteID,
		username:  username,
		localID:   localID,
		conn:      conn,
		newConn:   newConn,
		sig:       sig,
		role:      role,
		startRole: role,
		events:    make(chan event, 64),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		attached:  make(map[string]webrtc.TrackLocal),
	}
	l.logger = log.With().Str("module", "client.peer").Str("remote", remoteID).Logger()
	return l
}

func (l *Link) RemoteID() string { return l.remoteID }

func (l *Link) State() State { return State(l.state.Load()) }

func (l *Link) initialRole() Role { return l.startRole }

func (l *Link) setState(s State) {
	prev := State(l.state.Swap(int32(s)))
	if prev != s {
		l.logger.Debug().Str("from", prev.String()).Str("to", s.String()).Msg("link state")
	}
}

// bind routes the callbacks of conn into the link under a new generation.
func (l *Link) bind(conn Conn) {
	gen := l.gen.Add(1)
	conn.OnICECandidate(func(c webrtc.ICECandidateInit) {
		_ = l.post(evLocalCandidate{gen: gen, c: c})
	})
	conn.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		_ = l.post(evTransport{gen: gen, state: s})
	})
	conn.OnTrack(func(t sink.Track) {
		if l.gen.Load() != gen || l.onTrack == nil {
			return
		}
		l.onTrack(l, t)
	})
}

func (l *Link) post(ev event) error {
	select {
	case <-l.quit:
		return ErrLinkClosed
	case <-l.done:
		return ErrLinkClosed
	case l.events <- ev:
		return nil
	}
}

// Close tears the link down and waits until it reached StateClosed.
func (l *Link) Close() {
	l.stop.Do(func() { close(l.quit) })
	<-l.done
}

func (l *Link) run() {
	defer l.finish()
	for {
		select {
		case <-l.quit:
			return
		case ev := <-l.events:
			l.handle(ev)
			if l.State() == StateClosed {
				return
			}
		}
	}
}

func (l *Link) finish() {
	l.stop.Do(func() { close(l.quit) })
	if err := l.conn.Close(); err != nil {
		l.logger.Warn().Err(err).Msg("close connection")
	}
	l.setState(StateClosed)
	if l.onClosed != nil {
		l.onClosed(l)
	}
	close(l.done)
	l.logger.Info().Msg("link closed")
}

func (l *Link) handle(ev event) {
	switch e := ev.(type) {
	case evStart:
		if e.track != nil {
			l.addTrack(e.track)
		}
		if l.role == Initiator {
			l.offer()
		}
	case evRemoteOffer:
		l.remoteOffer(e.sd)
	case evRemoteAnswer:
		l.remoteAnswer(e.sd)
	case evRemoteCandidate:
		if !l.hasRemote {
			l.pending = append(l.pending, e.c)
			return
		}
		l.addCandidate(e.c)
	case evLocalCandidate:
		if e.gen != l.gen.Load() {
			return
		}
		msg, err := protocol.NewICECandidate(e.c, l.remoteID)
		if err != nil {
			l.logger.Error().Err(err).Msg("encode candidate")
			return
		}
		l.send(msg)
	case evAttach:
		l.attach(e.track)
	case evRenegotiate:
		l.renegotiationRequested()
	case evTransport:
		if e.gen != l.gen.Load() {
			return
		}
		l.transport(e.state)
	}
}

func (l *Link) offer() {
	sd, err := l.conn.CreateOffer()
	if err != nil {
		l.fail("create offer", err)
		return
	}
	msg, err := protocol.NewOffer(sd, l.remoteID)
	if err != nil {
		l.fail("encode offer", err)
		return
	}
	l.renegotiate = false
	l.setState(StateOfferSent)
	l.send(msg)
}

// yields reports whether this side gives up its own offer when both sides
// offered before either saw a description from the other.
func (l *Link) yields() bool {
	return l.localID != "" && l.localID > l.remoteID
}

func (l *Link) remoteOffer(sd webrtc.SessionDescription) {
	switch l.State() {
	case StateNew:
		if l.role == Initiator {
			l.logger.Warn().Err(ErrUnexpectedOffer).Msg("offer before start, ignored")
			return
		}
	case StateOfferSent:
		if l.hasRemote || !l.yields() {
			l.logger.Warn().Err(ErrUnexpectedOffer).Str("role", l.role.String()).Msg("colliding offer ignored")
			return
		}
		if err := l.replaceConn(); err != nil {
			l.fail("replace connection", err)
			return
		}
		l.logger.Info().Msg("offers collided, answering on a fresh connection")
	case StateAnswerSent, StateConnected:
		l.logger.Debug().Msg("renegotiation offer")
	case StateClosed:
		return
	}

	if err := l.conn.SetRemoteDescription(sd); err != nil {
		l.fail("apply offer", err)
		return
	}
	l.hasRemote = true
	l.flushCandidates()

	answer, err := l.conn.CreateAnswer()
	if err != nil {
		l.fail("create answer", err)
		return
	}
	msg, err := protocol.NewAnswer(answer, l.remoteID)
	if err != nil {
		l.fail("encode answer", err)
		return
	}
	if l.transportUp {
		l.setState(StateConnected)
	} else {
		l.setState(StateAnswerSent)
	}
	l.send(msg)
	if l.renegotiate {
		l.renegotiateNow()
	}
}

// replaceConn drops a connection that holds nothing but an unanswered local
// offer. pion cannot roll a local offer back, so the link starts over as
// responder on a new connection carrying the same tracks.
func (l *Link) replaceConn() error {
	conn, err := l.newConn(l.remoteID)
	if err != nil {
		return err
	}
	old := l.conn
	l.conn = conn
	l.bind(conn)
	if err := old.Close(); err != nil {
		l.logger.Warn().Err(err).Msg("close replaced connection")
	}

	tracks := l.attached
	l.attached = make(map[string]webrtc.TrackLocal, len(tracks))
	for _, t := range tracks {
		l.addTrack(t)
	}
	l.role = Responder
	l.renegotiate = false
	l.transportUp = false
	return nil
}

func (l *Link) remoteAnswer(sd webrtc.SessionDescription) {
	if l.State() != StateOfferSent {
		l.logger.Warn().Err(ErrUnexpectedAnswer).Str("state", l.State().String()).Msg("answer ignored")
		return
	}
	if err := l.conn.SetRemoteDescription(sd); err != nil {
		l.fail("apply answer", err)
		return
	}
	l.hasRemote = true
	l.flushCandidates()
	l.setState(StateConnected)
	if l.renegotiate {
		l.renegotiateNow()
	}
}

func (l *Link) flushCandidates() {
	for _, c := range l.pending {
		l.addCandidate(c)
	}
	l.pending = nil
}

func (l *Link) addCandidate(c webrtc.ICECandidateInit) {
	if err := l.conn.AddICECandidate(c); err != nil {
		l.logger.Warn().Err(err).Msg("add ice candidate")
	}
}

func (l *Link) addTrack(track webrtc.TrackLocal) bool {
	if _, ok := l.attached[track.ID()]; ok {
		return false
	}
	if err := l.conn.AddTrack(track); err != nil {
		l.logger.Error().Err(err).Str("track", track.ID()).Msg("add track")
		return false
	}
	l.attached[track.ID()] = track
	return true
}

// attach adds a track after creation. A link that already negotiated has
// to run another offer/answer round for the track to flow.
func (l *Link) attach(track webrtc.TrackLocal) {
	if !l.addTrack(track) {
		return
	}
	switch l.State() {
	case StateNew:
	case StateOfferSent:
		l.renegotiate = true
	case StateAnswerSent, StateConnected:
		l.renegotiateNow()
	}
}

// renegotiateNow starts another round: the initiator offers, the responder
// asks the initiator to.
func (l *Link) renegotiateNow() {
	if l.role == Initiator {
		l.offer()
		return
	}
	l.renegotiate = false
	l.send(protocol.Renegotiate{To: l.remoteID})
}

func (l *Link) renegotiationRequested() {
	if l.role != Initiator {
		l.logger.Warn().Msg("renegotiation request on responder link, ignored")
		return
	}
	switch l.State() {
	case StateOfferSent:
		l.renegotiate = true
	case StateAnswerSent, StateConnected:
		l.offer()
	}
}

func (l *Link) transport(s webrtc.PeerConnectionState) {
	l.logger.Debug().Str("transport", s.String()).Msg("transport state")
	switch s {
	case webrtc.PeerConnectionStateConnected:
		l.transportUp = true
		if l.State() == StateAnswerSent {
			l.setState(StateConnected)
		}
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		l.transportUp = false
		l.logger.Warn().Str("transport", s.String()).Msg("transport lost")
		l.setState(StateClosed)
	}
}

func (l *Link) send(m protocol.Message) {
	if err := l.sig.Send(m); err != nil {
		l.logger.Warn().Err(err).Str("type", string(m.Kind())).Msg("signal send")
	}
}

func (l *Link) fail(op string, err error) {
	l.logger.Error().Err(err).Str("op", op).Msg("negotiation failed")
	l.setState(StateClosed)
}
