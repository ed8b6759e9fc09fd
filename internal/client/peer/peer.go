// Package peer manages one negotiated media link per remote participant.
// Each link is driven by its own goroutine; links never wait on each other.
package peer

import (
	"errors"

	"github.com/dkeye/meshvoice/internal/client/sink"
	"github.com/dkeye/meshvoice/internal/protocol"
	"github.com/pion/webrtc/v4"
)

var (
	ErrUnexpectedOffer  = errors.New("unexpected offer")
	ErrUnexpectedAnswer = errors.New("unexpected answer")
	ErrUnknownPeer      = errors.New("unknown peer")
	ErrLinkClosed       = errors.New("link closed")
)

type State int32

const (
	StateNew State = iota
	StateOfferSent
	StateAnswerSent
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateOfferSent:
		return "offer-sent"
	case StateAnswerSent:
		return "answer-sent"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type Role int

const (
	Initiator Role = iota
	Responder
)

func (r Role) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

// Conn is the media connection under one link. CreateOffer and
// CreateAnswer also apply the result as the local description.
type Conn interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	AddTrack(webrtc.TrackLocal) error
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnTrack(func(sink.Track))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	Close() error
}

type ConnFactory func(remoteID string) (Conn, error)

// Signaler delivers negotiation messages to the relay.
type Signaler interface {
	Send(protocol.Message) error
}

// SinkBinder receives inbound streams of open links.
type SinkBinder interface {
	Bind(remoteID string, track sink.Track) error
	Release(remoteID string) bool
}

type Info struct {
	RemoteID string
	Username string
	Role     Role
	State    State
}
