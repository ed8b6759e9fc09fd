package core

import (
	"errors"

	"github.com/dkeye/meshvoice/internal/domain"
)

// Frame is a raw text payload ready for the wire.
type Frame []byte

type SessionID string

var (
	ErrConnClosed   = errors.New("connection closed")
	ErrBackpressure = errors.New("backpressure")
)

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend never blocks. It returns ErrConnClosed once the transport is gone
	// and ErrBackpressure when the outbound buffer is full.
	TrySend(Frame) error
	Close()
}

// MemberSession binds domain.Member and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	ID() SessionID
	Meta() *domain.Member
	Signal() SignalConnection
}

// PublishResult reports delivery stats/backpressure to the caller.
type PublishResult struct {
	SendTo  int
	Skipped int
	Dropped []MemberSession
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	ID       domain.UserID `json:"userId"`
	Username string        `json:"username"`
	InVoice  bool          `json:"inVoice"`
}

// WelcomeFunc renders the snapshot frame sent to a joiner.
type WelcomeFunc func(prior []MemberSession) Frame

// RoomService is the core-facing API of a room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	VoiceCount() int
	MembersSnapshot() []MemberDTO

	// Admit announces the new member to everyone already present, queues
	// welcome for the joiner and then inserts it, all under the room lock.
	// prior never contains sid. ok is false when the room was closed
	// concurrently.
	Admit(sid SessionID, ms MemberSession, announce Frame, welcome WelcomeFunc) (prior []MemberSession, res PublishResult, ok bool)
	// RemoveMember closes the room when its last member leaves.
	RemoveMember(sid SessionID) (ms MemberSession, remaining []MemberSession, ok bool)
	SetVoice(sid SessionID, on bool) (changed, ok bool)
	Member(sid SessionID) (MemberSession, bool)
	MemberByUser(uid domain.UserID) (MemberSession, bool)
	Others(sid SessionID) []MemberSession
	Broadcast(from SessionID, data Frame) PublishResult
	Closed() bool
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"client_count"`
	VoiceCount  int           `json:"voice_count"`
}

// Publish fans data out to targets. Closed transports are skipped silently;
// any other send failure is reported in Dropped.
func Publish(targets []MemberSession, data Frame) PublishResult {
	res := PublishResult{}
	for _, m := range targets {
		err := m.Signal().TrySend(data)
		switch {
		case err == nil:
			res.SendTo++
		case errors.Is(err, ErrConnClosed):
			res.Skipped++
		default:
			res.Dropped = append(res.Dropped, m)
		}
	}
	return res
}
