package app

import (
	"errors"
	"sync"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/dkeye/meshvoice/internal/metrics"
	"github.com/rs/zerolog/log"
)

var (
	ErrDuplicateJoin = errors.New("connection already joined a room")
	ErrNoSession     = errors.New("no session for connection")
)

type sessionEntry struct {
	RoomID  domain.RoomID
	Session core.MemberSession
	Room    core.RoomService
}

// Registry maps connections to their sessions and rooms to their members.
// Its own lock guards only the connection index.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
	rooms    *RoomManager
	metrics  *metrics.Metrics
}

func NewRegistry(rooms *RoomManager, m *metrics.Metrics) *Registry {
	if rooms == nil {
		rooms = NewRoomManager(m)
	}
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
		rooms:    rooms,
		metrics:  m,
	}
}

// Join creates the session for sid in roomID. Members already present get
// announce exactly once before sid becomes visible to them; prior is the
// snapshot they form, never including sid. welcome reaches the joiner ahead
// of any later announcement in the room.
func (r *Registry) Join(sid core.SessionID, ms core.MemberSession, roomID domain.RoomID, announce core.Frame, welcome core.WelcomeFunc) ([]core.MemberSession, core.PublishResult, error) {
	r.mu.Lock()
	if _, ok := r.sessions[sid]; ok {
		r.mu.Unlock()
		return nil, core.PublishResult{}, ErrDuplicateJoin
	}
	entry := &sessionEntry{RoomID: roomID, Session: ms}
	r.sessions[sid] = entry
	r.mu.Unlock()

	for {
		room := r.rooms.GetOrCreate(roomID)
		prior, res, ok := room.Admit(sid, ms, announce, welcome)
		if !ok {
			log.Debug().Str("module", "app.registry").Str("room", string(roomID)).Msg("room closed during join, retrying")
			continue
		}
		r.mu.Lock()
		entry.Room = room
		r.mu.Unlock()
		r.metrics.SessionJoined()
		log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(roomID)).Int("members", len(prior)+1).Msg("joined room")
		return prior, res, nil
	}
}

// MembersOf snapshots the members of roomID other than sid.
func (r *Registry) MembersOf(roomID domain.RoomID, sid core.SessionID) []core.MemberSession {
	room, ok := r.rooms.Get(roomID)
	if !ok {
		return nil
	}
	return room.Others(sid)
}

// Leave removes sid from its room and deletes the room once empty. It is a
// no-op for a connection without a session.
func (r *Registry) Leave(sid core.SessionID) (core.MemberSession, core.RoomService, []core.MemberSession, bool) {
	r.mu.Lock()
	entry, ok := r.sessions[sid]
	delete(r.sessions, sid)
	r.mu.Unlock()
	if !ok || entry.Room == nil {
		return nil, nil, nil, false
	}

	room := entry.Room
	ms, remaining, ok := room.RemoveMember(sid)
	if !ok {
		return nil, nil, nil, false
	}
	r.metrics.SessionLeft()
	if ms.Meta().InVoice {
		r.metrics.VoiceChanged(false)
	}
	if len(remaining) == 0 && r.rooms.StopRoom(entry.RoomID, room) {
		log.Info().Str("module", "app.registry").Str("room", string(entry.RoomID)).Msg("room deleted")
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(entry.RoomID)).Int("remaining", len(remaining)).Msg("left room")
	return ms, room, remaining, true
}

func (r *Registry) SetVoice(sid core.SessionID, on bool) (bool, error) {
	room, _, ok := r.RoomOf(sid)
	if !ok {
		return false, ErrNoSession
	}
	changed, ok := room.SetVoice(sid, on)
	if !ok {
		return false, ErrNoSession
	}
	if changed {
		r.metrics.VoiceChanged(on)
		log.Info().Str("module", "app.registry").Str("sid", string(sid)).Bool("voice", on).Msg("voice changed")
	}
	return changed, nil
}

func (r *Registry) Session(sid core.SessionID) (core.MemberSession, bool) {
	_, ms, ok := r.RoomOf(sid)
	return ms, ok
}

func (r *Registry) RoomOf(sid core.SessionID) (core.RoomService, core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[sid]
	if !ok || entry.Room == nil {
		return nil, nil, false
	}
	return entry.Room, entry.Session, true
}

// Sessions returns every joined session.
func (r *Registry) Sessions() []core.MemberSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.MemberSession, 0, len(r.sessions))
	for _, e := range r.sessions {
		if e.Room != nil {
			out = append(out, e.Session)
		}
	}
	return out
}

func (r *Registry) Rooms() []core.RoomInfo { return r.rooms.List() }

func (r *Registry) Members(roomID domain.RoomID) ([]core.MemberDTO, bool) {
	room, ok := r.rooms.Get(roomID)
	if !ok {
		return nil, false
	}
	return room.MembersSnapshot(), true
}
