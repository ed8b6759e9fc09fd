package core

import (
	"sync"

	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	room   *domain.Room
	mu     sync.RWMutex
	bySID  map[SessionID]MemberSession
	byUser map[domain.UserID]SessionID
	order  []SessionID
	voice  map[SessionID]struct{}
	closed bool
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{
		room:   room,
		bySID:  make(map[SessionID]MemberSession),
		byUser: make(map[domain.UserID]SessionID),
		voice:  make(map[SessionID]struct{}),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySID)
}

func (r *roomImpl) VoiceCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.voice)
}

func (r *roomImpl) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *roomImpl) Admit(sid SessionID, ms MemberSession, announce Frame, welcome WelcomeFunc) ([]MemberSession, PublishResult, bool) {
	u := ms.Meta().User.ID
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, PublishResult{}, false
	}
	prior := r.othersLocked(sid)
	var res PublishResult
	if announce != nil {
		res = Publish(prior, announce)
	}
	if welcome != nil {
		if f := welcome(prior); f != nil {
			if err := ms.Signal().TrySend(f); err != nil {
				log.Warn().Err(err).Str("module", "core.room").Str("sid", string(sid)).Msg("welcome not delivered")
			}
		}
	}
	if _, ok := r.bySID[sid]; !ok {
		r.order = append(r.order, sid)
	}
	r.bySID[sid] = ms
	r.byUser[u] = sid
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("sid", string(sid)).Str("user", string(u)).Int("prior", len(prior)).Msg("member added")
	return prior, res, true
}

func (r *roomImpl) RemoveMember(sid SessionID) (MemberSession, []MemberSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ms, ok := r.bySID[sid]
	if !ok {
		return nil, nil, false
	}
	delete(r.byUser, ms.Meta().User.ID)
	delete(r.bySID, sid)
	delete(r.voice, sid)
	for i, id := range r.order {
		if id == sid {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if len(r.bySID) == 0 {
		r.closed = true
	}
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("sid", string(sid)).Bool("closed", r.closed).Msg("member removed")
	return ms, r.othersLocked(sid), true
}

func (r *roomImpl) SetVoice(sid SessionID, on bool) (bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ms, ok := r.bySID[sid]
	if !ok {
		return false, false
	}
	_, was := r.voice[sid]
	if was == on {
		return false, true
	}
	if on {
		r.voice[sid] = struct{}{}
	} else {
		delete(r.voice, sid)
	}
	ms.Meta().InVoice = on
	return true, true
}

func (r *roomImpl) Member(sid SessionID) (MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ms, ok := r.bySID[sid]
	return ms, ok
}

func (r *roomImpl) MemberByUser(uid domain.UserID) (MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.byUser[uid]
	if !ok {
		return nil, false
	}
	ms, ok := r.bySID[sid]
	return ms, ok
}

func (r *roomImpl) Others(sid SessionID) []MemberSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.othersLocked(sid)
}

// othersLocked returns members in join order, excluding sid.
func (r *roomImpl) othersLocked(sid SessionID) []MemberSession {
	out := make([]MemberSession, 0, len(r.order))
	for _, id := range r.order {
		if id == sid {
			continue
		}
		out = append(out, r.bySID[id])
	}
	return out
}

// Broadcast snapshots the member set and sends outside the lock, so a
// concurrent join or leave never disturbs the iteration.
func (r *roomImpl) Broadcast(from SessionID, data Frame) PublishResult {
	targets := r.Others(from)
	res := Publish(targets, data)
	log.Debug().Str("module", "core.room").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) MembersSnapshot() []MemberDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MemberDTO, 0, len(r.order))
	for _, sid := range r.order {
		ms := r.bySID[sid]
		u := ms.Meta().User
		_, inVoice := r.voice[sid]
		out = append(out, MemberDTO{ID: u.ID, Username: u.Username, InVoice: inVoice})
	}
	return out
}
