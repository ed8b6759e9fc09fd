package app

import (
	"slices"
	"strings"
	"sync"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/dkeye/meshvoice/internal/metrics"
)

// RoomManager is the id -> room index. It only guards the map; each room
// serializes its own membership.
type RoomManager struct {
	mu      sync.RWMutex
	rooms   map[domain.RoomID]core.RoomService
	metrics *metrics.Metrics
}

func NewRoomManager(m *metrics.Metrics) *RoomManager {
	return &RoomManager{rooms: make(map[domain.RoomID]core.RoomService), metrics: m}
}

// GetOrCreate returns the open room for id. A room that was closed by its
// last member leaving is replaced with a fresh one.
func (f *RoomManager) GetOrCreate(id domain.RoomID) core.RoomService {
	f.mu.RLock()
	room, ok := f.rooms[id]
	f.mu.RUnlock()
	if ok && !room.Closed() {
		return room
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok = f.rooms[id]
	if ok && !room.Closed() {
		return room
	}
	if !ok {
		f.metrics.RoomCreated()
	}
	room = core.NewRoomService(&domain.Room{ID: id})
	f.rooms[id] = room
	return room
}

func (f *RoomManager) Get(id domain.RoomID) (core.RoomService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[id]
	if !ok || room.Closed() {
		return nil, false
	}
	return room, true
}

// StopRoom drops id from the index if it still points at room.
func (f *RoomManager) StopRoom(id domain.RoomID, room core.RoomService) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.rooms[id]; !ok || cur != room {
		return false
	}
	delete(f.rooms, id)
	f.metrics.RoomDeleted()
	return true
}

func (f *RoomManager) List() []core.RoomInfo {
	f.mu.RLock()
	rooms := make([]core.RoomService, 0, len(f.rooms))
	for _, r := range f.rooms {
		rooms = append(rooms, r)
	}
	f.mu.RUnlock()

	out := make([]core.RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		if n := r.MemberCount(); n > 0 {
			out = append(out, core.RoomInfo{ID: r.Room().ID, MemberCount: n, VoiceCount: r.VoiceCount()})
		}
	}
	slices.SortFunc(out, func(a, b core.RoomInfo) int { return strings.Compare(string(a.ID), string(b.ID)) })
	return out
}

func (f *RoomManager) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.rooms)
}
