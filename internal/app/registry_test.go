package app

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/dkeye/meshvoice/internal/protocol"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnClosed
	}
	if c.full {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) messages(t *testing.T) []protocol.Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Message, 0, len(c.frames))
	for _, f := range c.frames {
		m, err := protocol.Decode(f)
		if err != nil {
			t.Fatalf("decode %s: %v", f, err)
		}
		out = append(out, m)
	}
	return out
}

func newSession(t *testing.T, name string) (core.SessionID, core.MemberSession, *fakeConn) {
	t.Helper()
	id := domain.NewUserID()
	u, err := domain.NewUser(id, name)
	if err != nil {
		t.Fatal(err)
	}
	conn := &fakeConn{}
	sid := core.SessionID(id)
	return sid, core.NewMemberSession(sid, domain.NewMember(u), conn), conn
}

func TestRegistryDuplicateJoin(t *testing.T) {
	reg := NewRegistry(nil, nil)
	sid, ms, _ := newSession(t, "alice")
	if _, _, err := reg.Join(sid, ms, "r1", nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, _, err := reg.Join(sid, ms, "r2", nil, nil); !errors.Is(err, ErrDuplicateJoin) {
		t.Fatalf("second join err = %v, want ErrDuplicateJoin", err)
	}
	if _, ok := reg.Members("r2"); ok {
		t.Error("rejected join must not create a room")
	}
}

func TestRegistryRoomExistsIffNonEmpty(t *testing.T) {
	reg := NewRegistry(nil, nil)
	a, msA, _ := newSession(t, "alice")
	b, msB, _ := newSession(t, "bob")

	if _, _, err := reg.Join(a, msA, "r1", nil, nil); err != nil {
		t.Fatal(err)
	}
	prior, _, err := reg.Join(b, msB, "r1", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(prior) != 1 || prior[0].ID() != a {
		t.Fatalf("prior = %v, want [alice]", prior)
	}
	if got := reg.rooms.Len(); got != 1 {
		t.Fatalf("rooms = %d, want 1", got)
	}

	reg.Leave(a)
	if _, ok := reg.Members("r1"); !ok {
		t.Fatal("room with one member must exist")
	}
	_, _, remaining, ok := reg.Leave(b)
	if !ok || len(remaining) != 0 {
		t.Fatalf("Leave(b) = %v, %v", remaining, ok)
	}
	if got := reg.rooms.Len(); got != 0 {
		t.Fatalf("rooms = %d after everyone left, want 0", got)
	}
	if _, _, _, ok := reg.Leave(b); ok {
		t.Error("second leave must be a no-op")
	}

	if _, _, err := reg.Join(a, msA, "r1", nil, nil); err != nil {
		t.Fatalf("rejoin after leave: %v", err)
	}
}

func TestRegistryMembersOfExcludesSelf(t *testing.T) {
	reg := NewRegistry(nil, nil)
	var sids []core.SessionID
	for i := 0; i < 4; i++ {
		sid, ms, _ := newSession(t, fmt.Sprintf("u%d", i))
		if _, _, err := reg.Join(sid, ms, "r1", nil, nil); err != nil {
			t.Fatal(err)
		}
		sids = append(sids, sid)
	}
	for _, sid := range sids {
		for _, m := range reg.MembersOf("r1", sid) {
			if m.ID() == sid {
				t.Fatalf("MembersOf(%s) contains self", sid)
			}
		}
		if got := len(reg.MembersOf("r1", sid)); got != 3 {
			t.Errorf("MembersOf(%s) = %d members, want 3", sid, got)
		}
	}
	if got := reg.MembersOf("missing", sids[0]); got != nil {
		t.Errorf("MembersOf(missing) = %v", got)
	}
}

func TestRegistryConcurrentJoinLeave(t *testing.T) {
	reg := NewRegistry(nil, nil)
	const n = 32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		sid, ms, _ := newSession(t, fmt.Sprintf("u%d", i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if _, _, err := reg.Join(sid, ms, "busy", nil, nil); err != nil {
					t.Errorf("join: %v", err)
					return
				}
				reg.Leave(sid)
			}
		}()
	}
	wg.Wait()
	if got := reg.rooms.Len(); got != 0 {
		t.Fatalf("rooms = %d after all left, want 0", got)
	}
	if got := len(reg.Rooms()); got != 0 {
		t.Fatalf("Rooms() = %d, want 0", got)
	}
}

func TestRegistrySetVoice(t *testing.T) {
	reg := NewRegistry(nil, nil)
	sid, ms, _ := newSession(t, "alice")
	if _, err := reg.SetVoice(sid, true); !errors.Is(err, ErrNoSession) {
		t.Fatalf("SetVoice before join err = %v", err)
	}
	if _, _, err := reg.Join(sid, ms, "r1", nil, nil); err != nil {
		t.Fatal(err)
	}
	changed, err := reg.SetVoice(sid, true)
	if err != nil || !changed {
		t.Fatalf("SetVoice = %v, %v", changed, err)
	}
	changed, _ = reg.SetVoice(sid, true)
	if changed {
		t.Error("repeated SetVoice reported a change")
	}
	rooms := reg.Rooms()
	if len(rooms) != 1 || rooms[0].VoiceCount != 1 {
		t.Fatalf("Rooms() = %+v", rooms)
	}
}
