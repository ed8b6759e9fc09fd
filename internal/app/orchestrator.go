package app

import (
	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/dkeye/meshvoice/internal/metrics"
	"github.com/dkeye/meshvoice/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Orchestrator turns membership changes into notifications and applies the
// backpressure policy to every fan-out.
type Orchestrator struct {
	Registry *Registry
	Policy   Policy
	Metrics  *metrics.Metrics
}

func NewOrchestrator(reg *Registry, policy Policy, m *metrics.Metrics) *Orchestrator {
	if reg == nil {
		reg = NewRegistry(nil, m)
	}
	return &Orchestrator{Registry: reg, Policy: policy, Metrics: m}
}

// Join admits ms into roomID, notifies the members already there and sends
// the joiner its room-users snapshot.
func (o *Orchestrator) Join(sid core.SessionID, ms core.MemberSession, roomID domain.RoomID) ([]core.MemberSession, error) {
	u := ms.Meta().User
	announce, err := protocol.Encode(protocol.UserJoined{UserID: string(u.ID), Username: u.Username})
	if err != nil {
		return nil, err
	}
	prior, res, err := o.Registry.Join(sid, ms, roomID, announce, welcomeFor(u))
	if err != nil {
		return nil, err
	}
	o.Metrics.Relay(string(protocol.TypeUserJoined), res.SendTo)
	room, _, _ := o.Registry.RoomOf(sid)
	o.applyPolicy(room, res)
	return prior, nil
}

// Relay forwards frame from sid to the member whose user id is to, or to
// every other member of the room when to is empty or not a room member.
func (o *Orchestrator) Relay(sid core.SessionID, to domain.UserID, kind protocol.Type, frame core.Frame) (int, error) {
	room, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return 0, ErrNoSession
	}
	var res core.PublishResult
	if target, found := o.target(room, sid, to); found {
		res = core.Publish([]core.MemberSession{target}, frame)
	} else {
		res = room.Broadcast(sid, frame)
	}
	o.Metrics.Relay(string(kind), res.SendTo)
	o.applyPolicy(room, res)
	return res.SendTo, nil
}

func (o *Orchestrator) target(room core.RoomService, sid core.SessionID, to domain.UserID) (core.MemberSession, bool) {
	if to == "" {
		return nil, false
	}
	ms, ok := room.MemberByUser(to)
	if !ok || ms.ID() == sid {
		return nil, false
	}
	return ms, true
}

func (o *Orchestrator) JoinVoice(sid core.SessionID) error {
	_, err := o.Registry.SetVoice(sid, true)
	return err
}

// LeaveVoice takes sid out of the voice set. The room hears user-left only
// when sid actually was in voice.
func (o *Orchestrator) LeaveVoice(sid core.SessionID) (bool, error) {
	changed, err := o.Registry.SetVoice(sid, false)
	if err != nil || !changed {
		return false, err
	}
	room, ms, ok := o.Registry.RoomOf(sid)
	if !ok {
		return true, nil
	}
	frame, err := leftFrame(ms.Meta().User)
	if err != nil {
		return true, err
	}
	res := room.Broadcast(sid, frame)
	o.Metrics.Relay(string(protocol.TypeUserLeft), res.SendTo)
	o.applyPolicy(room, res)
	return true, nil
}

// Disconnect removes sid from the registry and notifies the remaining
// members once. Safe to call for connections that never joined.
func (o *Orchestrator) Disconnect(sid core.SessionID) {
	ms, room, remaining, ok := o.Registry.Leave(sid)
	if !ok {
		return
	}
	frame, err := leftFrame(ms.Meta().User)
	if err != nil {
		log.Error().Err(err).Str("module", "app.orch").Msg("encode user-left")
		return
	}
	res := core.Publish(remaining, frame)
	o.Metrics.Relay(string(protocol.TypeUserLeft), res.SendTo)
	o.applyPolicy(room, res)
}

// Shutdown closes every joined connection. Each close runs the normal
// disconnect path from the connection's read pump.
func (o *Orchestrator) Shutdown() {
	for _, ms := range o.Registry.Sessions() {
		ms.Signal().Close()
	}
}

func (o *Orchestrator) applyPolicy(room core.RoomService, res core.PublishResult) {
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case KickMember:
			log.Warn().Str("module", "app.orch").Str("sid", string(slow.ID())).Msg("kicking slow member")
			o.Metrics.Kick()
			slow.Signal().Close()
		case DropFrame:
			o.Metrics.Drop("backpressure")
		case NoAction:
		}
	}
}

func welcomeFor(self *domain.User) core.WelcomeFunc {
	return func(prior []core.MemberSession) core.Frame {
		users := make([]protocol.UserInfo, 0, len(prior))
		for _, m := range prior {
			u := m.Meta().User
			users = append(users, protocol.UserInfo{UserID: string(u.ID), Username: u.Username})
		}
		frame, err := protocol.Encode(protocol.RoomUsers{Users: users, UserID: string(self.ID)})
		if err != nil {
			log.Error().Err(err).Str("module", "app.orch").Msg("encode room-users")
			return nil
		}
		return frame
	}
}

func leftFrame(u *domain.User) (core.Frame, error) {
	return protocol.Encode(protocol.UserLeft{UserID: string(u.ID), Username: u.Username})
}
