package signal

import (
	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/dkeye/meshvoice/internal/protocol"
	"github.com/rs/zerolog/log"
)

// The server never inspects negotiation payloads: it stamps the sender and
// relays them to the addressed member, or to the whole room.

func (ctl *SignalWSController) handleOffer(sid core.SessionID, p protocol.Offer) {
	u, ok := ctl.sender(sid, p.Kind())
	if !ok {
		return
	}
	p.From, p.Username = string(u.ID), u.Username
	ctl.relay(sid, domain.UserID(p.To), p)
}

func (ctl *SignalWSController) handleAnswer(sid core.SessionID, p protocol.Answer) {
	u, ok := ctl.sender(sid, p.Kind())
	if !ok {
		return
	}
	p.From, p.Username = string(u.ID), u.Username
	ctl.relay(sid, domain.UserID(p.To), p)
}

func (ctl *SignalWSController) handleIceCandidate(sid core.SessionID, p protocol.ICECandidate) {
	u, ok := ctl.sender(sid, p.Kind())
	if !ok {
		return
	}
	p.From = string(u.ID)
	ctl.relay(sid, domain.UserID(p.To), p)
}

func (ctl *SignalWSController) handleRenegotiate(sid core.SessionID, p protocol.Renegotiate) {
	u, ok := ctl.sender(sid, p.Kind())
	if !ok {
		return
	}
	p.From = string(u.ID)
	ctl.relay(sid, domain.UserID(p.To), p)
}

func (ctl *SignalWSController) sender(sid core.SessionID, t protocol.Type) (*domain.User, bool) {
	ms, ok := ctl.Orch.Registry.Session(sid)
	if !ok {
		ctl.dropNoSession(sid, t)
		return nil, false
	}
	return ms.Meta().User, true
}

func (ctl *SignalWSController) relay(sid core.SessionID, to domain.UserID, m protocol.Message) {
	frame, err := protocol.Encode(m)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("relay encode")
		return
	}
	n, err := ctl.Orch.Relay(sid, to, m.Kind(), frame)
	if err != nil {
		ctl.dropNoSession(sid, m.Kind())
		return
	}
	log.Debug().Str("module", "signal").Str("sid", string(sid)).Str("type", string(m.Kind())).Str("to", string(to)).Int("sent_to", n).Msg("relayed")
}
