package signal

import (
	"errors"

	"github.com/dkeye/meshvoice/internal/app"
	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/dkeye/meshvoice/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(sid core.SessionID, conn *WsSignalConn, p protocol.Join) {
	if _, ok := ctl.Orch.Registry.Session(sid); ok {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("duplicate join")
		ctl.sendError(conn, protocol.CodeDuplicateJoin)
		return
	}
	if ctl.limiter != nil && !ctl.limiter.Allow(conn.remote) {
		log.Warn().Str("module", "signal").Str("remote", conn.remote).Msg("join rate limited")
		ctl.Metrics.Drop("rate_limited")
		ctl.sendError(conn, protocol.CodeRateLimited)
		return
	}

	user, err := domain.NewUser(domain.UserID(sid), p.Username)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad join username")
		ctl.sendError(conn, protocol.CodeInvalidJoin)
		return
	}
	roomID, err := domain.ParseRoomID(p.RoomID)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad join room")
		ctl.sendError(conn, protocol.CodeInvalidJoin)
		return
	}

	sess := core.NewMemberSession(sid, domain.NewMember(user), conn)
	prior, err := ctl.Orch.Join(sid, sess, roomID)
	if errors.Is(err, app.ErrDuplicateJoin) {
		ctl.sendError(conn, protocol.CodeDuplicateJoin)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("join")
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("username", user.Username).Str("room", string(roomID)).Int("prior", len(prior)).Msg("join")
}

func (ctl *SignalWSController) handleJoinVoice(sid core.SessionID) {
	if err := ctl.Orch.JoinVoice(sid); err != nil {
		ctl.dropNoSession(sid, protocol.TypeJoinVoice)
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("join voice")
}

// handleLeaveVoice keeps room membership; only voice participation ends.
func (ctl *SignalWSController) handleLeaveVoice(sid core.SessionID) {
	left, err := ctl.Orch.LeaveVoice(sid)
	if errors.Is(err, app.ErrNoSession) {
		ctl.dropNoSession(sid, protocol.TypeLeaveVoice)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("leave voice")
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Bool("was_in_voice", left).Msg("leave voice")
}

func (ctl *SignalWSController) dropNoSession(sid core.SessionID, t protocol.Type) {
	log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("type", string(t)).Msg("message without session")
	ctl.Metrics.Drop("no_session")
}
