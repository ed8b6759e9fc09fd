package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			c.Close()
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping")
				c.Close()
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				c.Close()
				return
			}
		}
	}
}

// readPump owns the connection lifecycle: when it returns, the session is
// torn down and the room is told exactly once.
func (ctl *SignalWSController) readPump(ctx context.Context, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		c.Close()
		ctl.Orch.Disconnect(sid)
	}()

	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
		ctl.handleSignal(sid, c, data)
	}
}

func (ctl *SignalWSController) handleSignal(sid core.SessionID, c *WsSignalConn, data []byte) {
	msg, err := protocol.Decode(data)
	switch {
	case errors.Is(err, protocol.ErrUnknownType):
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("unknown signal")
		ctl.Metrics.Drop("unknown_type")
		return
	case err != nil:
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("malformed frame")
		ctl.Metrics.MalformedFrame()
		return
	}

	switch m := msg.(type) {
	case protocol.Join:
		ctl.handleJoin(sid, c, m)
	case protocol.JoinVoice:
		ctl.handleJoinVoice(sid)
	case protocol.LeaveVoice:
		ctl.handleLeaveVoice(sid)
	case protocol.Offer:
		ctl.handleOffer(sid, m)
	case protocol.Answer:
		ctl.handleAnswer(sid, m)
	case protocol.ICECandidate:
		ctl.handleIceCandidate(sid, m)
	case protocol.Renegotiate:
		ctl.handleRenegotiate(sid, m)
	case protocol.Ping:
		ctl.handlePing(c)
	case protocol.RoomUsers, protocol.UserJoined, protocol.UserLeft, protocol.Pong, protocol.Error:
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("type", string(m.Kind())).Msg("server-only message from client")
		ctl.Metrics.Drop("direction")
	}
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, m protocol.Message) {
	b, err := protocol.Encode(m)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("type", string(m.Kind())).Msg("sendJSON dropped")
	}
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, code string) {
	ctl.sendJSON(c, protocol.Error{Code: code})
}
