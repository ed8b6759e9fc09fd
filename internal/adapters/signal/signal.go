package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/meshvoice/internal/app"
	"github.com/dkeye/meshvoice/internal/config"
	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/dkeye/meshvoice/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Options struct {
	ReadLimit        int64
	PingPeriod       time.Duration
	PongWait         time.Duration
	WriteWait        time.Duration
	SendBuffer       int
	JoinRateLimit    int
	JoinRateInterval time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ReadLimit:        cfg.ReadLimit,
		PingPeriod:       cfg.PingPeriod,
		PongWait:         cfg.PongWait(),
		WriteWait:        5 * time.Second,
		SendBuffer:       cfg.SendBuffer,
		JoinRateLimit:    cfg.JoinRateLimit,
		JoinRateInterval: cfg.JoinRateInterval,
	}
}

type SignalWSController struct {
	Orch    *app.Orchestrator
	Metrics *metrics.Metrics

	opts    Options
	limiter *RoomRateLimiter
	conns   sync.WaitGroup
}

func NewSignalWSController(orch *app.Orchestrator, m *metrics.Metrics, opts Options) *SignalWSController {
	ctl := &SignalWSController{Orch: orch, Metrics: m, opts: opts}
	if opts.JoinRateLimit > 0 {
		ctl.limiter = NewRoomRateLimiter(opts.JoinRateLimit, opts.JoinRateInterval)
	}
	return ctl
}

// WsSignalConn is the server side of one signaling connection. Frames are
// queued on send and written by the connection's write pump.
type WsSignalConn struct {
	conn   *websocket.Conn
	send   chan core.Frame
	remote string

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the connection until either
// side closes it. Every connection gets a fresh user id.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(domain.NewUserID())

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("remote", c.ClientIP()).Msg("new WS connection")

	conn := &WsSignalConn{
		conn:   ws,
		send:   make(chan core.Frame, ctl.opts.SendBuffer),
		remote: c.ClientIP(),
	}

	ctx, cancel := context.WithCancel(ctx)
	ctl.conns.Add(2)
	go func() {
		defer ctl.conns.Done()
		ctl.writePump(ctx, conn)
	}()
	go func() {
		defer ctl.conns.Done()
		defer cancel()
		ctl.readPump(ctx, sid, conn)
	}()
}

// Wait blocks until every connection's pumps have exited.
func (ctl *SignalWSController) Wait() {
	ctl.conns.Wait()
}
