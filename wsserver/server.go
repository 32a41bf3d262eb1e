package wsserver

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ggoodman/ocpp-server-go/engine"
	"github.com/ggoodman/ocpp-server-go/internal/logctx"
	"github.com/ggoodman/ocpp-server-go/registry"
	"github.com/gorilla/websocket"
)

var _ http.Handler = (*Server)(nil)

const (
	closeReasonNoProtocol   = "OCPP version was not specified in sec-websocket-protocol header"
	closeReasonUnsupported  = "OCPP version is not supported"
	closeReasonReplaced     = "replaced by a new connection"
	closeReasonShuttingDown = "server shutting down"
)

// versionLister is implemented by validators that know their OCPP versions,
// such as *schema.Registry.
type versionLister interface {
	Versions() []string
}

// Server is an http.Handler that upgrades charge point connections.
type Server struct {
	log       *slog.Logger
	validator engine.Validator
	registry  *registry.Registry
	cfg       *config
	upgrader  websocket.Upgrader

	mu     sync.Mutex
	conns  map[*engine.Engine]*conn
	closed bool
}

// New constructs a Server validating payloads with validator.
func New(validator engine.Validator, opts ...Option) *Server {
	cfg := &config{
		logger:       slog.Default(),
		pingInterval: defaultPingInterval,
		writeTimeout: defaultWriteTimeout,
		readLimit:    defaultReadLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	if len(cfg.subprotocols) == 0 {
		if vl, ok := validator.(versionLister); ok {
			WithSubprotocols(vl.Versions()...)(cfg)
		}
	}
	if len(cfg.subprotocols) == 0 {
		cfg.subprotocols = []string{"ocpp1.6"}
	}
	if cfg.registry == nil {
		cfg.registry = registry.New()
	}

	log := slog.New(logctx.NewHandler(cfg.logger.Handler()))

	return &Server{
		log:       log,
		validator: validator,
		registry:  cfg.registry,
		cfg:       cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Charge points are not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*engine.Engine]*conn),
	}
}

// Registry returns the registry connected engines are recorded in.
func (s *Server) Registry() *registry.Registry { return s.registry }

// Subprotocols returns the accepted OCPP versions in preference order.
func (s *Server) Subprotocols() []string {
	return append([]string(nil), s.cfg.subprotocols...)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cpid := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	if cpid == "" {
		http.NotFound(w, r)
		return
	}

	ctx := logctx.WithChargePoint(r.Context(), &logctx.ChargePointData{ID: cpid, RemoteAddr: r.RemoteAddr})

	if !websocket.IsWebSocketUpgrade(r) {
		s.log.WarnContext(ctx, "wsserver.handshake.not_websocket")
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}

	offered, chosen := s.negotiate(r)
	if chosen == "" {
		s.reject(ctx, w, r, offered)
		return
	}
	version := strings.ToLower(chosen)
	ctx = logctx.WithChargePoint(r.Context(), &logctx.ChargePointData{ID: cpid, ProtocolVersion: version, RemoteAddr: r.RemoteAddr})

	engOpts := []engine.Option{
		engine.WithProtocolVersion(version),
		engine.WithLogger(s.log),
	}
	if s.cfg.callTimeout != nil {
		engOpts = append(engOpts, engine.WithCallTimeout(*s.cfg.callTimeout))
	}
	e := engine.New(cpid, s.validator, engOpts...)
	for _, fn := range s.cfg.attach {
		fn(e)
	}

	user, pass, _ := r.BasicAuth()
	if err := e.ValidateConnection(ctx, user, pass); err != nil {
		s.log.WarnContext(ctx, "wsserver.handshake.rejected", slog.String("err", err.Error()))
		w.Header().Set("WWW-Authenticate", `Basic realm="ocpp"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	for _, fn := range s.cfg.handlers {
		fn(e)
	}

	ws, err := s.upgrader.Upgrade(w, r, http.Header{"Sec-Websocket-Protocol": {chosen}})
	if err != nil {
		// The upgrader has already answered the request.
		s.log.WarnContext(ctx, "wsserver.upgrade.fail", slog.String("err", err.Error()))
		return
	}
	ws.SetReadLimit(s.cfg.readLimit)

	c := newConn(ws, s.log, s.cfg.writeTimeout, s.cfg.pingInterval)
	if err := e.AttachTransport(c); err != nil {
		s.log.ErrorContext(ctx, "wsserver.attach.fail", slog.String("err", err.Error()))
		c.close(websocket.CloseInternalServerErr, "internal error")
		return
	}

	if !s.track(e, c) {
		c.close(websocket.CloseGoingAway, closeReasonShuttingDown)
		e.Close(nil)
		return
	}
	if prev := s.registry.Put(cpid, e); prev != nil {
		s.log.InfoContext(ctx, "wsserver.conn.replaced")
		s.closeEngine(prev, websocket.ClosePolicyViolation, closeReasonReplaced)
	}

	start := time.Now()
	s.log.InfoContext(ctx, "wsserver.conn.open")

	// Hijacked connections outlive the request context's usefulness.
	c.serve(context.WithoutCancel(ctx))

	s.registry.Delete(cpid, e)
	s.untrack(e)
	s.log.InfoContext(ctx, "wsserver.conn.closed",
		slog.Duration("duration", time.Since(start)),
		slog.Int("pending", e.Pending()))
}

// negotiate returns the offered protocols and the first offered one the
// server supports, as spelled by the client.
func (s *Server) negotiate(r *http.Request) (offered []string, chosen string) {
	offered = websocket.Subprotocols(r)
	for _, p := range offered {
		norm := strings.ToLower(strings.TrimSpace(p))
		for _, supported := range s.cfg.subprotocols {
			if norm == supported {
				return offered, strings.TrimSpace(p)
			}
		}
	}
	return offered, ""
}

// reject upgrades and closes with a protocol error, which is how charge
// points learn that no common OCPP version exists.
func (s *Server) reject(ctx context.Context, w http.ResponseWriter, r *http.Request, offered []string) {
	reason := closeReasonNoProtocol
	if len(offered) > 0 {
		reason = closeReasonUnsupported
	}
	s.log.WarnContext(ctx, "wsserver.handshake.no_protocol", slog.Any("offered", offered))

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := newConn(ws, s.log, s.cfg.writeTimeout, 0)
	c.close(websocket.CloseProtocolError, reason)
}

func (s *Server) track(e *engine.Engine, c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[e] = c
	return true
}

func (s *Server) untrack(e *engine.Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, e)
}

func (s *Server) closeEngine(e *engine.Engine, code int, reason string) {
	s.mu.Lock()
	c := s.conns[e]
	s.mu.Unlock()
	if c != nil {
		c.close(code, reason)
	}
}

// Close closes every open connection with 1001 and refuses new ones.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close(websocket.CloseGoingAway, closeReasonShuttingDown)
	}
	return nil
}
