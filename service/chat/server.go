package chat

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"PPRelay/logger"
	mid "PPRelay/middleware"
	"PPRelay/service/presence"
	"PPRelay/tools/errs"
	"PPRelay/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const mirrorTimeout = 2 * time.Second

// PresenceMirror publishes presence changes outside the process. Errors are
// logged and never affect the local registry.
type PresenceMirror interface {
	Online(ctx context.Context, userID string) error
	Offline(ctx context.Context, userID string) error
}

type Options struct {
	GatewayID       string
	MaxMessageBytes int64         // 0 = gorilla default (unlimited)
	SendQueueSize   int           // per-connection outbound queue
	WriteTimeout    time.Duration // per write; 0 = none
	PingInterval    time.Duration // 0 = no keepalive pings
	UnauthTTL       time.Duration // 0 = unauthenticated connections stay
	AllowedOrigins  []string      // empty = any origin
	PublicURL       string        // advertised on /ws-info
	Logger          *zap.Logger
}

func DefaultOptions() Options {
	return Options{
		MaxMessageBytes: 64 << 10,
		SendQueueSize:   256,
		WriteTimeout:    10 * time.Second,
	}
}

// Server is the client-facing WebSocket endpoint. It owns connection
// lifecycles and is the only writer to the presence registry.
type Server struct {
	opts     Options
	registry *presence.Registry
	connMgr  *ConnManager
	disp     *FrameDispatcher
	guards   *mid.MiddlewareManager
	upgrader websocket.Upgrader
	engine   *gin.Engine
	log      *zap.Logger

	mu      sync.Mutex
	mirror  PresenceMirror
	httpSrv *http.Server
	ln      net.Listener
}

func NewServer(registry *presence.Registry, opts Options) *Server {
	log := logger.OrNamed(opts.Logger, "chat")
	s := &Server{
		opts:     opts,
		registry: registry,
		connMgr:  NewConnManager(ManagerConf{UnauthTTL: opts.UnauthTTL}, log),
		disp:     NewDispatcher(),
		guards:   mid.NewManager(mid.Origin(opts.AllowedOrigins)),
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// origin is enforced by the route guard
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), mid.AccessLog(s.log))

	wsOpt := mid.RouteOpt{Guard: s.guards.Use()}
	mid.GET(r, "/", s.HandleWS, wsOpt)
	mid.GET(r, "/ws", s.HandleWS, wsOpt)
	r.GET("/healthz", s.handleHealth)
	r.GET("/ws-info", s.handleInfo)
	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	counts := s.connMgr.Counts()
	c.JSON(http.StatusOK, gin.H{
		"gateway":       s.opts.GatewayID,
		"connections":   s.connMgr.Len(),
		"authenticated": counts[StateAuthenticated],
		"presence":      s.registry.Len(),
	})
}

func (s *Server) handleInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"url": s.opts.PublicURL, "gateway": s.opts.GatewayID})
}

func (s *Server) Registry() *presence.Registry   { return s.registry }
func (s *Server) ConnMgr() *ConnManager          { return s.connMgr }
func (s *Server) Disp() *FrameDispatcher         { return s.disp }
func (s *Server) Guards() *mid.MiddlewareManager { return s.guards }
func (s *Server) Handler() http.Handler          { return s.engine }
func (s *Server) Logger() *zap.Logger            { return s.log }

func (s *Server) Register(h Handler) { s.disp.Register(h) }

func (s *Server) SetMirror(m PresenceMirror) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirror = m
}

func (s *Server) getMirror() PresenceMirror {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mirror
}

// BindUser authenticates conn as userID and binds it in the registry. It
// returns false when conn already authenticated or closed; the first auth wins.
func (s *Server) BindUser(conn *WsConn, userID string) bool {
	if !conn.authenticate(userID) {
		return false
	}
	if prev := s.registry.Bind(userID, conn); prev != nil && prev != presence.Conn(conn) {
		// the previous connection stays open but is no longer addressable
		s.log.Info("user rebound", zap.String("user", userID), zap.String("conn", conn.ID()), zap.String("replaced", prev.ID()))
	} else {
		s.log.Info("user bound", zap.String("user", userID), zap.String("conn", conn.ID()))
	}

	if m := s.getMirror(); m != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		if err := m.Online(ctx, userID); err != nil {
			s.log.Warn("presence mirror online failed", zap.String("user", userID), zap.Error(err))
		}
	}
	return true
}

// release runs once per connection after its read loop ends.
func (s *Server) release(conn *WsConn) {
	prev, userID := conn.markClosed()
	conn.shutdown()
	s.connMgr.Remove(conn.ID())

	if prev != StateAuthenticated {
		s.log.Debug("connection closed", zap.String("conn", conn.ID()), zap.Stringer("state", prev))
		return
	}
	if !s.registry.UnbindIfCurrent(userID, conn) {
		s.log.Info("connection closed, user already rebound", zap.String("user", userID), zap.String("conn", conn.ID()))
		return
	}
	s.log.Info("user unbound", zap.String("user", userID), zap.String("conn", conn.ID()))

	if m := s.getMirror(); m != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		if err := m.Offline(ctx, userID); err != nil {
			s.log.Warn("presence mirror offline failed", zap.String("user", userID), zap.Error(err))
		}
	}
}

// Start binds addr and serves in the background. A bind failure is returned
// to the caller.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errs.WrapMsg(err, "chat listen", "addr", addr)
	}
	srv := &http.Server{Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}

	s.mu.Lock()
	s.httpSrv, s.ln = srv, ln
	s.mu.Unlock()

	s.log.Info("client endpoint listening", zap.String("addr", ln.Addr().String()))
	safe.Go("chat-http", func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("client endpoint stopped", zap.Error(err))
		}
	})
	return nil
}

// Addr is the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Shutdown stops accepting connections and sends a going-away close frame to
// every live one.
func (s *Server) Shutdown(ctx context.Context) error {
	s.connMgr.Stop()

	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	n := s.connMgr.CloseAll(websocket.CloseGoingAway, "server shutdown")
	s.log.Info("client endpoint shut down", zap.Int("closed", n))
	return err
}
