package relay

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
	"PPRelay/tools/ids"
	"PPRelay/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const lookupTimeout = 2 * time.Second

// PresenceLookup answers which gateway a user is connected to across the
// cluster.
type PresenceLookup interface {
	Lookup(ctx context.Context, userID string) (gatewayID string, ok bool, err error)
}

type Options struct {
	GatewayID       string
	MaxMessageBytes int64
	Logger          *zap.Logger
}

// Server accepts relay connections from backends and routes every command
// they send. Nothing is ever written back to a backend besides a close frame
// on shutdown.
type Server struct {
	opts     Options
	disp     Dispatcher
	registry *presence.Registry
	upgrader websocket.Upgrader
	engine   *gin.Engine
	log      *zap.Logger

	mu      sync.Mutex
	lookup  PresenceLookup
	peers   map[string]*websocket.Conn
	httpSrv *http.Server
	ln      net.Listener
}

func NewServer(d Dispatcher, registry *presence.Registry, opts Options) *Server {
	s := &Server{
		opts:     opts,
		disp:     d,
		registry: registry,
		log:      logger.OrNamed(opts.Logger, "relay"),
		peers:    make(map[string]*websocket.Conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
			// backends are non-browser clients on a private listener
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), mid.AccessLog(s.log))

	mid.GET(r, "/", s.HandleRelay, mid.RouteOpt{})
	mid.GET(r, "/relay", s.HandleRelay, mid.RouteOpt{})
	r.GET("/healthz", func(c *gin.Context) {
		s.mu.Lock()
		peers := len(s.peers)
		s.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"gateway": s.opts.GatewayID, "peers": peers, "presence": s.registry.Len()})
	})
	r.GET("/presence/:userId", s.handlePresence)
	return r
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) SetLookup(l PresenceLookup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookup = l
}

func (s *Server) handlePresence(c *gin.Context) {
	userID := c.Param("userId")
	conn, local := s.registry.Resolve(userID)
	resp := gin.H{"userId": userID, "local": local && conn.IsOpen()}

	s.mu.Lock()
	l := s.lookup
	s.mu.Unlock()
	if l != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), lookupTimeout)
		defer cancel()
		gw, ok, err := l.Lookup(ctx, userID)
		switch {
		case err != nil:
			s.log.Warn("presence lookup failed", zap.String("user", userID), zap.Error(err))
			resp["clusterError"] = err.Error()
		case ok:
			resp["gateway"] = gw
		}
	}
	c.JSON(http.StatusOK, resp)
}

// HandleRelay upgrades a backend connection and routes each frame it sends.
// A malformed command is logged and dropped; the connection stays open.
func (s *Server) HandleRelay(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Info("relay upgrade failed", zap.String("remote", c.Request.RemoteAddr), zap.Error(err))
		return
	}
	if s.opts.MaxMessageBytes > 0 {
		ws.SetReadLimit(s.opts.MaxMessageBytes)
	}

	id := ids.GenerateString()
	log := s.log.With(zap.String("peer", id), zap.String("remote", ws.RemoteAddr().String()))
	s.addPeer(id, ws)
	defer func() {
		s.removePeer(id)
		_ = ws.Close()
		log.Info("backend disconnected")
	}()
	log.Info("backend connected")

	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if !websocket.IsCloseError(rerr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("relay read ended", zap.Error(rerr))
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		s.handleFrame(log, data)
	}
}

func (s *Server) handleFrame(log *zap.Logger, data []byte) {
	cmd, err := ParseCommand(data)
	if err != nil {
		log.Warn("bad relay command", zap.Error(err), zap.ByteString("sample", truncate(data)))
		return
	}
	safe.Run("relay-route", func() {
		n := Route(s.disp, cmd)
		log.Debug("relay command routed",
			zap.String("type", cmd.Type),
			zap.String("user", cmd.Target()),
			zap.Bool("broadcast", cmd.IsBroadcast()),
			zap.Int("delivered", n))
	})
}

func truncate(b []byte) []byte {
	if len(b) > 256 {
		return b[:256]
	}
	return b
}

func (s *Server) addPeer(id string, ws *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[id] = ws
}

func (s *Server) removePeer(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, id)
}

// Start binds addr (loopback unless configured otherwise) and serves in the
// background. A bind failure is returned to the caller.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errs.WrapMsg(err, "relay listen", "addr", addr)
	}
	srv := &http.Server{Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}

	s.mu.Lock()
	s.httpSrv, s.ln = srv, ln
	s.mu.Unlock()

	s.log.Info("relay endpoint listening", zap.String("addr", ln.Addr().String()))
	safe.Go("relay-http", func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("relay endpoint stopped", zap.Error(err))
		}
	})
	return nil
}

func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Shutdown stops the listener and closes every backend connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	peers := make([]*websocket.Conn, 0, len(s.peers))
	for _, ws := range s.peers {
		peers = append(peers, ws)
	}
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutdown")
	for _, ws := range peers {
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = ws.Close()
	}
	s.log.Info("relay endpoint shut down", zap.Int("peers", len(peers)))
	return err
}
