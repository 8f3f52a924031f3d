// Package notify is the HTTP face of a backend process: other services POST a
// relay command here and it is forwarded to the gateway.
package notify

import (
	"io"
	"net/http"

	"PPRelay/logger"
	mid "PPRelay/middleware"
	"PPRelay/service/relay"
	"PPRelay/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxBody = 64 << 10

// Deliverer forwards one command towards the gateway. Both the relay client
// and the NATS publisher implement it.
type Deliverer interface {
	Deliver(userID, eventType string, payload any) error
}

type Service struct {
	out Deliverer
	log *zap.Logger
}

func New(out Deliverer, log *zap.Logger) *Service {
	return &Service{out: out, log: logger.OrNamed(log, "notify")}
}

// Routes mounts POST /notify and GET /healthz on r.
func (s *Service) Routes(r gin.IRoutes) {
	mid.POST(r, "/notify", s.handleNotify, mid.RouteOpt{})
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
}

// Engine builds a standalone engine with recovery and access logging.
func (s *Service) Engine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), mid.AccessLog(s.log))
	s.Routes(r)
	return r
}

// handleNotify answers 202 for every well-formed command. Whether the user is
// online is never reported; a forwarding failure is only logged.
func (s *Service) handleNotify(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBody+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(body) > maxBody {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
		return
	}
	cmd, err := relay.ParseCommand(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": errs.Code(err)})
		return
	}

	if err := s.out.Deliver(cmd.Target(), cmd.Type, cmd.Payload); err != nil {
		s.log.Warn("forward failed",
			zap.String("type", cmd.Type),
			zap.String("user", cmd.Target()),
			zap.Error(err))
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true, "broadcast": cmd.IsBroadcast()})
}
