package chat

import (
	"errors"
	"net"

	"PPRelay/tools/ids"
	"PPRelay/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// HandleWS upgrades the request and runs the connection's read loop until the
// peer goes away. Nothing read here can close the connection: bad frames are
// logged and skipped.
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already answered with an HTTP error
		s.log.Info("upgrade failed", zap.String("remote", c.Request.RemoteAddr), zap.Error(err))
		return
	}
	if s.opts.MaxMessageBytes > 0 {
		ws.SetReadLimit(s.opts.MaxMessageBytes)
	}

	conn := newWsConn(ids.ConnID(), ws, s.opts.SendQueueSize, s.connMgr.now(), s.log)
	s.connMgr.Add(conn)
	defer s.release(conn)

	safe.Go("ws-writer", func() { conn.writeLoop(s.opts.WriteTimeout, s.opts.PingInterval) })
	conn.log.Debug("connected")

	ctx := &ChatContext{S: s}
	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			logReadError(conn, rerr)
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		f, perr := ParseFrame(data)
		if perr != nil {
			conn.log.Warn("bad frame", zap.Error(perr), zap.String("sample", sample(data)), zap.Int("len", len(data)))
			continue
		}

		ok := safe.Run("frame-handler", func() {
			if herr := s.disp.Dispatch(ctx, f, conn); herr != nil {
				if ErrNoHandler.Is(herr) || ErrUnauthenticated.Is(herr) {
					conn.log.Debug("frame ignored", zap.String("type", f.Type), zap.Error(herr))
					return
				}
				conn.log.Warn("frame rejected", zap.String("type", f.Type), zap.Error(herr))
			}
		})
		if !ok {
			conn.log.Error("frame handler panicked", zap.String("type", f.Type))
		}
	}
}

func logReadError(conn *WsConn, err error) {
	var ne net.Error
	switch {
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	):
		conn.log.Debug("peer closed", zap.Error(err))
	case errors.Is(err, websocket.ErrReadLimit):
		conn.log.Warn("frame over size limit", zap.Error(err))
	case errors.As(err, &ne) && ne.Timeout():
		conn.log.Info("read timeout", zap.Error(err))
	default:
		conn.log.Debug("read ended", zap.Error(err))
	}
}
