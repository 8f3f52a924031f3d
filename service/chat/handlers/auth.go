package handlers

import (
	"PPRelay/service/chat"

	"go.uber.org/zap"
)

// AuthHandler binds a connection to the user id named in its first auth frame.
// The id is trusted as sent: verifying it is the job of whoever issues it.
type AuthHandler struct{ log *zap.Logger }

func NewAuthHandler(log *zap.Logger) chat.Handler { return &AuthHandler{log: log} }

func (h *AuthHandler) Type() string       { return chat.FrameAuth }
func (h *AuthHandler) RequiresAuth() bool { return false }

func (h *AuthHandler) Handle(ctx *chat.ChatContext, f *chat.Frame, conn *chat.WsConn) error {
	ap, err := chat.ExtractAuthPayload(f)
	if err != nil {
		return err
	}
	if !ctx.S.BindUser(conn, ap.UserID) {
		h.log.Debug("auth ignored", zap.String("conn", conn.ID()),
			zap.String("user", ap.UserID), zap.Stringer("state", conn.State()))
	}
	return nil
}
