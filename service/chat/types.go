package chat

// FrameAuth is the only inbound frame type this server interprets itself.
const FrameAuth = "auth"

// Handler processes one inbound frame type.
type Handler interface {
	Type() string
	// RequiresAuth drops frames arriving before the connection authenticated.
	RequiresAuth() bool
	Handle(*ChatContext, *Frame, *WsConn) error
}

type ChatContext struct {
	S *Server
}
