package handlers

import "PPRelay/service/chat"

// RegisterDefaults installs the handlers every gateway needs.
func RegisterDefaults(s *chat.Server) {
	s.Register(NewAuthHandler(s.Logger().Named("auth")))
}
