package api

import (
	"net/http"

	"github.com/google/uuid"

	"nir-backend/internal/session"
)

// handleSimulation upgrades to a websocket and serves one streaming session
// until the client leaves or the server shuts down.
func (s *Server) handleSimulation() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already replied with an HTTP error
			s.logger.Warnw("API: websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		conn.SetReadLimit(maxMessageBytes)

		id := uuid.NewString()
		sess := session.New(id, conn, s.engine, session.Options{
			Defaults: s.config.Defaults,
			Sink:     s.sink,
			Metrics:  s.metrics,
			Logger:   s.logger,
		})

		s.logger.Infow("API: simulation client connected", "session", id, "remote", r.RemoteAddr)
		if err := s.registry.Serve(s.ctx, sess); err != nil && s.ctx.Err() == nil {
			s.logger.Warnw("API: session ended with error", "session", id, "error", err)
		}
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
