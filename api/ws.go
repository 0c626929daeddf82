package api

import (
	"encoding/json"
	"net/http"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// handleWS upgrades the connection and streams hub events as JSON text
// frames. The session ends when the client closes or a write fails; a slow
// client only loses events, it never slows a job down.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	events, cancel := s.hub.Subscribe()
	s.logger.Debug("ws session started", "remote", conn.RemoteAddr())

	// Drain client frames so control frames (close, ping) are handled, and
	// unblock the writer when the peer goes away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := wsutil.ReadClientData(conn); err != nil {
				return
			}
		}
	}()

	go func() {
		defer func() {
			cancel()
			conn.Close()
			s.logger.Debug("ws session closed", "remote", conn.RemoteAddr())
		}()
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				data, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				if err := wsutil.WriteServerText(conn, data); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()
}
