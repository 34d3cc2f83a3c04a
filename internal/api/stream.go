package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/readaloud/internal/observe"
)

// handleStream upgrades to a websocket and sends the current state followed
// by one JSON message per state change. Slow clients skip intermediate
// states. The server never reads application messages; the client ends the
// stream by closing the socket.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		// Accept has already written the error response.
		log.Debug("api: websocket upgrade failed", "err", err)
		return
	}
	defer conn.CloseNow()

	states, cancel := s.reader.Subscribe()
	defer cancel()

	ctx := conn.CloseRead(r.Context())
	log.Debug("api: state stream opened")

	for {
		select {
		case <-ctx.Done():
			log.Debug("api: state stream closed by client")
			return
		case st, ok := <-states:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := wsjson.Write(wctx, conn, st)
			wcancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Warn("api: state stream write failed", "err", err)
				}
				return
			}
		}
	}
}
