// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"grimm.is/netwarden/internal/store"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is token-guarded; browser origin checks add nothing here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleFindingsWS(w http.ResponseWriter, r *http.Request) {
	s.serveStream(w, r, s.cfg.Store.SubscribeFindings())
}

func (s *Server) handleAlertsWS(w http.ResponseWriter, r *http.Request) {
	s.serveStream(w, r, s.cfg.Store.SubscribeAlerts())
}

// serveStream pumps hub messages to one websocket client. A write
// failure or client disconnect unsubscribes and closes the socket.
func (s *Server) serveStream(w http.ResponseWriter, r *http.Request, sub *store.Subscriber) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()
	defer sub.Close()

	// Read pump: drains control frames and detects disconnects.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.logger.Debug("websocket write failed, dropping subscriber", "remote", r.RemoteAddr, "error", err)
				return
			}
		}
	}
}
