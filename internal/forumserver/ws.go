package forumserver

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"forum-chat/internal/authutil"
)

// wsConn adapts a gorilla connection to the hub's transport interface.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) WriteMessage(data []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// websocketHandler authenticates, upgrades, and attaches the session to the
// hub. The read loop feeds inbound frames to the hub until the connection
// drops.
func (s *Server) websocketHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, err := authutil.ValidateToken(bearerToken(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("ws upgrade for user %d: %v", ident.UserID, err)
			return
		}
		s.metrics.WSUpgrades.Add(1)
		sess := s.hub.Register(ident.UserID, &wsConn{conn: conn})

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Printf("ws read from user %d: %v", ident.UserID, err)
				}
				s.hub.Unregister(sess)
				return
			}
			s.hub.HandleFrame(ident.UserID, data)
		}
	}
}
