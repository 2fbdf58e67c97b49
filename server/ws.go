package server

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/navigatorvzhang/web-chatbot/codec"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const wsReadLimit = 1 << 20

// chatWS serves chat turns over a WebSocket connection.
// Each inbound message is one turn on its own worker invocation, and turns are answered in order.
// The reply is a codec.ChatReply on success or a codec.ErrorEnvelope on failure.
func (s *Server) chatWS(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		s.logger.Debugf("error accepting WebSocket conn: %s", err)
		return
	}
	conn.SetReadLimit(wsReadLimit)
	s.logger.Debug("accepted WebSocket conn")

	ctx := r.Context()
	for {
		var req codec.ChatRequest
		err := wsjson.Read(ctx, conn, &req)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure || websocket.CloseStatus(err) == websocket.StatusGoingAway {
			s.logger.Debug("got normal closure from client")
			return
		}
		if err != nil {
			s.logger.Debugf("WebSocket read error: %s", err)
			conn.Close(websocket.StatusInternalError, "read error")
			return
		}

		_, body := s.chatTurn(ctx, req)
		err = wsjson.Write(ctx, conn, body)
		if err != nil {
			s.logger.Debugf("WebSocket write error: %s", err)
			conn.Close(websocket.StatusInternalError, "write error")
			return
		}
	}
}
