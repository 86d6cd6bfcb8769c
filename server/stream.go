package server

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamMessage is one server-to-client websocket message.
type StreamMessage struct {
	Type  string `json:"type"` // "output", "result" or "error"
	Line  string `json:"line,omitempty"`
	Run   *Run   `json:"run,omitempty"`
	Error string `json:"error,omitempty"`
}

// handleStream serves GET /api/v1/stream. The client sends one
// ExecuteRequest; the server answers with an "output" message per printed
// line and a final "result" (or "error") message, then closes.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warningf("websocket upgrade: %s", err)
		return
	}
	defer conn.Close()

	_, data, err := conn.ReadMessage()
	if err != nil {
		log.Warningf("websocket read: %s", err)
		return
	}
	var req ExecuteRequest
	if err := json.Unmarshal(data, &req); err != nil {
		writeStream(conn, StreamMessage{Type: "error", Error: "bad request: " + err.Error()})
		return
	}

	// Lines are written from the pool goroutine while this one waits in
	// run, so there is only ever one writer.
	var writeErr error
	onOutput := func(line string) {
		if writeErr == nil {
			writeErr = writeStream(conn, StreamMessage{Type: "output", Line: line})
		}
	}
	run, err := s.run(r.Context(), &req, onOutput)
	if err != nil {
		writeStream(conn, StreamMessage{Type: "error", Error: err.Error()})
		return
	}
	if writeErr != nil {
		log.Warningf("websocket write: %s", writeErr)
		return
	}
	writeStream(conn, StreamMessage{Type: "result", Run: run})
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func writeStream(conn *websocket.Conn, msg StreamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
