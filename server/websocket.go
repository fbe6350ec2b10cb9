package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

// wsConn serialises writes; gorilla connections allow one writer at a time.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ws := &wsConn{conn: conn}
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed", "error", err)
			}
			cancel()
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendWS(ws, Message{Type: "error", Content: "messages must be JSON"})
			continue
		}

		switch msg.Type {
		case "", "question", "chat":
		default:
			s.sendWS(ws, Message{Type: "error", Content: "unknown message type " + msg.Type})
			continue
		}

		wg.Add(1)
		go func(question string) {
			defer wg.Done()
			s.answerWS(ctx, ws, question)
		}(msg.Content)
	}
}

func (s *Server) answerWS(ctx context.Context, ws *wsConn, question string) {
	s.sendWS(ws, Message{Type: "status", Content: "searching documents"})

	ex, err := s.rag.Answer(ctx, strings.TrimSpace(question))
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		_, code := classify(err)
		s.sendWS(ws, Message{Type: "error", Content: err.Error(), Data: map[string]string{"code": code}})
		return
	}

	resp := newChatResponse(ex)
	s.sendWS(ws, Message{Type: "response", Content: resp.Answer, Data: resp.Citations})
}

func (s *Server) sendWS(ws *wsConn, msg Message) {
	if err := ws.send(msg); err != nil {
		s.logger.Debug("websocket send failed", "error", err)
	}
}
