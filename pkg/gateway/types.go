package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event names on the socket.
const (
	EventMessage     = "message"
	EventGetHistory  = "getChatHistory"
	EventBotResponse = "botResponse"
	EventChatHistory = "chatHistory"
)

// Frame is one JSON message on the socket, inbound or outbound.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// MessagePayload is the data of an inbound "message" frame.
type MessagePayload struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

// HistoryPayload is the data of an inbound "getChatHistory" frame.
type HistoryPayload struct {
	SessionID string `json:"sessionId"`
}

// BotResponse is the data of an outbound "botResponse" frame.
type BotResponse struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Error     bool   `json:"error"`
	Blocked   bool   `json:"blocked,omitempty"`
}

// Client represents a connected WebSocket client
type Client struct {
	ID           string
	Conn         *websocket.Conn
	ConnectedAt  time.Time
	LastActivity time.Time
	IPAddress    string

	writeMu sync.Mutex
}

// WriteFrame sends one frame to the client. Safe for concurrent use.
func (c *Client) WriteFrame(event string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteJSON(Frame{Event: event, Data: raw})
}
