// Package gateway is the WebSocket transport in front of the session
// orchestrator.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/aditya/relaychat/internal/metrics"
	"github.com/aditya/relaychat/pkg/orchestrator"
	"github.com/aditya/relaychat/pkg/store"
)

// Relay is the orchestrator surface the transport depends on.
type Relay interface {
	HandleMessage(ctx context.Context, in orchestrator.Inbound) (orchestrator.Outbound, error)
	History(ctx context.Context, sessionID string) ([]store.Message, error)
	Health() orchestrator.Health
}

// Config holds server configuration
type Config struct {
	Port         int
	Host         string
	ClientOrigin string // empty allows any origin
	Relay        Relay
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger
}

// Server accepts WebSocket connections and routes chat events to the relay.
type Server struct {
	port         int
	host         string
	clientOrigin string
	relay        Relay
	metrics      *metrics.Metrics
	logger       zerolog.Logger

	server         *http.Server
	upgrader       websocket.Upgrader
	clients        *ClientRegistry
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// NewServer creates a new transport server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Relay == nil {
		return nil, fmt.Errorf("relay is required")
	}

	s := &Server{
		port:         cfg.Port,
		host:         cfg.Host,
		clientOrigin: cfg.ClientOrigin,
		relay:        cfg.Relay,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		clients:      NewClientRegistry(),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if s.clientOrigin == "" {
				return true
			}
			return r.Header.Get("Origin") == s.clientOrigin
		},
	}

	return s, nil
}

// Handler returns the HTTP handler serving /ws, /api/health and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

// Start starts the transport server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.host, s.port),
		Handler: s.Handler(),
	}

	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting relay server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Relay server error")
		}
	}()

	return nil
}

// Stop gracefully stops the transport server
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down relay server")

	// Wait for in-flight requests with timeout
	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	// Close all client connections
	for _, client := range s.clients.GetAll() {
		client.Conn.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Relay server stopped")
	return nil
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  time.Now(),
		LastActivity: time.Now(),
		IPAddress:    r.RemoteAddr,
	}

	s.clients.Add(client)
	if s.metrics != nil {
		s.metrics.ClientsConnected.Set(float64(s.clients.Count()))
	}

	s.logger.Info().
		Str("client_id", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	go s.handleClient(client)
}

// handleClient reads frames from a client until disconnect
func (s *Server) handleClient(client *Client) {
	defer func() {
		client.Conn.Close()
		s.clients.Remove(client.ID)
		if s.metrics != nil {
			s.metrics.ClientsConnected.Set(float64(s.clients.Count()))
		}
		s.logger.Info().Str("client_id", client.ID).Msg("Client disconnected")
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("client_id", client.ID).Msg("WebSocket error")
			}
			break
		}

		client.LastActivity = time.Now()
		s.handleFrame(client, message)
	}
}

// handleFrame dispatches a single inbound frame
func (s *Server) handleFrame(client *Client, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		s.logger.Warn().
			Err(err).
			Str("client_id", client.ID).
			Msg("Dropping unparseable frame")
		return
	}

	switch frame.Event {
	case EventMessage:
		s.handleChatMessage(client, frame.Data)
	case EventGetHistory:
		s.handleGetHistory(client, frame.Data)
	default:
		s.logger.Warn().
			Str("client_id", client.ID).
			Str("event", frame.Event).
			Msg("Unknown event")
	}
}

// handleChatMessage runs one orchestration cycle for an inbound message.
// Malformed payloads are logged and dropped; no reply is sent for them.
func (s *Server) handleChatMessage(client *Client, data []byte) {
	if err := validateMessagePayload(data); err != nil {
		s.logger.Warn().
			Err(err).
			Str("client_id", client.ID).
			Msg("Rejected invalid message data")
		return
	}

	var payload MessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.logger.Warn().Err(err).Str("client_id", client.ID).Msg("Rejected invalid message data")
		return
	}

	if s.metrics != nil {
		s.metrics.MessagesReceivedTotal.Inc()
	}

	s.inFlightReqs.Add(1)
	go func() {
		defer s.inFlightReqs.Done()

		out, err := s.relay.HandleMessage(context.Background(), orchestrator.Inbound{
			SessionID: payload.SessionID,
			Message:   payload.Message,
		})
		if err != nil {
			// Per observed contract, aborted cycles do not produce a
			// client-visible reply.
			s.logger.Warn().
				Err(err).
				Str("client_id", client.ID).
				Str("session_id", payload.SessionID).
				Msg("Message handling aborted")
			return
		}

		resp := BotResponse{
			Message:   out.Message,
			Timestamp: out.Timestamp.UTC().Format(time.RFC3339),
			Error:     out.Error,
			Blocked:   out.Blocked,
		}
		if err := client.WriteFrame(EventBotResponse, resp); err != nil {
			s.logger.Error().
				Err(err).
				Str("client_id", client.ID).
				Msg("Failed to send response")
			return
		}
		if s.metrics != nil {
			s.metrics.RepliesSentTotal.Inc()
		}
	}()
}

// handleGetHistory returns the stored message log for a session
func (s *Server) handleGetHistory(client *Client, data []byte) {
	var payload HistoryPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.SessionID == "" {
		// The original client also sends the session id as a bare string.
		var sessionID string
		if err := json.Unmarshal(data, &sessionID); err != nil || sessionID == "" {
			s.logger.Warn().Str("client_id", client.ID).Msg("Rejected invalid history request")
			return
		}
		payload.SessionID = sessionID
	}

	s.inFlightReqs.Add(1)
	go func() {
		defer s.inFlightReqs.Done()

		messages, err := s.relay.History(context.Background(), payload.SessionID)
		if err != nil {
			s.logger.Error().
				Err(err).
				Str("session_id", payload.SessionID).
				Msg("Failed to fetch history")
			messages = []store.Message{}
		}

		if err := client.WriteFrame(EventChatHistory, messages); err != nil {
			s.logger.Error().
				Err(err).
				Str("client_id", client.ID).
				Msg("Failed to send history")
		}
	}()
}

// handleHealth serves the operational status snapshot
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(s.relay.Health()); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode health response")
	}
}
