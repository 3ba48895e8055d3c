// Package orchestrator coordinates one cycle per inbound message:
// load history, reconcile, complete, persist, emit.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aditya/relaychat/internal/metrics"
	"github.com/aditya/relaychat/pkg/completion"
	"github.com/aditya/relaychat/pkg/history"
	"github.com/aditya/relaychat/pkg/store"
)

// State tracks progress of one orchestration cycle.
type State int

const (
	StateReceived State = iota
	StateHistoryLoaded
	StateReconciled
	StateCompleted
	StatePersisted
	StateEmitted
	StateAborted
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateHistoryLoaded:
		return "history_loaded"
	case StateReconciled:
		return "reconciled"
	case StateCompleted:
		return "completed"
	case StatePersisted:
		return "persisted"
	case StateEmitted:
		return "emitted"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// ErrInvalidInput aborts a cycle on a missing session id or empty message.
// No external call is made and no reply is emitted.
var ErrInvalidInput = errors.New("invalid input")

// Inbound is one client message tied to a session.
type Inbound struct {
	SessionID string
	Message   string
}

// Outbound is the reply event carried back to the transport.
type Outbound struct {
	Message   string
	Timestamp time.Time
	Error     bool
	Blocked   bool
}

// Completer produces generated text or a degraded result for a turn sequence.
type Completer interface {
	Complete(ctx context.Context, turns []history.Turn, input string) completion.Result
	Configured() bool
	Model() string
}

// Config holds orchestrator dependencies.
type Config struct {
	Store      store.Store
	Fallback   *store.Fallback
	Reconciler history.Reconciler
	Completer  Completer
	Metrics    *metrics.Metrics
	Logger     zerolog.Logger
}

// Orchestrator runs the per-message conversation cycle.
type Orchestrator struct {
	store      store.Store
	fallback   *store.Fallback
	reconciler history.Reconciler
	completer  Completer
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	// Cycles for the same session id are serialized; concurrent
	// double-sends would otherwise race their load/append steps.
	locks   map[string]*sync.Mutex
	locksMu sync.Mutex
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Fallback == nil {
		return nil, fmt.Errorf("fallback buffer is required")
	}
	if cfg.Completer == nil {
		return nil, fmt.Errorf("completer is required")
	}

	return &Orchestrator{
		store:      cfg.Store,
		fallback:   cfg.Fallback,
		reconciler: cfg.Reconciler,
		completer:  cfg.Completer,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		locks:      make(map[string]*sync.Mutex),
	}, nil
}

// HandleMessage runs one orchestration cycle. It returns ErrInvalidInput for
// malformed payloads; every other failure path still yields a well-formed
// Outbound reply.
func (o *Orchestrator) HandleMessage(ctx context.Context, in Inbound) (Outbound, error) {
	start := time.Now()
	state := StateReceived

	if in.Message == "" || in.SessionID == "" {
		state = StateAborted
		o.logger.Warn().
			Str("session_id", in.SessionID).
			Str("state", state.String()).
			Msg("Rejected invalid message payload")
		o.countCycle("aborted")
		return Outbound{}, ErrInvalidInput
	}

	logger := o.logger.With().Str("session_id", in.SessionID).Logger()

	lock := o.sessionLock(in.SessionID)
	lock.Lock()
	defer lock.Unlock()

	// Load history, durable first. On any store failure the rest of this
	// request is served from the in-memory buffer.
	log, usingFallback := o.loadHistory(ctx, in.SessionID, logger)
	state = StateHistoryLoaded

	userMsg := store.Message{
		Role:      store.RoleUser,
		Content:   in.Message,
		Timestamp: time.Now(),
	}
	usingFallback = o.persist(ctx, in.SessionID, userMsg, usingFallback, logger)
	log = append(log, userMsg)

	turns := o.reconciler.Reconcile(log, in.Message)
	state = StateReconciled

	logger.Debug().
		Int("log_len", len(log)).
		Int("turns", len(turns)).
		Bool("fallback", usingFallback).
		Str("state", state.String()).
		Msg("History reconciled")

	callStart := time.Now()
	result := o.completer.Complete(ctx, turns, in.Message)
	state = StateCompleted

	if o.metrics != nil {
		o.metrics.CompletionCallDuration.Observe(time.Since(callStart).Seconds())
		o.metrics.CompletionCallsTotal.WithLabelValues(result.Kind.String()).Inc()
	}

	assistantMsg := store.Message{
		Role:      store.RoleAssistant,
		Content:   result.Text,
		Timestamp: time.Now(),
	}
	o.persist(ctx, in.SessionID, assistantMsg, usingFallback, logger)
	state = StatePersisted

	out := Outbound{
		Message:   result.Text,
		Timestamp: time.Now(),
		Error:     result.Degraded,
		Blocked:   result.Blocked,
	}
	state = StateEmitted

	status := "ok"
	if result.Degraded {
		status = "degraded"
	}
	o.countCycle(status)
	if o.metrics != nil {
		o.metrics.CycleDuration.Observe(time.Since(start).Seconds())
	}

	logger.Info().
		Str("state", state.String()).
		Str("status", status).
		Int("attempts", result.Attempts).
		Dur("elapsed", time.Since(start)).
		Msg("Cycle finished")

	return out, nil
}

// History returns the stored message log for a session. When the durable
// store cannot serve the request the result is empty; fallback history is
// never presented as durable record.
func (o *Orchestrator) History(ctx context.Context, sessionID string) ([]store.Message, error) {
	if sessionID == "" {
		return nil, ErrInvalidInput
	}

	sess, err := o.store.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return []store.Message{}, nil
		}
		if errors.Is(err, store.ErrUnavailable) {
			o.logger.Warn().
				Str("session_id", sessionID).
				Msg("Store unavailable, returning empty history")
			return []store.Message{}, nil
		}
		return nil, err
	}

	return sess.Messages, nil
}

// Health describes store connectivity and completion-capability availability.
type Health struct {
	Status            string    `json:"status"`
	DatabaseConnected bool      `json:"databaseConnected"`
	AIService         string    `json:"aiService"`
	Timestamp         time.Time `json:"timestamp"`
}

// Health reports the current operational snapshot. Read-only.
func (o *Orchestrator) Health() Health {
	ai := "not configured (check API key)"
	if o.completer.Configured() {
		ai = fmt.Sprintf("Gemini initialized (%s)", o.completer.Model())
	}

	return Health{
		Status:            "OK",
		DatabaseConnected: o.store.Healthy(),
		AIService:         ai,
		Timestamp:         time.Now().UTC(),
	}
}

// loadHistory loads the session log, switching to the fallback buffer when
// the durable store is unreachable.
func (o *Orchestrator) loadHistory(ctx context.Context, sessionID string, logger zerolog.Logger) ([]store.Message, bool) {
	start := time.Now()
	sess, err := o.store.Load(ctx, sessionID)
	if o.metrics != nil {
		o.metrics.SessionLoadDuration.Observe(time.Since(start).Seconds())
	}

	switch {
	case err == nil:
		return sess.Messages, false
	case errors.Is(err, store.ErrNotFound):
		// Sessions are created lazily on first message.
		return nil, false
	default:
		logger.Warn().Err(err).Msg("History load failed, using in-memory fallback")
		o.countFallback()
		return o.fallback.Recent(sessionID), true
	}
}

// persist appends one message durably when possible, else to the fallback
// buffer. Returns whether the remainder of the request runs on the fallback.
func (o *Orchestrator) persist(ctx context.Context, sessionID string, msg store.Message, usingFallback bool, logger zerolog.Logger) bool {
	if usingFallback {
		o.fallback.Append(sessionID, msg)
		return true
	}

	start := time.Now()
	err := o.store.Append(ctx, sessionID, msg)
	if o.metrics != nil {
		o.metrics.SessionSaveDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		logger.Warn().Err(err).Str("role", string(msg.Role)).Msg("Append failed, using in-memory fallback")
		o.countFallback()
		o.fallback.Append(sessionID, msg)
		return true
	}
	return false
}

func (o *Orchestrator) sessionLock(sessionID string) *sync.Mutex {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()

	if lock, exists := o.locks[sessionID]; exists {
		return lock
	}
	lock := &sync.Mutex{}
	o.locks[sessionID] = lock
	return lock
}

func (o *Orchestrator) countCycle(status string) {
	if o.metrics != nil {
		o.metrics.CyclesTotal.WithLabelValues(status).Inc()
	}
}

func (o *Orchestrator) countFallback() {
	if o.metrics != nil {
		o.metrics.StoreFallbacksTotal.Inc()
	}
}
