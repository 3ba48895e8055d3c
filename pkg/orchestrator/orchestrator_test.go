package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aditya/relaychat/pkg/completion"
	"github.com/aditya/relaychat/pkg/history"
	"github.com/aditya/relaychat/pkg/store"
)

// memStore is an in-memory Store whose failure modes can be toggled per call.
type memStore struct {
	mu       sync.Mutex
	sessions map[string][]store.Message
	loadErr  error
	saveErr  error
	healthy  bool
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string][]store.Message), healthy: true}
}

func (m *memStore) Load(_ context.Context, sessionID string) (*store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	msgs, ok := m.sessions[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := make([]store.Message, len(msgs))
	copy(out, msgs)
	return &store.Session{SessionID: sessionID, Messages: out}, nil
}

func (m *memStore) Append(_ context.Context, sessionID string, msg store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.sessions[sessionID] = append(m.sessions[sessionID], msg)
	return nil
}

func (m *memStore) Healthy() bool { return m.healthy }
func (m *memStore) Close() error  { return nil }

func (m *memStore) messages(sessionID string) []store.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Message(nil), m.sessions[sessionID]...)
}

// fixedCompleter returns a canned result and records what it saw.
type fixedCompleter struct {
	mu         sync.Mutex
	result     completion.Result
	configured bool
	calls      int
	lastTurns  []history.Turn
	lastInput  string
}

func (c *fixedCompleter) Complete(_ context.Context, turns []history.Turn, input string) completion.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.lastTurns = turns
	c.lastInput = input
	return c.result
}

func (c *fixedCompleter) Configured() bool { return c.configured }
func (c *fixedCompleter) Model() string    { return "test-model" }

func newTestOrchestrator(t *testing.T, st store.Store, c Completer) *Orchestrator {
	t.Helper()

	o, err := New(Config{
		Store:      st,
		Fallback:   store.NewFallback(store.DefaultFallbackCapacity),
		Reconciler: history.New(history.DefaultWindow),
		Completer:  c,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)
	return o
}

func TestNew(t *testing.T) {
	t.Run("should require a store", func(t *testing.T) {
		_, err := New(Config{Fallback: store.NewFallback(0), Completer: &fixedCompleter{}})
		assert.Error(t, err)
	})

	t.Run("should require a fallback buffer", func(t *testing.T) {
		_, err := New(Config{Store: newMemStore(), Completer: &fixedCompleter{}})
		assert.Error(t, err)
	})

	t.Run("should require a completer", func(t *testing.T) {
		_, err := New(Config{Store: newMemStore(), Fallback: store.NewFallback(0)})
		assert.Error(t, err)
	})
}

func TestHandleMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("should complete the full cycle for a first message", func(t *testing.T) {
		st := newMemStore()
		c := &fixedCompleter{result: completion.Result{Text: "Hello!", Attempts: 1}, configured: true}
		o := newTestOrchestrator(t, st, c)

		out, err := o.HandleMessage(ctx, Inbound{SessionID: "s1", Message: "Hi"})
		require.NoError(t, err)

		assert.Equal(t, "Hello!", out.Message)
		assert.False(t, out.Error)
		assert.False(t, out.Blocked)
		assert.False(t, out.Timestamp.IsZero())

		// First cycle has no usable history.
		assert.Empty(t, c.lastTurns)
		assert.Equal(t, "Hi", c.lastInput)

		msgs := st.messages("s1")
		require.Len(t, msgs, 2)
		assert.Equal(t, store.RoleUser, msgs[0].Role)
		assert.Equal(t, "Hi", msgs[0].Content)
		assert.Equal(t, store.RoleAssistant, msgs[1].Role)
		assert.Equal(t, "Hello!", msgs[1].Content)
	})

	t.Run("should abort without calling the completer on invalid input", func(t *testing.T) {
		c := &fixedCompleter{result: completion.Result{Text: "never"}}
		o := newTestOrchestrator(t, newMemStore(), c)

		_, err := o.HandleMessage(ctx, Inbound{SessionID: "", Message: "Hi"})
		assert.ErrorIs(t, err, ErrInvalidInput)

		_, err = o.HandleMessage(ctx, Inbound{SessionID: "s1", Message: ""})
		assert.ErrorIs(t, err, ErrInvalidInput)

		assert.Zero(t, c.calls)
	})

	t.Run("should feed prior exchanges to the completer", func(t *testing.T) {
		st := newMemStore()
		c := &fixedCompleter{result: completion.Result{Text: "a"}, configured: true}
		o := newTestOrchestrator(t, st, c)

		_, err := o.HandleMessage(ctx, Inbound{SessionID: "s1", Message: "first"})
		require.NoError(t, err)
		_, err = o.HandleMessage(ctx, Inbound{SessionID: "s1", Message: "second"})
		require.NoError(t, err)

		require.Len(t, c.lastTurns, 2)
		assert.Equal(t, history.Turn{Role: history.RoleUser, Text: "first"}, c.lastTurns[0])
		assert.Equal(t, history.Turn{Role: history.RoleModel, Text: "a"}, c.lastTurns[1])
		assert.Equal(t, "second", c.lastInput)
	})

	t.Run("should serve from the fallback buffer when the store is down", func(t *testing.T) {
		st := newMemStore()
		st.loadErr = store.ErrUnavailable
		st.saveErr = store.ErrUnavailable
		c := &fixedCompleter{result: completion.Result{Text: "still here"}, configured: true}
		o := newTestOrchestrator(t, st, c)

		out, err := o.HandleMessage(ctx, Inbound{SessionID: "s1", Message: "Hi"})
		require.NoError(t, err)

		// A store outage alone does not degrade the reply.
		assert.Equal(t, "still here", out.Message)
		assert.False(t, out.Error)

		// Second message in the outage sees the buffered exchange.
		_, err = o.HandleMessage(ctx, Inbound{SessionID: "s1", Message: "again"})
		require.NoError(t, err)
		require.Len(t, c.lastTurns, 2)
		assert.Equal(t, "Hi", c.lastTurns[0].Text)
	})

	t.Run("should never merge fallback history into the durable store", func(t *testing.T) {
		st := newMemStore()
		st.loadErr = store.ErrUnavailable
		st.saveErr = store.ErrUnavailable
		c := &fixedCompleter{result: completion.Result{Text: "ok"}, configured: true}
		o := newTestOrchestrator(t, st, c)

		_, err := o.HandleMessage(ctx, Inbound{SessionID: "s1", Message: "while down"})
		require.NoError(t, err)

		// Store recovers.
		st.mu.Lock()
		st.loadErr = nil
		st.saveErr = nil
		st.mu.Unlock()

		_, err = o.HandleMessage(ctx, Inbound{SessionID: "s1", Message: "after recovery"})
		require.NoError(t, err)

		msgs := st.messages("s1")
		require.Len(t, msgs, 2)
		assert.Equal(t, "after recovery", msgs[0].Content)
	})

	t.Run("should pass degraded results through as error replies", func(t *testing.T) {
		c := &fixedCompleter{result: completion.Result{
			Text:     completion.FailureTransient.UserMessage(),
			Degraded: true,
			Kind:     completion.FailureTransient,
		}}
		st := newMemStore()
		o := newTestOrchestrator(t, st, c)

		out, err := o.HandleMessage(ctx, Inbound{SessionID: "s1", Message: "Hi"})
		require.NoError(t, err)

		assert.True(t, out.Error)
		assert.Equal(t, completion.FailureTransient.UserMessage(), out.Message)

		// The degraded text is persisted as the assistant turn.
		msgs := st.messages("s1")
		require.Len(t, msgs, 2)
		assert.Equal(t, completion.FailureTransient.UserMessage(), msgs[1].Content)
	})

	t.Run("should flag safety-blocked replies", func(t *testing.T) {
		c := &fixedCompleter{result: completion.Result{
			Text:     completion.FailureBlocked.UserMessage(),
			Degraded: true,
			Blocked:  true,
			Kind:     completion.FailureBlocked,
		}}
		o := newTestOrchestrator(t, newMemStore(), c)

		out, err := o.HandleMessage(ctx, Inbound{SessionID: "s1", Message: "Hi"})
		require.NoError(t, err)

		assert.True(t, out.Error)
		assert.True(t, out.Blocked)
	})

	t.Run("should serialize concurrent cycles for the same session", func(t *testing.T) {
		st := newMemStore()
		c := &fixedCompleter{result: completion.Result{Text: "r"}, configured: true}
		o := newTestOrchestrator(t, st, c)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := o.HandleMessage(ctx, Inbound{SessionID: "s1", Message: "ping"})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		// Each cycle persisted exactly one user and one assistant turn.
		assert.Len(t, st.messages("s1"), 20)
	})
}

func TestHistory(t *testing.T) {
	ctx := context.Background()

	t.Run("should reject an empty session id", func(t *testing.T) {
		o := newTestOrchestrator(t, newMemStore(), &fixedCompleter{})
		_, err := o.History(ctx, "")
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("should return empty history for an unknown session", func(t *testing.T) {
		o := newTestOrchestrator(t, newMemStore(), &fixedCompleter{})

		msgs, err := o.History(ctx, "nope")
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("should return the stored log", func(t *testing.T) {
		st := newMemStore()
		st.sessions["s1"] = []store.Message{
			{Role: store.RoleUser, Content: "Hi", Timestamp: time.Now()},
			{Role: store.RoleAssistant, Content: "Hello!", Timestamp: time.Now()},
		}
		o := newTestOrchestrator(t, st, &fixedCompleter{})

		msgs, err := o.History(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "Hi", msgs[0].Content)
	})

	t.Run("should return empty history while the store is down", func(t *testing.T) {
		st := newMemStore()
		st.loadErr = store.ErrUnavailable
		o := newTestOrchestrator(t, st, &fixedCompleter{})

		msgs, err := o.History(ctx, "s1")
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})
}

func TestHealth(t *testing.T) {
	t.Run("should report a configured completion capability", func(t *testing.T) {
		o := newTestOrchestrator(t, newMemStore(), &fixedCompleter{configured: true})

		h := o.Health()
		assert.Equal(t, "OK", h.Status)
		assert.True(t, h.DatabaseConnected)
		assert.Equal(t, "Gemini initialized (test-model)", h.AIService)
		assert.False(t, h.Timestamp.IsZero())
	})

	t.Run("should report a missing completion capability", func(t *testing.T) {
		st := newMemStore()
		st.healthy = false
		o := newTestOrchestrator(t, st, &fixedCompleter{configured: false})

		h := o.Health()
		assert.False(t, h.DatabaseConnected)
		assert.Equal(t, "not configured (check API key)", h.AIService)
	})
}
