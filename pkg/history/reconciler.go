// Package history turns an arbitrary stored message log into the strict
// alternating-turn sequence required by the completion service.
package history

import (
	"github.com/aditya/relaychat/pkg/store"
)

// Turn roles as the completion service expects them.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Turn is one entry of the alternating exchange presented to the completion
// service.
type Turn struct {
	Role string
	Text string
}

// DefaultWindow is how many trailing log entries are considered.
const DefaultWindow = 20

// Reconciler produces completion-ready turn sequences. Pure and
// deterministic: identical inputs always yield identical outputs.
type Reconciler struct {
	window int
}

// New creates a reconciler over the given trailing window.
func New(window int) Reconciler {
	if window <= 0 {
		window = DefaultWindow
	}
	return Reconciler{window: window}
}

// Reconcile transforms a raw message log plus the current user input into a
// turn sequence that either is empty or starts with a user turn, strictly
// alternates, and ends with a model turn. The current input itself is never
// part of the result; it is passed to the completion call separately.
func (r Reconciler) Reconcile(log []store.Message, input string) []Turn {
	// Most recent W entries, malformed ones dropped.
	start := 0
	if len(log) > r.window {
		start = len(log) - r.window
	}

	window := make([]store.Message, 0, len(log)-start)
	for _, msg := range log[start:] {
		if msg.Valid() {
			window = append(window, msg)
		}
	}

	// A window that opens mid-answer is not a valid initial turn: drop
	// everything before the first user entry. No user entry means no
	// usable history at all.
	firstUser := -1
	for i, msg := range window {
		if msg.Role == store.RoleUser {
			firstUser = i
			break
		}
	}
	if firstUser < 0 {
		return nil
	}
	window = window[firstUser:]

	// Map to completion-service roles, enforcing strict alternation by
	// keeping only the first entry of any same-role run.
	var turns []Turn
	for _, msg := range window {
		role := RoleUser
		if msg.Role == store.RoleAssistant {
			role = RoleModel
		}
		if len(turns) > 0 && turns[len(turns)-1].Role == role {
			continue
		}
		turns = append(turns, Turn{Role: role, Text: msg.Content})
	}

	// The current input is always passed separately as the final prompt;
	// exclude it when it was already appended to the log.
	if n := len(turns); n > 0 && turns[n-1].Role == RoleUser && turns[n-1].Text == input {
		turns = turns[:n-1]
	}

	// A dangling unanswered user turn cannot precede the current prompt.
	if n := len(turns); n > 0 && turns[n-1].Role == RoleUser {
		turns = turns[:n-1]
	}

	if len(turns) == 0 {
		return nil
	}

	// Fail safe, not fail loud: a sequence that still opens wrong is
	// cleared rather than rejected.
	if turns[0].Role != RoleUser || turns[len(turns)-1].Role != RoleModel {
		return nil
	}

	return turns
}
