// Package transcript maintains the client-visible conversation during an
// in-flight turn: optimistic append on submit, incremental growth of the
// trailing assistant message, full rollback on failure.
package transcript

import (
	"errors"

	"github.com/laborare/docchat/internal/model/chat"
	"github.com/laborare/docchat/pkg/sse"
)

// ErrTurnInFlight rejects a second submit while one turn is pending.
var ErrTurnInFlight = errors.New("transcript: a turn is already in flight")

// State of the view's turn machine.
type State int

const (
	// StateIdle means the view mirrors server-persisted state.
	StateIdle State = iota
	// StatePending means an optimistic turn awaits its outcome.
	StatePending
)

// View is one conversation as the client sees it. It holds a transient,
// possibly ahead-of-store transcript that reconciles to the server's
// result or rolls back on failure.
type View struct {
	sessionID string
	messages  []chat.Message
	state     State

	draft        string
	messageCount int
}

// NewView builds a view over an existing session's messages. An empty
// sessionID means the first turn will lazily create the session and the
// id arrives with the completion event.
func NewView(sessionID string, history []chat.Message) *View {
	messages := make([]chat.Message, len(history))
	copy(messages, history)
	return &View{sessionID: sessionID, messages: messages}
}

// Submit optimistically appends the user message and an empty assistant
// placeholder, keeping the raw input for restoration on failure.
func (v *View) Submit(input string) error {
	if v.state == StatePending {
		return ErrTurnInFlight
	}

	v.draft = input
	v.messages = append(v.messages,
		chat.Message{Role: chat.RoleUser, Content: input},
		chat.Message{Role: chat.RoleAssistant},
	)
	v.state = StatePending
	return nil
}

// Apply folds one downstream frame into the view.
func (v *View) Apply(frame sse.Frame) {
	switch {
	case frame.Error != "":
		v.Fail()
	case frame.Done:
		v.Complete(frame.SessionID, frame.MessageCount)
	case frame.Content != "":
		v.ApplyDelta(frame.Content)
	}
}

// ApplyDelta grows the assistant placeholder. Content only ever extends,
// never shrinks, while the turn is pending.
func (v *View) ApplyDelta(content string) {
	if v.state != StatePending {
		return
	}
	v.messages[len(v.messages)-1].Content += content
}

// Complete settles the pending turn in place. The server's message count
// is retained for diagnostics only; a lazily created session id is adopted
// so the next turn reuses it.
func (v *View) Complete(sessionID string, messageCount int) {
	if v.state != StatePending {
		return
	}
	if sessionID != "" {
		v.sessionID = sessionID
	}
	v.messageCount = messageCount
	v.draft = ""
	v.state = StateIdle
}

// Fail rolls the view back to its pre-submission state, removing both
// optimistic messages. The submitted input stays available via Draft for
// resubmission.
func (v *View) Fail() {
	if v.state != StatePending {
		return
	}
	v.messages = v.messages[:len(v.messages)-2]
	v.state = StateIdle
}

// Messages returns a copy of the visible transcript.
func (v *View) Messages() []chat.Message {
	out := make([]chat.Message, len(v.messages))
	copy(out, v.messages)
	return out
}

// SessionID returns the session this view tracks, possibly adopted from a
// lazy create.
func (v *View) SessionID() string {
	return v.sessionID
}

// Draft returns the input to restore after a failed turn.
func (v *View) Draft() string {
	return v.draft
}

// State reports whether a turn is in flight.
func (v *View) State() State {
	return v.state
}

// MessageCount returns the count reported by the last completion event.
func (v *View) MessageCount() int {
	return v.messageCount
}
